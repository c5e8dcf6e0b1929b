package ingest

import (
	"fmt"

	"github.com/cuber-it/heinzel-ki/model"
)

type (
	// Extractor converts one binary document into a single TextBlock. On
	// failure it returns a TextBlock carrying the error message, it never
	// fails the request.
	Extractor func(data []byte, filename string) model.TextBlock

	// Kind names an extractor slot in the registry.
	Kind string

	// Processor routes non-native formats to registered extractors. The
	// zero value uses the built-in placeholders, which report that no
	// extractor is installed.
	Processor struct {
		extractors map[Kind]Extractor
	}
)

// Extractor slots.
const (
	ExtractPDF  Kind = "pdf"
	ExtractDOCX Kind = "docx"
	ExtractXLSX Kind = "xlsx"
	ExtractPPTX Kind = "pptx"
)

var kindLabels = map[Kind]string{
	ExtractPDF:  "PDF",
	ExtractDOCX: "Word document",
	ExtractXLSX: "Excel workbook",
	ExtractPPTX: "PowerPoint presentation",
}

// NewProcessor builds a processor with the built-in placeholder extractors.
func NewProcessor() *Processor {
	return &Processor{extractors: make(map[Kind]Extractor)}
}

// Register installs an extractor for kind, replacing any previous one.
func (p *Processor) Register(kind Kind, ex Extractor) {
	if p.extractors == nil {
		p.extractors = make(map[Kind]Extractor)
	}
	p.extractors[kind] = ex
}

func (p *Processor) extract(kind Kind, data []byte, filename string) model.TextBlock {
	if p != nil && p.extractors != nil {
		if ex, ok := p.extractors[kind]; ok {
			return ex(data, filename)
		}
	}
	return model.TextBlock{Text: fmt.Sprintf(
		"[%s] No %s extractor installed, content cannot be converted to text.",
		filename, kindLabels[kind])}
}

// ExtractPDFText runs the registered PDF extractor (or its placeholder).
// Used by providers without native PDF support to pre-adapt document blocks.
func (p *Processor) ExtractPDFText(data []byte, filename string) model.TextBlock {
	return p.extract(ExtractPDF, data, filename)
}
