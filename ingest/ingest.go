// Package ingest converts uploaded files into canonical content blocks.
// Each provider declares the MIME types it handles natively as binary
// blocks; everything else is rendered as text where possible. Conversion
// never fails a request: unreadable input yields an explanatory TextBlock.
package ingest

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cuber-it/heinzel-ki/model"
)

// MIME type a blob falls back to when none was supplied.
const defaultMIME = "application/octet-stream"

var nativeImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// providerNativePDF lists the providers that accept PDF as a binary block.
var providerNativePDF = map[string]bool{
	"anthropic": true,
	"google":    true,
}

var textMIMETypes = map[string]bool{
	"text/plain":             true,
	"text/html":              true,
	"text/markdown":          true,
	"text/csv":               true,
	"text/xml":               true,
	"application/xml":        true,
	"application/json":       true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"text/yaml":              true,
	"text/x-python":          true,
	"text/x-java-source":     true,
	"text/x-c":               true,
	"text/x-c++":             true,
	"text/x-shellscript":     true,
	"application/x-sh":       true,
	"text/x-sql":             true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true,
	".xml": true, ".html": true, ".htm": true, ".svg": true,
	".csv": true, ".tsv": true,
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".vue": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".cs": true,
	".go": true, ".rs": true, ".rb": true, ".php": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true,
	".sql": true, ".graphql": true,
	".log": true, ".env": true,
}

var unsupportedPrefixes = []string{
	"video/", "audio/",
	"application/octet-stream",
	"application/x-executable",
}

// DOCX/XLSX/PPTX MIME types and their legacy equivalents.
const (
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC  = "application/msword"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeXLS  = "application/vnd.ms-excel"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimePPT  = "application/vnd.ms-powerpoint"
)

// Process converts one uploaded file into exactly one content block suited
// to the target provider. Decision order: native binary, text family,
// office extraction, unsupported family, best-effort UTF-8.
func (p *Processor) Process(data []byte, filename, mimeType, provider string) model.ContentBlock {
	mime := normalizeMIME(mimeType)

	if nativeImageTypes[mime] {
		if mime == "image/jpg" {
			mime = "image/jpeg"
		}
		return model.ImageBlock{
			MediaType: mime,
			Data:      base64.StdEncoding.EncodeToString(data),
		}
	}

	if mime == model.MediaTypePDF && providerNativePDF[provider] {
		return model.DocumentBlock{
			MediaType: model.MediaTypePDF,
			Data:      base64.StdEncoding.EncodeToString(data),
		}
	}

	if textMIMETypes[mime] || isTextExtension(filename) {
		return model.TextBlock{Text: fmt.Sprintf("[%s]\n%s", filename, lossyUTF8(data))}
	}

	switch mime {
	case model.MediaTypePDF:
		return p.extract(ExtractPDF, data, filename)
	case mimeDOCX, mimeDOC:
		return p.extract(ExtractDOCX, data, filename)
	case mimeXLSX, mimeXLS:
		return p.extract(ExtractXLSX, data, filename)
	case mimePPTX, mimePPT:
		return p.extract(ExtractPPTX, data, filename)
	}

	for _, prefix := range unsupportedPrefixes {
		if strings.HasPrefix(mime, prefix) {
			return model.TextBlock{Text: fmt.Sprintf(
				"[%s] File type %s is not supported by any provider.", filename, mime)}
		}
	}

	if utf8.Valid(data) {
		return model.TextBlock{Text: fmt.Sprintf("[%s]\n%s", filename, data)}
	}
	return model.TextBlock{Text: fmt.Sprintf(
		"[%s] Unknown file type (%s). File size: %d bytes. This type cannot be processed.",
		filename, mime, len(data))}
}

// NativePDF reports whether provider accepts PDF documents natively.
func NativePDF(provider string) bool { return providerNativePDF[provider] }

func normalizeMIME(mimeType string) string {
	if mimeType == "" {
		return defaultMIME
	}
	mime, _, _ := strings.Cut(mimeType, ";")
	return strings.TrimSpace(strings.ToLower(mime))
}

func isTextExtension(filename string) bool {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return false
	}
	return textExtensions[strings.ToLower(filename[idx:])]
}

// lossyUTF8 decodes data as UTF-8 replacing invalid sequences.
func lossyUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
