package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// ContentBlock is one piece of multi-modal message content. Concrete
	// implementations are TextBlock, ImageBlock and DocumentBlock,
	// discriminated on the wire by their "type" field. Translators encode
	// blocks into provider-specific shapes; the canonical form stays
	// provider-agnostic.
	ContentBlock interface {
		// BlockType returns the wire discriminator ("text", "image", "document").
		BlockType() string
	}

	// TextBlock carries plain text content.
	TextBlock struct {
		Text string `json:"text"`
	}

	// ImageBlock carries a base64-encoded image. MediaType must be one of
	// image/jpeg, image/png, image/gif or image/webp.
	ImageBlock struct {
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	}

	// DocumentBlock carries a base64-encoded PDF document.
	DocumentBlock struct {
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	}

	// ToolUseBlock is an assistant tool invocation. The three upstreams
	// disagree on tool-call shape; translators expand this canonical form.
	ToolUseBlock struct {
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	}

	// ToolResultBlock carries the caller-side result of a tool invocation
	// inside a user message.
	ToolResultBlock struct {
		ToolUseID string `json:"tool_use_id"`
		Content   string `json:"content"`
	}

	// MessageContent is either a bare string (fast path) or an ordered
	// sequence of content blocks. The zero value is the empty string and
	// serializes as "".
	MessageContent struct {
		text   string
		blocks []ContentBlock
	}
)

// Block type discriminators.
const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeDocument   = "document"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// MediaTypePDF is the only media type a DocumentBlock may carry.
const MediaTypePDF = "application/pdf"

func (TextBlock) BlockType() string       { return BlockTypeText }
func (ImageBlock) BlockType() string      { return BlockTypeImage }
func (DocumentBlock) BlockType() string   { return BlockTypeDocument }
func (ToolUseBlock) BlockType() string    { return BlockTypeToolUse }
func (ToolResultBlock) BlockType() string { return BlockTypeToolResult }

// Text builds a plain-string MessageContent.
func Text(s string) MessageContent { return MessageContent{text: s} }

// Blocks builds a multi-modal MessageContent from content blocks.
func Blocks(blocks ...ContentBlock) MessageContent {
	return MessageContent{blocks: blocks}
}

// IsBlocks reports whether the content is the multi-modal form.
func (c MessageContent) IsBlocks() bool { return c.blocks != nil }

// Parts normalizes the content to a block sequence: a bare string becomes a
// single TextBlock, the multi-modal form is returned as-is.
func (c MessageContent) Parts() []ContentBlock {
	if c.blocks != nil {
		return c.blocks
	}
	return []ContentBlock{TextBlock{Text: c.text}}
}

// PlainText flattens the content to text, concatenating text blocks and
// ignoring binary blocks.
func (c MessageContent) PlainText() string {
	if c.blocks == nil {
		return c.text
	}
	var out string
	for _, b := range c.blocks {
		if t, ok := b.(TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

// MarshalJSON renders the fast path as a JSON string and the multi-modal
// form as an array of discriminated block objects.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.blocks == nil {
		return json.Marshal(c.text)
	}
	raw := make([]map[string]any, 0, len(c.blocks))
	for _, b := range c.blocks {
		raw = append(raw, blockToMap(b))
	}
	return json.Marshal(raw)
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.text = s
		c.blocks = nil
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("model: content must be a string or block array: %w", err)
	}
	blocks := make([]ContentBlock, 0, len(items))
	for i, raw := range items {
		b, err := decodeContentBlock(raw)
		if err != nil {
			return fmt.Errorf("model: decode content[%d]: %w", i, err)
		}
		blocks = append(blocks, b)
	}
	c.text = ""
	c.blocks = blocks
	return nil
}

func blockToMap(b ContentBlock) map[string]any {
	switch v := b.(type) {
	case TextBlock:
		return map[string]any{"type": BlockTypeText, "text": v.Text}
	case ImageBlock:
		return map[string]any{"type": BlockTypeImage, "media_type": v.MediaType, "data": v.Data}
	case DocumentBlock:
		mt := v.MediaType
		if mt == "" {
			mt = MediaTypePDF
		}
		return map[string]any{"type": BlockTypeDocument, "media_type": mt, "data": v.Data}
	case ToolUseBlock:
		return map[string]any{"type": BlockTypeToolUse, "id": v.ID, "name": v.Name, "input": v.Input}
	case ToolResultBlock:
		return map[string]any{"type": BlockTypeToolResult, "tool_use_id": v.ToolUseID, "content": v.Content}
	default:
		return map[string]any{"type": b.BlockType()}
	}
}

func decodeContentBlock(raw json.RawMessage) (ContentBlock, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case BlockTypeText:
		var b TextBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case BlockTypeImage:
		var b ImageBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		switch b.MediaType {
		case "image/jpeg", "image/png", "image/gif", "image/webp":
		default:
			return nil, fmt.Errorf("unsupported image media type %q", b.MediaType)
		}
		return b, nil
	case BlockTypeDocument:
		var b DocumentBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		if b.MediaType == "" {
			b.MediaType = MediaTypePDF
		}
		if b.MediaType != MediaTypePDF {
			return nil, fmt.Errorf("unsupported document media type %q", b.MediaType)
		}
		return b, nil
	case BlockTypeToolUse:
		var b ToolUseBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case BlockTypeToolResult:
		var b ToolResultBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "":
		return nil, errors.New("content block missing type")
	default:
		return nil, fmt.Errorf("unknown content block type %q", probe.Type)
	}
}
