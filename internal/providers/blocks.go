package providers

import (
	"encoding/json"
	"strings"
)

// Block kinds.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// Block is a typed fragment of a multimodal message. Exactly one
// variant is populated, selected by Type.
type Block struct {
	Type string `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// BlockImage
	Base64    string `json:"base64,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// Message is a conversation message. Content is either plain text
// (Blocks holds a single text block) or an ordered list of blocks.
type Message struct {
	Role   string  `json:"role"` // "user", "assistant", "system", "tool"
	Blocks []Block `json:"blocks"`
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []Block{{Type: BlockText, Text: text}}}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasImages reports whether the message contains image blocks.
func (m Message) HasImages() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockImage {
			return true
		}
	}
	return false
}

// Images returns the message's image blocks in order.
func (m Message) Images() []Block {
	var out []Block
	for _, b := range m.Blocks {
		if b.Type == BlockImage {
			out = append(out, b)
		}
	}
	return out
}

// AppendText appends text to the last text block, or adds one.
func (m *Message) AppendText(text string) {
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		if m.Blocks[i].Type == BlockText {
			m.Blocks[i].Text += text
			return
		}
	}
	m.Blocks = append(m.Blocks, Block{Type: BlockText, Text: text})
}

// ParseBlocks decodes content that may be a JSON array of typed blocks.
// Plain text (or anything that does not decode to blocks) yields a
// single text block.
func ParseBlocks(content string) []Block {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "[") {
		var blocks []Block
		if err := json.Unmarshal([]byte(trimmed), &blocks); err == nil && len(blocks) > 0 {
			valid := true
			for _, b := range blocks {
				switch b.Type {
				case BlockText, BlockToolUse, BlockToolResult, BlockImage:
				default:
					valid = false
				}
			}
			if valid {
				return blocks
			}
		}
	}
	return []Block{{Type: BlockText, Text: content}}
}
