package providers

import (
	"encoding/json"
	"testing"
)

func TestParseBlocks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		first   string
	}{
		{"plain text", "hello world", 1, BlockText},
		{"json block array", `[{"type":"text","text":"hi"},{"type":"image","base64":"aGk=","media_type":"image/png"}]`, 2, BlockText},
		{"json array of wrong shape", `[1,2,3]`, 1, BlockText},
		{"unknown block type", `[{"type":"video"}]`, 1, BlockText},
		{"empty string", "", 1, BlockText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := ParseBlocks(tt.content)
			if len(blocks) != tt.want {
				t.Fatalf("got %d blocks, want %d", len(blocks), tt.want)
			}
			if blocks[0].Type != tt.first {
				t.Errorf("first block type = %q, want %q", blocks[0].Type, tt.first)
			}
		})
	}
}

func TestParseBlocksRoundTrip(t *testing.T) {
	in := []Block{
		{Type: BlockText, Text: "look at this"},
		{Type: BlockImage, Base64: "aGVsbG8=", MediaType: "image/png"},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out := ParseBlocks(string(raw))
	if len(out) != 2 || out[1].Type != BlockImage || out[1].Base64 != "aGVsbG8=" {
		t.Fatalf("round trip lost blocks: %+v", out)
	}
}

func TestMessageText(t *testing.T) {
	m := Message{Role: "user", Blocks: []Block{
		{Type: BlockText, Text: "a"},
		{Type: BlockImage, Base64: "x"},
		{Type: BlockText, Text: "b"},
	}}
	if got := m.Text(); got != "a\nb" {
		t.Errorf("Text() = %q", got)
	}
	if !m.HasImages() {
		t.Error("HasImages() = false")
	}
	if len(m.Images()) != 1 {
		t.Errorf("Images() = %d, want 1", len(m.Images()))
	}
}

func TestAppendText(t *testing.T) {
	m := TextMessage("user", "hello")
	m.AppendText(" world")
	if got := m.Text(); got != "hello world" {
		t.Errorf("Text() = %q", got)
	}

	empty := Message{Role: "user"}
	empty.AppendText("new")
	if len(empty.Blocks) != 1 || empty.Blocks[0].Text != "new" {
		t.Errorf("AppendText on empty message: %+v", empty.Blocks)
	}
}
