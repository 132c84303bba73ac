package agent

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/cogent/internal/tools"
)

func TestAppendSentFiles(t *testing.T) {
	files := []tools.SentFile{
		{URL: "file:///tmp/chart.png", Filename: "chart.png"},
		{URL: "file:///tmp/report.pdf", Filename: "report.pdf"},
	}

	out := appendSentFiles("Here you go.", files)
	if !strings.Contains(out, "![chart.png](file:///tmp/chart.png)") {
		t.Errorf("image not embedded: %q", out)
	}
	if !strings.Contains(out, "[report.pdf](file:///tmp/report.pdf)") {
		t.Errorf("document not linked: %q", out)
	}

	// Files the model already mentioned by name are not re-linked.
	out = appendSentFiles("I saved chart.png for you.", files[:1])
	if strings.Contains(out, "![chart.png]") {
		t.Errorf("mentioned file re-linked: %q", out)
	}
}

func TestRuntimeHints(t *testing.T) {
	hints := runtimeHints("/tmp/run", nil)
	if !strings.Contains(hints, "Working directory: /tmp/run") {
		t.Errorf("hints = %q", hints)
	}
	if strings.Contains(hints, "Attached images") {
		t.Errorf("image section without images: %q", hints)
	}

	hints = runtimeHints("/tmp/run", []string{"/tmp/run/image-1.png"})
	if !strings.Contains(hints, "- /tmp/run/image-1.png") {
		t.Errorf("hints = %q", hints)
	}
}
