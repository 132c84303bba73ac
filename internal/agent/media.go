package agent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/cogent/internal/providers"
	"github.com/nextlevelbuilder/cogent/internal/tools"
)

// maxImageDim bounds the longest edge of materialized images; larger
// inputs are downscaled before they hit disk.
const maxImageDim = 2048

// materializeImages writes the input's image blocks into dir and returns
// their paths. Undecodable payloads are written raw so shell tools can
// still inspect them.
func materializeImages(input providers.Message, dir string) []string {
	images := input.Images()
	if len(images) == 0 {
		return nil
	}

	var paths []string
	for i, b := range images {
		data, err := base64.StdEncoding.DecodeString(b.Base64)
		if err != nil {
			slog.Warn("media: undecodable image block", "index", i, "error", err)
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("image-%d%s", i+1, extForMime(b.MediaType)))

		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			if werr := os.WriteFile(path, data, 0644); werr != nil {
				slog.Warn("media: failed to write image", "path", path, "error", werr)
				continue
			}
			paths = append(paths, path)
			continue
		}

		bounds := img.Bounds()
		if bounds.Dx() > maxImageDim || bounds.Dy() > maxImageDim {
			img = imaging.Fit(img, maxImageDim, maxImageDim, imaging.Lanczos)
		}
		if err := imaging.Save(img, path); err != nil {
			slog.Warn("media: failed to save image", "path", path, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		// imaging cannot encode webp; re-encode as png.
		return ".png"
	default:
		return ".png"
	}
}

// runtimeHints builds the per-turn hints text the LLM sees every
// iteration but that is never persisted: working directory and any
// materialized image paths.
func runtimeHints(workDir string, imagePaths []string) string {
	var sb strings.Builder
	sb.WriteString("\n\n[Runtime hints]\nWorking directory: " + workDir)
	if len(imagePaths) > 0 {
		sb.WriteString("\nAttached images:")
		for _, p := range imagePaths {
			sb.WriteString("\n- " + p)
		}
	}
	return sb.String()
}

// imageExtensions drive the sent-file markdown rule: these render as
// inline images, everything else as plain links.
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".svg": true,
}

// appendSentFiles appends markdown links for files the model did not
// already mention by name.
func appendSentFiles(text string, files []tools.SentFile) string {
	for _, f := range files {
		if f.Filename != "" && strings.Contains(text, f.Filename) {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(f.Filename))] {
			text += fmt.Sprintf("\n\n![%s](%s)", f.Filename, f.URL)
		} else {
			text += fmt.Sprintf("\n\n[%s](%s)", f.Filename, f.URL)
		}
	}
	return strings.TrimSpace(text)
}
