package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// EmbedFunc turns texts into vectors. Providers that implement embedding
// plug in here; when nil, the deterministic bag-of-words fallback is used.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// fallbackDim caps the fallback vocabulary.
const fallbackDim = 512

// FallbackEmbed is a deterministic bag-of-words embedding: lowercase
// Latin tokens (>= 2 chars) hashed into a fixed 512-dim term-frequency
// vector, L2-normalized. It gives approximate semantic scoring when no
// real embedder is configured.
func FallbackEmbed(text string) []float32 {
	vec := make([]float32, fallbackDim)
	any := false
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%fallbackDim]++
		any = true
	}
	if !any {
		return vec
	}
	return l2Normalize(vec)
}

func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 2 {
			tokens = append(tokens, strings.ToLower(cur.String()))
		}
		cur.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Cosine returns the cosine similarity of two vectors, or 0 when the
// dimensions differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
