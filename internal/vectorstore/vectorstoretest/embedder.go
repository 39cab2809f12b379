// Package vectorstoretest provides a deterministic embedder for tests that
// need meaningful ranking without loading a model.
package vectorstoretest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// DefaultDim is the vector size used by NewBagEmbedder when dim <= 0.
const DefaultDim = 256

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "do": {}, "how": {}, "i": {},
	"in": {}, "is": {}, "of": {}, "our": {}, "should": {}, "the": {},
	"to": {}, "was": {}, "what": {},
}

// BagEmbedder embeds text as a unit-length bag of hashed words. Texts that
// share content words end up close; identical texts get identical vectors.
type BagEmbedder struct {
	dim int

	mu    sync.Mutex
	calls int
	texts int

	// Err, when set, is returned by every Embed call.
	Err error
}

// NewBagEmbedder returns a BagEmbedder producing dim-sized vectors.
func NewBagEmbedder(dim int) *BagEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &BagEmbedder{dim: dim}
}

// Embed returns one vector per text.
func (e *BagEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// Dimension reports the vector size.
func (e *BagEmbedder) Dimension() int { return e.dim }

// Calls returns how many times Embed was called.
func (e *BagEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts returns how many texts were embedded in total.
func (e *BagEmbedder) Texts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

func (e *BagEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, w := range Tokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Tokens lowercases text and returns its content words.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; !stop {
			words = append(words, f)
		}
	}
	return words
}
