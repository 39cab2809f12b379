package embeddings

import "context"

// Func adapts an ordinary function to the Embedder interface.
type Func func(ctx context.Context, texts []string) ([][]float32, error)

// Embed calls f(ctx, texts).
func (f Func) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
