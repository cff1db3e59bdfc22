package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// EmbedBatches embeds texts in slices of batchSize, waiting on limiter before
// each call. The result lines up with texts.
func EmbedBatches(ctx context.Context, e Embedder, texts []string, batchSize int, limiter *rate.Limiter) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("embedding rate limit: %w", err)
			}
		}
		vectors, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: have %d texts, %d embeddings", end-start, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}
