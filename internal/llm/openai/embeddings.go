package openai

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/packages/param"
)

// Embed returns the embedding vector for text using model (falling back to
// c.model if empty), the way knowledge.Embedder needs it for the Qdrant
// fact store (spec_full §9 "knowledge").
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	params := sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
		Model: sdk.EmbeddingModel(firstNonEmpty(model, c.model)),
	}

	resp, err := c.sdk.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: embeddings: empty response")
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
