package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/llm"
	"weave/internal/llm/openai"
)

// imageDescriber adapts openai.Client.ChatWithImageAttachment to
// vision.ImageDescriber, the only surface the vision chain needs from a
// multimodal chat model.
type imageDescriber struct {
	client *openai.Client
	model  string
}

func (d *imageDescriber) DescribeImage(ctx context.Context, mimeType string, data []byte, prompt string) (string, error) {
	msgs := []llm.Message{{Role: "user", Content: prompt}}
	resp, err := d.client.ChatWithImageAttachment(ctx, msgs, mimeType, base64.StdEncoding.EncodeToString(data), nil, d.model)
	if err != nil {
		return "", fmt.Errorf("image describe: %w", err)
	}
	return resp.Content, nil
}

// embedder adapts openai.Client.Embed to knowledge.Embedder.
type embedder struct {
	client *openai.Client
	model  string
}

func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.model, text)
}

// selfWakeup calls this server's own GET /wakeup/{channel_id} whenever a
// mcpthread request completes, so a long-running tool call can resume a
// thread that the human has since stopped watching (spec §4.4 "webhook-
// style wake-up once a slow tool finishes").
func selfWakeup(client *http.Client, serverURL string) func(ctx context.Context, requestor string, unlessActiveSince time.Time) {
	return func(ctx context.Context, requestor string, unlessActiveSince time.Time) {
		if serverURL == "" {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/wakeup/"+requestor, nil)
		if err != nil {
			log.Warn().Err(err).Msg("self-wakeup: build request failed")
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Warn().Err(err).Msg("self-wakeup: request failed")
			return
		}
		resp.Body.Close()
	}
}
