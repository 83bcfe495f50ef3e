package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubImages struct{ text string }

func (s stubImages) DescribeImage(ctx context.Context, mimeType string, data []byte, prompt string) (string, error) {
	return s.text, nil
}

func TestEnrichWrapsResultInBrackets(t *testing.T) {
	c := NewChain(stubImages{text: "a cat"}, nil, nil)
	out, err := c.Enrich(context.Background(), "https://example.com/cat.png")
	require.NoError(t, err)
	require.Contains(t, out, "https://example.com/cat.png")
	require.Contains(t, out, "a cat")
}

func TestEnrichFallsBackToErrorMessageOnFailure(t *testing.T) {
	c := &Chain{
		Images: failingImages{},
	}
	out, err := c.Enrich(context.Background(), "https://example.com/broken.png")
	require.NoError(t, err)
	require.Contains(t, out, "Failed to inspect link")
}

type failingImages struct{}

func (failingImages) DescribeImage(ctx context.Context, mimeType string, data []byte, prompt string) (string, error) {
	return "", errors.New("download image: connection refused")
}

func TestHasAnyExt(t *testing.T) {
	require.True(t, hasAnyExt("https://x.com/a.PNG", imageExtensions))
	require.True(t, hasAnyExt("https://x.com/a.mp3", audioExtensions))
	require.False(t, hasAnyExt("https://x.com/a.html", imageExtensions))
}
