// Package vision implements the link-enrichment adapters the vision stage
// consults for each URL found in the current channel's recent human
// messages (spec §4.7 "vision"), grounded on
// original_source/meep/src/graphs/processes/vision.py's process_url: an
// image branch, a media branch, and a generic page-summary fallback.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// Enricher turns a URL into a short piece of text describing it, the way
// the original's process_url returns "[<url> <message>]" to splice back
// into the message that referenced it.
type Enricher interface {
	Enrich(ctx context.Context, rawURL string) (string, error)
}

// ImageDescriber is the minimal surface this package needs from an
// llm.Provider's image-capable chat method (internal/llm/openai's
// ChatWithImageAttachment, already wired — no new dependency).
type ImageDescriber interface {
	DescribeImage(ctx context.Context, mimeType string, data []byte, prompt string) (string, error)
}

// Transcriber turns downloaded audio samples into a text transcript, backed
// by whisper.cpp bindings (github.com/ggerganov/whisper.cpp/bindings/go).
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

var imageExtensions = []string{".png", ".gif", ".jpg", ".jpeg", ".webp"}
var audioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac"}

func hasAnyExt(u string, exts []string) bool {
	lower := strings.ToLower(u)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ArtifactStore persists a downloaded image/media payload out of line so
// the enrichment text can carry a durable link to it instead of discarding
// the bytes once described (spec §4.4 "Tool artifacts ... are persisted to
// object storage"). Matches objectstore.Store.Put's signature structurally
// so this package never needs to import the AWS SDK.
type ArtifactStore interface {
	Put(ctx context.Context, contentType string, r io.Reader) (string, error)
}

// Chain dispatches a URL to the image, media, or page-summary adapter, the
// same three-way branch the original's process_url implements.
type Chain struct {
	Images       ImageDescriber
	Media        Transcriber
	Artifacts    ArtifactStore
	HTTPClient   *http.Client
	Summarize    func(ctx context.Context, prompt string) (string, error)
	FetchTimeout time.Duration
}

// NewChain builds a Chain with a hardened default HTTP client, matching the
// teacher's internal/tools/web fetcher defaults.
func NewChain(images ImageDescriber, media Transcriber, summarize func(ctx context.Context, prompt string) (string, error)) *Chain {
	return &Chain{
		Images:       images,
		Media:        media,
		Summarize:    summarize,
		HTTPClient:   &http.Client{Timeout: 20 * time.Second},
		FetchTimeout: 20 * time.Second,
	}
}

// Enrich implements Enricher.
func (c *Chain) Enrich(ctx context.Context, rawURL string) (string, error) {
	msg, err := c.process(ctx, rawURL)
	if err != nil {
		msg = fmt.Sprintf("Failed to inspect link. Error=%s", err)
	}
	return fmt.Sprintf("[%s %s]", rawURL, msg), nil
}

func (c *Chain) process(ctx context.Context, rawURL string) (string, error) {
	switch {
	case hasAnyExt(rawURL, imageExtensions):
		return c.describeImage(ctx, rawURL)
	case hasAnyExt(rawURL, audioExtensions):
		return c.describeMedia(ctx, rawURL)
	default:
		return c.summarizePage(ctx, rawURL)
	}
}

func (c *Chain) describeImage(ctx context.Context, rawURL string) (string, error) {
	if c.Images == nil {
		return "No additional information", nil
	}
	data, contentType, err := c.download(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	const prompt = "Describe this image in a paragraph. Locate noteworthy elements relative to one another. Write down any text you may find and locate it."
	desc, err := c.Images.DescribeImage(ctx, contentType, data, prompt)
	if err != nil {
		return "", err
	}
	if c.Artifacts != nil {
		if stored, putErr := c.Artifacts.Put(ctx, contentType, bytes.NewReader(data)); putErr == nil {
			desc = fmt.Sprintf("%s (archived: %s)", desc, stored)
		}
	}
	return desc, nil
}

func (c *Chain) describeMedia(ctx context.Context, rawURL string) (string, error) {
	if c.Media == nil {
		return "No additional information", nil
	}
	path, err := downloadToTemp(ctx, c.HTTPClient, rawURL)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	return c.Media.Transcribe(ctx, path)
}

// summarizePage fetches the page, prefers a headless-browser render when a
// plain GET yields little content (client-rendered pages), extracts the
// main article with readability, converts to markdown, and asks the
// summarization model to condense it.
func (c *Chain) summarizePage(ctx context.Context, rawURL string) (string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.FetchTimeout)
	defer cancel()

	html, err := c.fetchHTML(fetchCtx, rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}

	base, _ := url.Parse(rawURL)
	article, rerr := readability.FromReader(strings.NewReader(html), base)
	content := html
	title := ""
	if rerr == nil && strings.TrimSpace(article.Content) != "" {
		content = article.Content
		title = strings.TrimSpace(article.Title)
	}

	md, err := htmltomarkdown.ConvertString(content, converter.WithDomain(rawURL))
	if err != nil {
		return "", fmt.Errorf("html to markdown: %w", err)
	}
	if title != "" {
		md = "# " + title + "\n\n" + md
	}

	const sizeLimit = 10000
	if len(md) > sizeLimit {
		md = md[:sizeLimit] + "..."
	}

	if c.Summarize == nil {
		return md, nil
	}
	return c.Summarize(ctx, fmt.Sprintf("Summarize this page: %s\n\n%s", rawURL, md))
}

// fetchHTML does a plain GET first; if the body looks too small to be real
// content (likely a client-rendered SPA shell) it falls back to rendering
// the page in a headless Chrome instance via chromedp.
func (c *Chain) fetchHTML(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err == nil {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr == nil && resp.StatusCode < 400 && len(body) > 2000 {
			return string(body), nil
		}
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var rendered string
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &rendered, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("headless render: %w", err)
	}
	return rendered, nil
}

func (c *Chain) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, "", err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/jpeg"
	}
	return data, ct, nil
}
