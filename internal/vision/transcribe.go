package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// downloadToTemp saves url's body to a temp file so whisper.cpp (which
// reads from disk, see the teacher's cmd/whisper-go) can decode it.
func downloadToTemp(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp("", "vision-media-*.wav")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, 64*1024*1024)); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// WhisperTranscriber transcribes a WAV file with a locally loaded
// whisper.cpp model, matching the teacher's cmd/whisper-go usage of the Go
// bindings (model.NewContext / context.Process / context.NextSegment).
type WhisperTranscriber struct {
	model whisper.Model
}

// NewWhisperTranscriber loads a GGML whisper model from disk.
func NewWhisperTranscriber(modelPath string) (*WhisperTranscriber, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("vision: load whisper model: %w", err)
	}
	return &WhisperTranscriber{model: model}, nil
}

// Transcribe decodes wavPath and returns its concatenated segment text.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	samples, err := loadWAVSamples(wavPath)
	if err != nil {
		return "", fmt.Errorf("vision: load wav: %w", err)
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("vision: whisper context: %w", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("vision: whisper process: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		sb.WriteString(segment.Text)
		sb.WriteString(" ")
	}
	return strings.TrimSpace(sb.String()), nil
}

// Close releases the underlying model.
func (w *WhisperTranscriber) Close() error { return w.model.Close() }
