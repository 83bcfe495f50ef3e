package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/llm"
)

// usageResponse mirrors the teacher's token metrics endpoint, trimmed to the
// in-process snapshot this module actually keeps (no external metrics
// warehouse).
type usageResponse struct {
	Timestamp     int64            `json:"timestamp"`
	WindowSeconds int64            `json:"window_seconds,omitempty"`
	Models        []llm.TokenTotal `json:"models"`
}

// handleUsage implements `GET /usage`: process-local prompt/completion token
// totals per model, optionally restricted to the trailing window given by
// ?window_seconds=, exercising the same llm.TokenTotalsSnapshot/
// TokenTotalsForWindow bookkeeping every provider call feeds via
// llm.RecordTokenMetrics.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindowParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var models []llm.TokenTotal
	var applied time.Duration
	if window > 0 {
		models, applied = llm.TokenTotalsForWindow(window)
	} else {
		models = llm.TokenTotalsSnapshot()
	}

	resp := usageResponse{Timestamp: time.Now().Unix(), Models: models}
	if applied > 0 {
		resp.WindowSeconds = int64(applied.Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn().Err(err).Msg("failed to encode usage response")
	}
}

func parseWindowParam(r *http.Request) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("window_seconds"))
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return 0, &invalidWindowError{raw: raw}
	}
	return time.Duration(secs) * time.Second, nil
}

type invalidWindowError struct{ raw string }

func (e *invalidWindowError) Error() string {
	return "httpapi: invalid window_seconds parameter " + strconv.Quote(e.raw)
}
