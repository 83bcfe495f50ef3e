package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"weave/internal/history"
	"weave/internal/pipeline"
	"weave/internal/stages"
	"weave/internal/telemetry"
)

// runInputHistory mirrors the Run input schema's "history" field
// (spec.md §6): it is exactly an InternalUpdates raw document, reusing the
// same channel_updates/tool_updates/current_channel shape the reducer
// already accepts. In particular each entry of a channel's new_messages
// must use the kind-tagged envelope {"kind":"human","data":{...}} (see
// history.MessageList), not a bare message object — this is the one and
// only ingest path for new messages, so a caller posting un-enveloped
// fields gets an UnknownMessageKindError rather than a silently-dropped
// message.
type runInputHistory struct {
	CurrentChannel *string                        `json:"current_channel,omitempty"`
	ToolUpdates    []history.ToolUpdate           `json:"tool_updates,omitempty"`
	ChannelUpdates map[string]*history.ChannelDiff `json:"channel_updates,omitempty"`
}

type runInput struct {
	History *runInputHistory       `json:"history,omitempty"`
	Wakeup  *pipeline.WakeupInput  `json:"wakeup,omitempty"`
}

func (h *runInputHistory) toInternalUpdates() *history.InternalUpdates {
	if h == nil {
		return nil
	}
	u := history.NewInternalUpdates()
	u.CurrentChannel = h.CurrentChannel
	u.ToolUpdates = h.ToolUpdates
	if h.ChannelUpdates != nil {
		u.ChannelUpdates = h.ChannelUpdates
	}
	return u
}

// handleRun accepts the Run input schema, folds it into the checkpointed
// state, runs one pipeline cycle, and streams the side-channel back as
// Server-Sent Events (spec.md §6 "Stream side-channel").
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var in runInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	now := time.Now()
	if err := s.mergeExternalInput(r.Context(), in, now); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.runAndStream(w, r.Context(), stages.TriggerMessage, now)
}

// handleWakeup implements `GET /wakeup/{channel_id}` (spec.md §6): always
// fires, by setting unless_active_since to now so the wakeup stage's
// "already active" guard never suppresses an explicit call.
func (s *Server) handleWakeup(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channel_id")
	now := time.Now()

	state, _, err := s.checkpointer.Load(r.Context(), s.threadID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	state.Wakeup = &pipeline.WakeupInput{ChannelID: channelID, UnlessActiveSince: now}
	if err := s.checkpointer.Save(r.Context(), s.threadID, state); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.runAndStream(w, r.Context(), stages.TriggerRecheck, now)
}

// handleToolUpdates implements `POST /channels/{id}/tool-updates` (spec
// §6 "Tool-call confirmation contract"): folds the batch into
// InternalUpdates.tool_updates and immediately runs a cycle so confirmed
// calls are dispatched without waiting for the next external message.
func (s *Server) handleToolUpdates(w http.ResponseWriter, r *http.Request) {
	var updates []history.ToolUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now()
	in := runInput{History: &runInputHistory{ToolUpdates: updates}}
	if err := s.mergeExternalInput(r.Context(), in, now); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.runAndStream(w, r.Context(), stages.TriggerMessage, now)
}

// mergeExternalInput loads the checkpointed state, reduces the caller's
// InternalUpdates/wakeup into it, and saves — the step that happens before
// the pipeline's own preprocess stage runs (spec §4.6 preprocess "fan out"
// begins from whatever state the external input already merged into).
func (s *Server) mergeExternalInput(ctx context.Context, in runInput, now time.Time) error {
	state, _, err := s.checkpointer.Load(ctx, s.threadID)
	if err != nil {
		return fmt.Errorf("httpapi: checkpoint load: %w", err)
	}

	if u := in.History.toInternalUpdates(); u != nil && !u.IsEmpty() {
		merged, err := history.Reduce(state.History, u, now)
		if err != nil {
			return fmt.Errorf("httpapi: reduce run input: %w", err)
		}
		state.History = merged
		if u.CurrentChannel != nil {
			state.History.CurrentChannel = *u.CurrentChannel
		}
	}
	if in.Wakeup != nil {
		state.Wakeup = in.Wakeup
	}

	if err := s.checkpointer.Save(ctx, s.threadID, state); err != nil {
		return fmt.Errorf("httpapi: checkpoint save: %w", err)
	}
	return nil
}

// runAndStream runs one pipeline cycle for s.threadID, forwarding every
// emitted Event as an SSE "event: <stage>" / "data: <json>" frame.
func (s *Server) runAndStream(w http.ResponseWriter, ctx context.Context, trigger stages.Trigger, now time.Time) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	emit := func(e pipeline.Event) {
		payload, err := json.Marshal(e.Value)
		if err != nil {
			payload = []byte(`null`)
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Stage, payload)
		if flusher != nil {
			flusher.Flush()
		}
		if s.telemetry != nil {
			_ = s.telemetry.Record(ctx, telemetry.StageEvent{ThreadID: e.ThreadID, Stage: e.Stage, At: now})
		}
	}

	if _, err := s.orchestrator.RunCycle(ctx, s.checkpointer, s.threadID, trigger, now, emit); err != nil {
		log.Error().Err(err).Str("thread_id", s.threadID).Msg("pipeline run failed")
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", mustJSON(err.Error()))
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`""`)
	}
	return b
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
