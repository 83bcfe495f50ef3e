// Package store provides pipeline.Checkpointer implementations: an
// in-memory one for tests, and Postgres/Redis-backed ones for production
// (spec §6 "Persisted state").
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"weave/internal/history"
	"weave/internal/pipeline"
)

// checkpointRecord is the JSON-serializable form of pipeline.State.
type checkpointRecord struct {
	Activity         string           `json:"activity"`
	History          *history.History `json:"history"`
	LastSummaryCheck *int64           `json:"last_summary_check,omitempty"`
	InternalActivity string           `json:"internal_activity"`
}

// MemCheckpointer is an in-memory pipeline.Checkpointer, used in tests and
// as the default when no external store is configured.
type MemCheckpointer struct {
	mu    sync.Mutex
	saved map[string]pipeline.State
}

// NewMemCheckpointer returns an empty in-memory checkpointer.
func NewMemCheckpointer() *MemCheckpointer {
	return &MemCheckpointer{saved: map[string]pipeline.State{}}
}

func (m *MemCheckpointer) Load(ctx context.Context, threadID string) (pipeline.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.saved[threadID]
	return s, ok, nil
}

func (m *MemCheckpointer) Save(ctx context.Context, threadID string, s pipeline.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[threadID] = s
	return nil
}

var _ pipeline.Checkpointer = (*MemCheckpointer)(nil)

// marshalState encodes the serializable parts of a pipeline.State.
func marshalState(s pipeline.State) ([]byte, error) {
	rec := checkpointRecord{Activity: s.Activity, History: s.History, InternalActivity: s.InternalActivity}
	if s.LastSummaryCheck != nil {
		ts := s.LastSummaryCheck.Unix()
		rec.LastSummaryCheck = &ts
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("store: marshal checkpoint: %w", err)
	}
	return b, nil
}

// unmarshalState decodes what marshalState produced.
func unmarshalState(data []byte) (pipeline.State, error) {
	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return pipeline.State{}, fmt.Errorf("store: unmarshal checkpoint: %w", err)
	}
	s := pipeline.State{Activity: rec.Activity, History: rec.History, InternalActivity: rec.InternalActivity}
	if rec.LastSummaryCheck != nil {
		t := time.Unix(*rec.LastSummaryCheck, 0).UTC()
		s.LastSummaryCheck = &t
	}
	return s, nil
}
