// Package telemetry records pipeline.Event stream events (spec §4.6 "the
// side channel") to ClickHouse so the stages and timings of a run can be
// queried after the fact, independent of the OTel traces emitted for live
// observability.
//
// Grounded on the teacher's ClickHouse adapters
// (internal/agentd/logs_clickhouse.go, metrics_clickhouse.go): same
// DSN-parsing and identifier-sanitizing approach, generalized from a
// read-only metrics query surface into a write path for one append-only
// events table.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func sanitizeIdentifier(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", errors.New("identifier is empty")
	}
	if !identPattern.MatchString(s) {
		return "", fmt.Errorf("identifier contains invalid characters: %s", s)
	}
	return s, nil
}

// Config configures the ClickHouse sink.
type Config struct {
	DSN            string
	Table          string // defaults to "pipeline_events"
	TimeoutSeconds int
}

// Sink writes pipeline stage events to ClickHouse.
type Sink struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// StageEvent is one row: a stage boundary crossed for a given thread.
type StageEvent struct {
	ThreadID string
	Stage    string
	Activity string
	At       time.Time
	Err      string
}

// New opens a connection and pings it. Returns (nil, nil) when cfg.DSN is
// empty, matching the teacher's "telemetry is optional" pattern.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil
	}
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open connection: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tableName := cfg.Table
	if tableName == "" {
		tableName = "pipeline_events"
	}
	table, err := sanitizeIdentifier(tableName)
	if err != nil {
		return nil, fmt.Errorf("telemetry: invalid table: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("telemetry: ping: %w", err)
	}

	return &Sink{conn: conn, table: table, timeout: timeout}, nil
}

// Record inserts a stage event using ClickHouse's async insert path so the
// caller is never blocked on a flush — events are a best-effort side
// channel, never load-bearing for the pipeline itself (spec §4.6 "the side
// channel ... is purely observational").
func (s *Sink) Record(ctx context.Context, ev StageEvent) error {
	if s == nil || s.conn == nil {
		return nil
	}
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := fmt.Sprintf(
		`INSERT INTO %s (thread_id, stage, activity, at, error) SETTINGS async_insert=1, wait_for_async_insert=0 VALUES (?, ?, ?, ?, ?)`,
		s.table,
	)
	return s.conn.Exec(execCtx, query, ev.ThreadID, ev.Stage, ev.Activity, ev.At, ev.Err)
}

// Close releases the underlying connection.
func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
