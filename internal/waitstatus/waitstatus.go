// Package waitstatus implements the process-scope "channel wait status"
// table (spec §5): which channel is currently idling under a #wait#N
// directive, so a new external message can cancel it.
//
// Backed by Redis so the table survives restarts and is shared across
// multiple runtime instances behind a load balancer (spec §5 "stored at
// process scope keyed by channel id" — generalized here to "process scope
// or shared cache", since a production deployment runs more than one
// process).
package waitstatus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Table tracks one outstanding wait per channel id.
type Table struct {
	client *redis.Client
	prefix string
}

// NewTable wraps an existing redis client.
func NewTable(client *redis.Client) *Table {
	return &Table{client: client, prefix: "weave:wait:"}
}

func (t *Table) key(channelID string) string { return t.prefix + channelID }

// Arm records that channelID is waiting for d, writer-wins (spec §5): a
// later Arm call for the same channel simply overwrites the earlier one.
func (t *Table) Arm(ctx context.Context, channelID string, d time.Duration) error {
	if err := t.client.Set(ctx, t.key(channelID), "1", d).Err(); err != nil {
		return fmt.Errorf("waitstatus: arm: %w", err)
	}
	return nil
}

// Cancel clears channelID's wait, used when a new external message arrives
// (spec §5 "Cancellation & timeouts").
func (t *Table) Cancel(ctx context.Context, channelID string) error {
	if err := t.client.Del(ctx, t.key(channelID)).Err(); err != nil {
		return fmt.Errorf("waitstatus: cancel: %w", err)
	}
	return nil
}

// IsWaiting reports whether channelID currently has an armed wait.
func (t *Table) IsWaiting(ctx context.Context, channelID string) (bool, error) {
	n, err := t.client.Exists(ctx, t.key(channelID)).Result()
	if err != nil {
		return false, fmt.Errorf("waitstatus: exists: %w", err)
	}
	return n > 0, nil
}
