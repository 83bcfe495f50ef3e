package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"weave/internal/pipeline"
)

// RedisCheckpointer persists pipeline.State as a string key per thread id,
// for lower-latency deployments than PostgresCheckpointer.
type RedisCheckpointer struct {
	client *redis.Client
	prefix string
}

// NewRedisCheckpointer wraps an existing redis client. Keys are stored as
// "<prefix><thread_id>".
func NewRedisCheckpointer(client *redis.Client, prefix string) *RedisCheckpointer {
	if prefix == "" {
		prefix = "weave:checkpoint:"
	}
	return &RedisCheckpointer{client: client, prefix: prefix}
}

func (r *RedisCheckpointer) key(threadID string) string { return r.prefix + threadID }

func (r *RedisCheckpointer) Load(ctx context.Context, threadID string) (pipeline.State, bool, error) {
	raw, err := r.client.Get(ctx, r.key(threadID)).Bytes()
	if err == redis.Nil {
		return pipeline.State{}, false, nil
	}
	if err != nil {
		return pipeline.State{}, false, fmt.Errorf("store: redis load: %w", err)
	}
	s, err := unmarshalState(raw)
	if err != nil {
		return pipeline.State{}, false, err
	}
	return s, true, nil
}

func (r *RedisCheckpointer) Save(ctx context.Context, threadID string, s pipeline.State) error {
	raw, err := marshalState(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(threadID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store: redis save: %w", err)
	}
	return nil
}

var _ pipeline.Checkpointer = (*RedisCheckpointer)(nil)
