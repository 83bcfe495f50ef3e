// Package knowledge backs the "knowledge" pipeline node (spec §4.7): a
// retrieval-augmented memory store that the knowledge stage queries for
// relevant facts before the agent's turn, and that the summarize stage
// writes new facts into as each summary is produced (and forgets again
// once that summary is superseded and pruned).
//
// Grounded on the teacher's Qdrant vector store adapter
// (internal/persistence/databases/qdrant_vector.go), generalized from a
// generic VectorStore interface into the narrower Embed/Query/Upsert shape
// this pipeline needs.
package knowledge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Embedder turns text into a vector. Implemented against an LLM provider's
// embeddings endpoint (e.g. openai-go's Embeddings.New) by cmd/weaved;
// kept as an interface here so this package never imports a concrete LLM
// client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Fact is one durable piece of knowledge attributed to a channel.
type Fact struct {
	ID        string
	ChannelID string
	Text      string
	Score     float64
}

// Store is a Qdrant-backed fact store, one collection per deployment.
type Store struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	dimension  int
}

// Config configures a new Store.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// New connects to Qdrant and ensures the collection exists, mirroring the
// teacher's ensureCollection step.
func New(ctx context.Context, cfg Config, embedder Embedder) (*Store, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("knowledge: collection name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("knowledge: dimension must be > 0")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: create qdrant client: %w", err)
	}
	s := &Store{client: client, embedder: embedder, collection: cfg.Collection, dimension: cfg.Dimension}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("knowledge: ensure collection: %w", err)
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// Remember embeds and upserts a fact, keyed by channel so Query can be
// scoped to a single conversation's knowledge.
func (s *Store) Remember(ctx context.Context, channelID, text string) (string, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("knowledge: embed: %w", err)
	}
	id := uuid.NewString()
	payload := qdrant.NewValueMap(map[string]any{
		"channel_id": channelID,
		"text":       text,
	})
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("knowledge: upsert: %w", err)
	}
	return id, nil
}

// Query returns the top-k facts relevant to text, restricted to channelID
// when non-empty.
func (s *Store) Query(ctx context.Context, channelID, text string, k int) ([]Fact, error) {
	if k <= 0 {
		k = 5
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	var filter *qdrant.Filter
	if channelID != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("channel_id", channelID)}}
	}
	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: query: %w", err)
	}
	facts := make([]Fact, 0, len(hits))
	for _, hit := range hits {
		var text string
		var channel string
		if hit.Payload != nil {
			if v, ok := hit.Payload["text"]; ok {
				text = v.GetStringValue()
			}
			if v, ok := hit.Payload["channel_id"]; ok {
				channel = v.GetStringValue()
			}
		}
		facts = append(facts, Fact{
			ID:        hit.Id.GetUuid(),
			ChannelID: channel,
			Text:      text,
			Score:     float64(hit.Score),
		})
	}
	return facts, nil
}

// Forget deletes a previously remembered fact.
func (s *Store) Forget(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
	})
	if err != nil {
		return fmt.Errorf("knowledge: delete %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.client.Close() }
