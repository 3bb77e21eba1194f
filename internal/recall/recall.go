package recall

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/embedding"
	"github.com/yuelin/mamavillage/internal/memory"
)

// DefaultCollection is the vector collection memories are indexed into.
const DefaultCollection = "village_memories"

// Recaller indexes memories as vectors and retrieves the ones most
// related to a text. It is an optional enrichment: callers treat every
// error as an empty result.
type Recaller struct {
	client     *Client
	embedder   embedding.Provider
	collection string
	logger     *zap.Logger
}

// NewRecaller wires a qdrant client and an embedding provider, creating
// the collection when missing.
func NewRecaller(ctx context.Context, client *Client, embedder embedding.Provider, collection string, logger *zap.Logger) (*Recaller, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	dim := embedder.Dimension()
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be configured")
	}
	if err := client.EnsureCollection(ctx, collection, uint64(dim)); err != nil {
		return nil, err
	}
	return &Recaller{
		client:     client,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}, nil
}

// Index embeds one memory and upserts it keyed by the memory id.
func (r *Recaller) Index(ctx context.Context, m *memory.Memory) error {
	vectors, err := r.embedder.Embed(ctx, []string{m.Content})
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("embed memory: empty result")
	}
	return r.client.Upsert(ctx, r.collection, m.ID, vectors[0], map[string]string{
		"agent_id": m.AgentID,
		"type":     string(m.Type),
		"content":  m.Content,
	})
}

// Related returns the contents of the topK memories of one agent most
// similar to the text.
func (r *Recaller) Related(ctx context.Context, agentID, text string, topK int) ([]string, error) {
	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := r.client.Search(ctx, r.collection, agentID, vectors[0], uint64(topK))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if content := h.Payload["content"]; content != "" {
			out = append(out, content)
		}
	}
	r.logger.Debug("memory recall",
		zap.String("agent", agentID),
		zap.Int("hits", len(out)))
	return out, nil
}
