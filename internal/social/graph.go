package social

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Tie is a directed social connection between two villagers. Strength
// grows with interactions and decays with neglect.
type Tie struct {
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	Strength  float64   `json:"strength"` // 0-1
	History   []string  `json:"history"`  // recent interaction summaries
	UpdatedAt time.Time `json:"updated_at"`
}

// Graph keeps the village's social ties in Neo4j.
type Graph struct {
	driver    neo4j.DriverWithContext
	boost     float64
	decayRate float64
	logger    *zap.Logger
}

// NewGraph creates a social graph over the given driver. boost is how
// much one interaction strengthens a tie, decayRate how much every tie
// weakens per decay pass.
func NewGraph(driver neo4j.DriverWithContext, boost, decayRate float64, logger *zap.Logger) *Graph {
	if boost <= 0 {
		boost = 0.05
	}
	if decayRate <= 0 {
		decayRate = 0.002
	}
	return &Graph{
		driver:    driver,
		boost:     boost,
		decayRate: decayRate,
		logger:    logger,
	}
}

// EnsureVillager creates the node for a villager if it is missing.
func (g *Graph) EnsureVillager(ctx context.Context, id, name string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (v:Villager {id: $id}) SET v.name = $name`,
		map[string]any{"id": id, "name": name})
	if err != nil {
		return fmt.Errorf("ensure villager %s: %w", id, err)
	}
	return nil
}

// RecordInteraction strengthens the tie from one villager to another
// and appends the interaction summary, creating the tie on first contact.
func (g *Graph) RecordInteraction(ctx context.Context, fromID, toID, summary string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Villager {id: $from})
		 MERGE (b:Villager {id: $to})
		 MERGE (a)-[r:KNOWS]->(b)
		 ON CREATE SET r.strength = $boost, r.history = [$summary], r.updated_at = datetime()
		 ON MATCH SET
		     r.strength = CASE WHEN r.strength + $boost > 1.0 THEN 1.0 ELSE r.strength + $boost END,
		     r.history = r.history[-9..] + $summary,
		     r.updated_at = datetime()`,
		map[string]any{
			"from":    fromID,
			"to":      toID,
			"boost":   g.boost,
			"summary": summary,
		})
	if err != nil {
		return fmt.Errorf("record interaction %s->%s: %w", fromID, toID, err)
	}
	return nil
}

// Ties returns all outgoing ties for one villager, strongest first.
func (g *Graph) Ties(ctx context.Context, agentID string) ([]*Tie, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Villager {id: $id})-[r:KNOWS]->(b:Villager)
		 RETURN b.id, r.strength, r.history
		 ORDER BY r.strength DESC`,
		map[string]any{"id": agentID})
	if err != nil {
		return nil, fmt.Errorf("ties for %s: %w", agentID, err)
	}

	var ties []*Tie
	for result.Next(ctx) {
		rec := result.Record()
		toID, _ := rec.Get("b.id")
		strength, _ := rec.Get("r.strength")
		history, _ := rec.Get("r.history")

		var hist []string
		if h, ok := history.([]any); ok {
			for _, v := range h {
				if s, ok := v.(string); ok {
					hist = append(hist, s)
				}
			}
		}

		ties = append(ties, &Tie{
			FromAgent: agentID,
			ToAgent:   toID.(string),
			Strength:  strength.(float64),
			History:   hist,
		})
	}
	return ties, result.Err()
}

// Decay weakens every tie by the decay rate. Run periodically so ties
// fade without contact.
func (g *Graph) Decay(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH ()-[r:KNOWS]->()
		 WHERE r.strength > 0
		 SET r.strength = CASE WHEN r.strength - $decay < 0 THEN 0 ELSE r.strength - $decay END`,
		map[string]any{"decay": g.decayRate})
	if err != nil {
		g.logger.Warn("tie decay failed", zap.Error(err))
		return fmt.Errorf("decay ties: %w", err)
	}
	return nil
}

// TickDone runs one decay pass per completed simulation tick. Failures
// are already logged by Decay and never stall the run.
func (g *Graph) TickDone(ctx context.Context, _ int64) {
	_ = g.Decay(ctx)
}

// Close releases the underlying driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}
