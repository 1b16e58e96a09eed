// Package engine implements the graph mutation, scheduling and query
// semantics on top of the storage layer. Every mutating operation runs in a
// single storage transaction: it either fully applies or leaves no trace
// beyond its audit events.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// Engine wires the storage layer to the operation semantics.
type Engine struct {
	store    storage.Storage
	log      *slog.Logger
	claimTTL time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClaimTTL overrides the soft-claim lease duration.
func WithClaimTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.claimTTL = ttl }
}

// New creates an Engine over the given store.
func New(store storage.Storage, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		log:      log,
		claimTTL: 60 * time.Second,
		now:      time.Now,
	}
	if log == nil {
		e.log = slog.Default()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying storage for read-only surfaces (dashboard,
// CLI status).
func (e *Engine) Store() storage.Storage { return e.store }

// ClaimTTL returns the configured soft-claim lease.
func (e *Engine) ClaimTTL() time.Duration { return e.claimTTL }

func newID(prefix string) string {
	u := uuid.New()
	return prefix + "-" + u.String()[:8]
}

// NewNodeID mints a node id.
func NewNodeID() string { return newID("n") }

// NewKnowledgeID mints a knowledge entry id.
func NewKnowledgeID() string { return newID("k") }

// appendEvent writes one audit record inside tx, encoding changes as JSON.
func appendEvent(ctx context.Context, tx storage.Transaction, nodeID, agent, action string, changes any, at time.Time) error {
	var encoded string
	if changes != nil {
		data, err := json.Marshal(changes)
		if err != nil {
			return Errorf(CodeEngine, "failed to encode event changes: %v", err)
		}
		encoded = string(data)
	}
	return tx.AppendEvent(ctx, &types.Event{
		NodeID:    nodeID,
		Agent:     agent,
		Action:    action,
		Changes:   encoded,
		Timestamp: at,
	})
}

// getNodeCoded fetches a node and maps the missing case to a coded error.
func getNodeCoded(ctx context.Context, tx storage.Transaction, id string) (*types.Node, error) {
	n, err := tx.GetNode(ctx, id)
	if err != nil {
		if CodeOf(err) == CodeNotFound {
			return nil, Errorf(CodeNotFound, "node %s not found", id)
		}
		return nil, err
	}
	return n, nil
}
