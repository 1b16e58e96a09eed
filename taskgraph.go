// Package taskgraph provides a minimal public API for embedding the task
// graph in custom orchestration.
//
// Most integrations should talk to the running MCP server instead. This
// package exports only the types and constructors needed for Go programs
// that want to drive the engine or the storage layer directly.
package taskgraph

import (
	"context"
	"log/slog"
	"time"

	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/storage/sqlite"
	"github.com/untoldecay/taskgraph/internal/types"
)

// Storage is the interface for graph storage operations
type Storage = storage.Storage

// Transaction provides atomic multi-operation support within a database
// transaction. Use Storage.RunInTransaction() to obtain one.
type Transaction = storage.Transaction

// Engine implements all graph semantics on top of a Storage.
type Engine = engine.Engine

// Option configures an Engine.
type Option = engine.Option

// NewSQLiteStorage creates a new SQLite storage instance at the given path
func NewSQLiteStorage(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath)
}

// NewEngine builds an engine over store. Pass engine options such as
// WithClaimTTL to tune behavior.
func NewEngine(store Storage, log *slog.Logger, opts ...Option) *Engine {
	return engine.New(store, log, opts...)
}

// WithClaimTTL overrides the soft-claim lease duration.
func WithClaimTTL(ttl time.Duration) Option {
	return engine.WithClaimTTL(ttl)
}

// Core types from internal/types
type (
	Node              = types.Node
	Edge              = types.Edge
	Event             = types.Event
	Evidence          = types.Evidence
	Properties        = types.Properties
	KnowledgeEntry    = types.KnowledgeEntry
	KnowledgeLogEntry = types.KnowledgeLogEntry
	ProjectSummary    = types.ProjectSummary
	NodeFilter        = storage.NodeFilter
)

// Evidence type constants
const (
	EvidenceGit    = types.EvidenceGit
	EvidenceNote   = types.EvidenceNote
	EvidenceTest   = types.EvidenceTest
	EvidenceCustom = types.EvidenceCustom
)

// Edge type constants
const (
	EdgeDependsOn = types.EdgeDependsOn
	EdgeRelatesTo = types.EdgeRelatesTo
)

// Discovery state constants
const (
	DiscoveryPending = types.DiscoveryPending
	DiscoveryDone    = types.DiscoveryDone
)

// Knowledge category constants
const (
	CategoryGeneral      = types.CategoryGeneral
	CategoryArchitecture = types.CategoryArchitecture
	CategoryConvention   = types.CategoryConvention
	CategoryDecision     = types.CategoryDecision
	CategoryEnvironment  = types.CategoryEnvironment
	CategoryAPIContract  = types.CategoryAPIContract
	CategoryDiscovery    = types.CategoryDiscovery
)
