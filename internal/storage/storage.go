// Package storage defines the interface for graph storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/untoldecay/taskgraph/internal/types"
)

// ErrNotFound is returned when a node, edge or knowledge entry does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEdge is returned when an identical (from, to, type) edge
// already exists.
var ErrDuplicateEdge = errors.New("edge already exists")

// ErrInvalidFilter is returned when a query filter is malformed: an unknown
// sort mode or an undecodable/mismatched pagination cursor. It marks caller
// mistakes, as opposed to store failures.
var ErrInvalidFilter = errors.New("invalid filter")

// Transaction provides atomic multi-operation support within a single
// database transaction.
//
// All operations share one connection; changes are invisible to other
// connections until commit. If the callback returns an error or panics the
// transaction is rolled back, otherwise it is committed. SQLite transactions
// start in IMMEDIATE mode so the write lock is acquired up front and
// concurrent writers serialise cleanly.
type Transaction interface {
	// Node operations
	CreateNode(ctx context.Context, node *types.Node) error
	GetNode(ctx context.Context, id string) (*types.Node, error)
	UpdateNode(ctx context.Context, node *types.Node) error
	DeleteNodes(ctx context.Context, ids []string) error
	Children(ctx context.Context, id string) ([]*types.Node, error)
	Descendants(ctx context.Context, id string) ([]string, error)
	Ancestors(ctx context.Context, id string) ([]string, error)
	ProjectRoot(ctx context.Context, project string) (*types.Node, error)

	// Edge operations
	AddEdge(ctx context.Context, edge *types.Edge) error
	RemoveEdge(ctx context.Context, from, to, edgeType string) error
	EdgesFrom(ctx context.Context, id string) ([]*types.Edge, error)
	EdgesTo(ctx context.Context, id string) ([]*types.Edge, error)
	WouldCycle(ctx context.Context, from, to string) (bool, error)
	Dependents(ctx context.Context, id string) ([]string, error)
	UnresolvedDependencies(ctx context.Context, id string) ([]string, error)
	UnresolvedChildCount(ctx context.Context, id string) (int, error)
	Actionable(ctx context.Context, id string) (bool, error)

	// Event log
	AppendEvent(ctx context.Context, event *types.Event) error

	// Knowledge store
	GetKnowledge(ctx context.Context, project, key string) (*types.KnowledgeEntry, error)
	PutKnowledge(ctx context.Context, entry *types.KnowledgeEntry) error
	DeleteKnowledge(ctx context.Context, project, key string) error
	ListKnowledge(ctx context.Context, project string) ([]*types.KnowledgeEntry, error)
	AppendKnowledgeLog(ctx context.Context, entry *types.KnowledgeLogEntry) error
}

// NodeFilter selects nodes for Query. Zero values mean "no constraint".
type NodeFilter struct {
	Project         string
	Resolved        *bool
	Blocked         *bool
	Actionable      *bool
	IsLeaf          *bool
	Ancestor        string  // restrict to descendants of this node
	Text            string  // substring match on summary
	HasEvidenceType string
	ClaimedBy       *string // nil: any; "": unclaimed; else: that agent
	Properties      types.Properties
	UpdatedAfter    time.Time
	UpdatedBefore   time.Time
	Sort            string // readiness|depth|recent|created (default recent)
	Limit           int
	Cursor          string
}

// QueryPage is one page of query results with an opaque continuation cursor.
type QueryPage struct {
	Nodes  []*types.Node
	Cursor string // empty when exhausted
}

// Storage defines the interface for graph storage backends.
type Storage interface {
	// Reads outside a transaction
	GetNode(ctx context.Context, id string) (*types.Node, error)
	Children(ctx context.Context, id string) ([]*types.Node, error)
	Ancestors(ctx context.Context, id string) ([]string, error)
	Descendants(ctx context.Context, id string) ([]string, error)
	EdgesFrom(ctx context.Context, id string) ([]*types.Edge, error)
	EdgesTo(ctx context.Context, id string) ([]*types.Edge, error)
	ProjectRoot(ctx context.Context, project string) (*types.Node, error)
	ListProjects(ctx context.Context) ([]*types.ProjectSummary, error)
	ProjectNodes(ctx context.Context, project string) ([]*types.Node, error)
	Query(ctx context.Context, filter NodeFilter) (*QueryPage, error)
	// NextCandidates returns actionable nodes in a project (optionally
	// restricted to the scope subtree) in scheduling order: priority DESC
	// nulls last, depth DESC, updated_at ASC, id ASC.
	NextCandidates(ctx context.Context, project, scope string, limit int) ([]*types.Node, error)
	// ClaimedNodes returns the unresolved nodes in a project claimed by an
	// agent, most recently touched first. TTL is applied by the caller.
	ClaimedNodes(ctx context.Context, project, agent string) ([]*types.Node, error)
	Events(ctx context.Context, nodeID string, before int64, limit int) ([]*types.Event, error)
	ResolvedSince(ctx context.Context, project string, since time.Time) (int, error)
	GetKnowledge(ctx context.Context, project, key string) (*types.KnowledgeEntry, error)
	ListKnowledge(ctx context.Context, project string) ([]*types.KnowledgeEntry, error)
	KnowledgeLog(ctx context.Context, project string, limit int) ([]*types.KnowledgeLogEntry, error)

	// RunInTransaction executes fn within a single database transaction.
	// fn returning nil commits; an error or panic rolls back.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Checkpoint truncates the WAL back into the main database file.
	Checkpoint(ctx context.Context) error

	// Lifecycle
	Close() error
	Path() string
}
