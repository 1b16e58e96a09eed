// Package types defines the core data structures for the taskgraph engine.
package types

import (
	"fmt"
	"regexp"
	"time"
)

// Discovery states. A node with pending discovery cannot receive children
// until its decomposition has been recorded.
const (
	DiscoveryPending = "pending"
	DiscoveryDone    = "done"
)

// Reserved property keys. Keys with a leading underscore are engine-owned;
// priority and strict are caller-settable but typed.
const (
	PropClaimedBy = "_claimed_by"
	PropClaimedAt = "_claimed_at"
	PropPriority  = "priority"
	PropStrict    = "strict"
)

// Evidence types. Custom types are allowed; these are the ones the engine
// gives meaning to (strict mode, quality KPI).
const (
	EvidenceGit    = "git"
	EvidenceNote   = "note"
	EvidenceTest   = "test"
	EvidenceCustom = "custom"
)

// Edge types. "parent" is reserved: tree ownership is a column on the node,
// never an edge.
const (
	EdgeDependsOn = "depends_on"
	EdgeRelatesTo = "relates_to"
	EdgeParent    = "parent"
)

// Event actions recorded in the audit log.
const (
	EventCreated          = "created"
	EventUpdated          = "updated"
	EventResolved         = "resolved"
	EventMoved            = "moved"
	EventMerged           = "merged"
	EventDropped          = "dropped"
	EventDeleted          = "deleted"
	EventEdgeAdded        = "edge_added"
	EventEdgeRemoved      = "edge_removed"
	EventDiscoveryChanged = "discovery_changed"
	EventBlockedChanged   = "blocked_changed"
)

// Knowledge categories (closed set).
const (
	CategoryGeneral      = "general"
	CategoryArchitecture = "architecture"
	CategoryConvention   = "convention"
	CategoryDecision     = "decision"
	CategoryEnvironment  = "environment"
	CategoryAPIContract  = "api-contract"
	CategoryDiscovery    = "discovery"
)

// KnowledgeCategories lists every valid category.
var KnowledgeCategories = []string{
	CategoryGeneral, CategoryArchitecture, CategoryConvention,
	CategoryDecision, CategoryEnvironment, CategoryAPIContract,
	CategoryDiscovery,
}

// ValidCategory reports whether c is a member of the closed category set.
func ValidCategory(c string) bool {
	for _, k := range KnowledgeCategories {
		if c == k {
			return true
		}
	}
	return false
}

// Evidence is a typed record attached to a node proving work was done.
type Evidence struct {
	Type      string    `json:"type"`
	Ref       string    `json:"ref"`
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// Node is the unit of work: one vertex in a project tree.
type Node struct {
	ID            string     `json:"id"`
	Project       string     `json:"project"`
	Parent        *string    `json:"parent"` // nil iff project root
	Summary       string     `json:"summary"`
	Resolved      bool       `json:"resolved"`
	Blocked       bool       `json:"blocked"`
	BlockedReason *string    `json:"blocked_reason,omitempty"`
	Discovery     string     `json:"discovery"` // pending|done; legacy empty reads as done
	Properties    Properties `json:"properties,omitempty"`
	ContextLinks  []string   `json:"context_links,omitempty"`
	Evidence      []Evidence `json:"evidence,omitempty"`
	Plan          []string   `json:"plan,omitempty"`
	Depth         int        `json:"depth"`
	Rev           int64      `json:"rev"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsRoot reports whether the node is a project root.
func (n *Node) IsRoot() bool { return n.Parent == nil }

// DiscoveryDone reports whether children may be created under this node.
// A missing discovery value (legacy rows) counts as done.
func (n *Node) DiscoveryDone() bool {
	return n.Discovery == "" || n.Discovery == DiscoveryDone
}

// HasEvidenceType reports whether the node carries at least one evidence
// record of any of the given types.
func (n *Node) HasEvidenceType(evidenceTypes ...string) bool {
	for _, ev := range n.Evidence {
		for _, t := range evidenceTypes {
			if ev.Type == t {
				return true
			}
		}
	}
	return false
}

// Validate checks field values on a node about to be written.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if err := ValidateProject(n.Project); err != nil {
		return err
	}
	if n.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	if len(n.Summary) > 2000 {
		return fmt.Errorf("summary must be 2000 characters or less (got %d)", len(n.Summary))
	}
	if n.Discovery != "" && n.Discovery != DiscoveryPending && n.Discovery != DiscoveryDone {
		return fmt.Errorf("invalid discovery state: %q", n.Discovery)
	}
	if n.Blocked && (n.BlockedReason == nil || *n.BlockedReason == "") {
		return fmt.Errorf("blocked nodes must carry a blocked_reason")
	}
	if n.Resolved && len(n.Evidence) == 0 {
		return fmt.Errorf("resolved nodes must carry evidence")
	}
	if n.Depth < 0 {
		return fmt.Errorf("depth cannot be negative")
	}
	return nil
}

var projectSlugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidateProject checks a project slug: lowercase letters, digits, hyphens.
func ValidateProject(slug string) error {
	if slug == "" {
		return fmt.Errorf("project is required")
	}
	if len(slug) > 100 {
		return fmt.Errorf("project slug must be 100 characters or less")
	}
	if !projectSlugRe.MatchString(slug) {
		return fmt.Errorf("invalid project slug %q (lowercase letters, digits, hyphens)", slug)
	}
	return nil
}

// Edge is a typed directed relation between two nodes in the same project.
type Edge struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks an edge about to be written. The parent type is forbidden
// at this layer; tree ownership lives on the node row.
func (e *Edge) Validate() error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("edge endpoints are required")
	}
	if e.From == e.To {
		return fmt.Errorf("edge cannot point at its own source")
	}
	if e.Type == "" {
		return fmt.Errorf("edge type is required")
	}
	if e.Type == EdgeParent {
		return fmt.Errorf("parent edges are not allowed; tree ownership is not an edge")
	}
	if len(e.Type) > 50 {
		return fmt.Errorf("edge type must be 50 characters or less")
	}
	return nil
}

// Event is one append-only audit record.
type Event struct {
	ID        int64     `json:"id"`
	NodeID    string    `json:"node_id"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Changes   string    `json:"changes,omitempty"` // JSON diff
	Timestamp time.Time `json:"timestamp"`
}

// KnowledgeEntry is one project-scoped document, unique on (project, key).
type KnowledgeEntry struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Key        string    `json:"key"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	SourceNode *string   `json:"source_node,omitempty"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks a knowledge entry about to be written.
func (k *KnowledgeEntry) Validate() error {
	if err := ValidateProject(k.Project); err != nil {
		return err
	}
	if k.Key == "" {
		return fmt.Errorf("knowledge key is required")
	}
	if len(k.Key) > 200 {
		return fmt.Errorf("knowledge key must be 200 characters or less")
	}
	if k.Content == "" {
		return fmt.Errorf("knowledge content is required")
	}
	if !ValidCategory(k.Category) {
		return fmt.Errorf("invalid category: %q", k.Category)
	}
	return nil
}

// KnowledgeLogEntry is one row of the append-only knowledge mutation log.
type KnowledgeLogEntry struct {
	ID        int64     `json:"id"`
	Project   string    `json:"project"`
	Key       string    `json:"key"`
	Action    string    `json:"action"` // write|delete
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// ProjectSummary is the per-project roll-up returned by graph_open and the
// dashboard.
type ProjectSummary struct {
	Project    string    `json:"project"`
	RootID     string    `json:"root_id"`
	Total      int       `json:"total"`
	Resolved   int       `json:"resolved"`
	Actionable int       `json:"actionable"`
	Blocked    int       `json:"blocked"`
	UpdatedAt  time.Time `json:"updated_at"`
	Strict     bool      `json:"strict"`
}
