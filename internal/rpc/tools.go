package rpc

import (
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	// graph_open: list projects or open one, creating it on first touch.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_open",
			mcplib.WithDescription(`Open a project or list all projects.

Without a project: returns every project with resolved/actionable/blocked
counts. With a project slug: returns its root node, creating the project
if it does not exist yet. Call this first in a new session.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("project",
				mcplib.Description("Project slug (lowercase letters, digits, hyphens). Omit to list all projects."),
			),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity. Defaults to the configured identity.")),
		),
		s.handleOpen,
	)

	// graph_plan: create a batch of task nodes in one shot.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_plan",
			mcplib.WithDescription(`Create a batch of task nodes under existing parents.

Each node carries a batch-local ref so siblings can reference each other in
parent_ref and depends_on before ids exist. parent_ref is either another
ref in the batch or an existing node id (the project root to start).
Parents that gain children in the batch get discovery=done; leaves default
to discovery=pending until you have looked at them.`),
			mcplib.WithArray("nodes",
				mcplib.Description(`Nodes to create. Each: {ref, parent_ref, summary, depends_on?, context_links?, properties?, plan?, discovery?}`),
				mcplib.Required(),
			),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handlePlan,
	)

	// graph_next: ask the scheduler what to work on.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_next",
			mcplib.WithDescription(`Get the next actionable tasks, optionally claiming them.

Actionable means: unresolved, not blocked, no unresolved children, and
every depends_on dependency resolved. Results are ordered by priority,
then depth (deepest first), then staleness. With claim=true each returned
task is soft-claimed for you; claims expire after the configured TTL and
other agents skip fresh foreign claims.

If you hold a recent claim the scheduler auto-scopes to its parent so you
keep working in one area; pass scope explicitly to override.`),
			mcplib.WithString("project", mcplib.Description("Project slug. May be omitted when exactly one project exists.")),
			mcplib.WithString("scope", mcplib.Description("Node id to restrict candidates to its subtree.")),
			mcplib.WithObject("filter", mcplib.Description("Property filter; only tasks whose properties contain these values qualify.")),
			mcplib.WithNumber("count", mcplib.Description("How many tasks to return."), mcplib.Min(1), mcplib.Max(20), mcplib.DefaultNumber(1)),
			mcplib.WithBoolean("claim", mcplib.Description("Soft-claim the returned tasks.")),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleNext,
	)

	// graph_context: everything needed to pick up a node cold.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_context",
			mcplib.WithDescription(`Full context for one node: the node itself, its ancestor chain
(root first), children, dependency status in both directions, related
edges, and recent events.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("node_id", mcplib.Description("Node id."), mcplib.Required()),
		),
		s.handleContext,
	)

	// graph_update: mutate nodes in a batch.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_update",
			mcplib.WithDescription(`Apply a batch of node mutations atomically.

Each update may set summary, resolved (+resolved_reason), blocked
(+blocked_reason, required when blocking), discovery, properties (null
value deletes a key), context_links, evidence, or plan. Resolving requires
at least one evidence item. Pass expected_rev for optimistic concurrency;
a mismatch rejects the whole batch with rev_mismatch.

Resolving a node may cascade: parents whose children are all resolved
auto-resolve, and the response lists nodes that just became actionable.`),
			mcplib.WithArray("updates",
				mcplib.Description(`Mutations. Each: {node_id, summary?, resolved?, resolved_reason?, blocked?, blocked_reason?, discovery?, properties?, context_links?, evidence?: [{type, ref}], plan?, expected_rev?}`),
				mcplib.Required(),
			),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleUpdate,
	)

	// graph_resolve: one-call resolve shorthand.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_resolve",
			mcplib.WithDescription(`Resolve one node with a single evidence item built from message.
Shorthand for graph_update; use graph_update for batches or richer
evidence.`),
			mcplib.WithString("node_id", mcplib.Description("Node id."), mcplib.Required()),
			mcplib.WithString("message", mcplib.Description("What was done; stored as evidence."), mcplib.Required()),
			mcplib.WithString("evidence_type",
				mcplib.Description("Evidence type: note (default), git, test, file, url."),
				mcplib.Enum("note", "git", "test", "file", "url"),
			),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleResolve,
	)

	// graph_connect: manage non-hierarchy edges.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_connect",
			mcplib.WithDescription(`Add or remove edges between nodes.

Edge types: depends_on (scheduling), relates_to, duplicates, supersedes.
Each edge is accepted or rejected independently; accepted edges commit
even when others are rejected. depends_on edges that would create a cycle
are rejected with cycle_detected. Removing a depends_on edge may make the
source actionable; the response lists those.`),
			mcplib.WithArray("edges",
				mcplib.Description(`Edge operations. Each: {op: add|remove (default add), from, to, type (default depends_on)}`),
				mcplib.Required(),
			),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleConnect,
	)

	// graph_query: filtered, sorted, paginated search.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_query",
			mcplib.WithDescription(`Query nodes in a project with filters, sorting, and cursor pagination.

Sorts: readiness (actionable first, then deepest, then stalest),
recent, created, depth. Pass the returned next_cursor to continue a page.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
			mcplib.WithBoolean("resolved", mcplib.Description("Filter by resolved state.")),
			mcplib.WithBoolean("is_blocked", mcplib.Description("Filter by blocked state.")),
			mcplib.WithBoolean("is_actionable", mcplib.Description("Filter to actionable (or non-actionable) nodes.")),
			mcplib.WithBoolean("is_leaf", mcplib.Description("Filter to leaves (nodes without children).")),
			mcplib.WithString("ancestor", mcplib.Description("Restrict to the subtree under this node id.")),
			mcplib.WithString("text", mcplib.Description("Substring match on summary.")),
			mcplib.WithString("has_evidence_type", mcplib.Description("Only nodes carrying evidence of this type.")),
			mcplib.WithString("claimed_by", mcplib.Description("Agent whose claim to match; empty string matches unclaimed nodes.")),
			mcplib.WithObject("properties", mcplib.Description("Property subset the node must contain.")),
			mcplib.WithString("sort",
				mcplib.Description("Sort order."),
				mcplib.Enum("readiness", "recent", "created", "depth"),
			),
			mcplib.WithNumber("limit", mcplib.Description("Page size."), mcplib.Min(1), mcplib.Max(200), mcplib.DefaultNumber(50)),
			mcplib.WithString("cursor", mcplib.Description("Opaque cursor from a previous page.")),
		),
		s.handleQuery,
	)

	// graph_restructure: reshape the tree.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_restructure",
			mcplib.WithDescription(`Restructure the graph: move, merge, drop, or delete nodes.

move: reparent a subtree (same project, no cycles). merge: fold a node
into a target, reparenting children and redirecting edges. drop: resolve
a subtree as abandoned, with a required reason. delete: remove a subtree
outright (rejected for roots whose descendants carry evidence; prefer
drop to keep history). Operations are applied independently and report
per-op outcomes.`),
			mcplib.WithArray("operations",
				mcplib.Description(`Operations. Each: {op: move|merge|drop|delete, node_id, new_parent? (move), target? (merge), reason? (drop)}`),
				mcplib.Required(),
			),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleRestructure,
	)

	// graph_history: a node's audit trail.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_history",
			mcplib.WithDescription(`Audit trail for one node, newest first. Pass before from a
previous page to continue.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("node_id", mcplib.Description("Node id."), mcplib.Required()),
			mcplib.WithNumber("before", mcplib.Description("Only events older than this event id.")),
			mcplib.WithNumber("limit", mcplib.Description("Page size."), mcplib.Min(1), mcplib.Max(200), mcplib.DefaultNumber(50)),
		),
		s.handleHistory,
	)

	// graph_onboard: orientation for a fresh session.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_onboard",
			mcplib.WithDescription(`Orientation bundle: all projects with counts, your live claims,
and the freshest knowledge per project. Call at session start.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleOnboard,
	)

	// graph_tree: the full parent/child tree.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_tree",
			mcplib.WithDescription("Full parent/child tree of a project as nested JSON."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
		),
		s.handleTree,
	)

	// graph_status: human-readable health report.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_status",
			mcplib.WithDescription(`Markdown status report: per-project counts, the continuity
score (how safely a new agent could pick the project up), and integrity
issues with remediation hints.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("project", mcplib.Description("Limit the report to one project.")),
		),
		s.handleStatus,
	)

	s.registerKnowledgeTools()

	// graph_retro: review or record a retrospective.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_retro",
			mcplib.WithDescription(`Run a retrospective on a project.

Without findings: returns review context: nodes resolved since your last
retro plus all stored knowledge. With findings: persists them as one
knowledge entry and resets the retro nudge counter. Finding categories:
claude_md_candidate, knowledge_gap, workflow_improvement, bug_or_debt,
knowledge_drift. claude_md_candidate findings are surfaced separately so
you can promote them into CLAUDE.md.`),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
			mcplib.WithString("scope", mcplib.Description("Node id to restrict the review to its subtree.")),
			mcplib.WithArray("findings",
				mcplib.Description(`Lessons to record. Each: {category, content}`),
			),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleRetro,
	)

	// graph_agent_config: how agents should use this server.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_agent_config",
			mcplib.WithDescription("Usage guide for agents: the intended workflow across the graph_* tools, suitable for pasting into an agent system prompt."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
		),
		s.handleAgentConfig,
	)
}

func (s *Server) registerKnowledgeTools() {
	// graph_knowledge_write: store durable knowledge.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_knowledge_write",
			mcplib.WithDescription(`Store a durable knowledge entry, upserting by (project, key).

Categories: general, architecture, convention, decision, environment,
api-contract, discovery. The response surfaces similar existing keys so
you can consolidate instead of fragmenting, and warns when content
exceeds 8KB. The source node defaults to your current claim.`),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Stable kebab-case key, e.g. auth-token-refresh."), mcplib.Required()),
			mcplib.WithString("content", mcplib.Description("The knowledge itself."), mcplib.Required()),
			mcplib.WithString("category",
				mcplib.Description("Knowledge category; defaults to general."),
				mcplib.Enum("general", "architecture", "convention", "decision", "environment", "api-contract", "discovery"),
			),
			mcplib.WithString("source_node", mcplib.Description("Node this knowledge came from; defaults to your active claim.")),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleKnowledgeWrite,
	)

	// graph_knowledge_read: fetch one entry.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_knowledge_read",
			mcplib.WithDescription("Read one knowledge entry by key."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Entry key."), mcplib.Required()),
		),
		s.handleKnowledgeRead,
	)

	// graph_knowledge_delete: remove an entry, keeping the audit log.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_knowledge_delete",
			mcplib.WithDescription("Delete one knowledge entry. The deletion is recorded in the knowledge audit log."),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
			mcplib.WithString("key", mcplib.Description("Entry key."), mcplib.Required()),
			mcplib.WithString("agent", mcplib.Description("Acting agent identity.")),
		),
		s.handleKnowledgeDelete,
	)

	// graph_knowledge_search: substring search over entries.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_knowledge_search",
			mcplib.WithDescription("Search knowledge entries by substring over key and content, optionally narrowed to one category."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
			mcplib.WithString("query", mcplib.Description("Substring to match; omit to list everything in a category.")),
			mcplib.WithString("category", mcplib.Description("Limit to one category.")),
		),
		s.handleKnowledgeSearch,
	)

	// graph_knowledge_audit: who changed what.
	s.mcpServer.AddTool(
		mcplib.NewTool("graph_knowledge_audit",
			mcplib.WithDescription("Knowledge mutation log for a project, newest first: every write and delete with agent and timestamp."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("project", mcplib.Description("Project slug."), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("Maximum entries."), mcplib.Min(1), mcplib.Max(500), mcplib.DefaultNumber(100)),
		),
		s.handleKnowledgeAudit,
	)
}
