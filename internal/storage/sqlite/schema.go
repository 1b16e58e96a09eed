package sqlite

const schema = `
-- Nodes table: one row per task node, one tree per project
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    parent TEXT REFERENCES nodes(id),
    summary TEXT NOT NULL CHECK(length(summary) <= 2000),
    resolved INTEGER NOT NULL DEFAULT 0,
    blocked INTEGER NOT NULL DEFAULT 0,
    blocked_reason TEXT,
    discovery TEXT NOT NULL DEFAULT 'done',
    properties TEXT NOT NULL DEFAULT '{}',
    context_links TEXT NOT NULL DEFAULT '[]',
    evidence TEXT NOT NULL DEFAULT '[]',
    plan TEXT NOT NULL DEFAULT '[]',
    depth INTEGER NOT NULL DEFAULT 0,
    rev INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    -- blocked rows must explain themselves
    CHECK (blocked = 0 OR (blocked_reason IS NOT NULL AND blocked_reason != ''))
);

CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent);
CREATE INDEX IF NOT EXISTS idx_nodes_project_resolved ON nodes(project, resolved);
CREATE INDEX IF NOT EXISTS idx_nodes_project_updated ON nodes(project, updated_at);

-- Edges table: typed directed relations, parent links live on nodes.parent
CREATE TABLE IF NOT EXISTS edges (
    from_node TEXT NOT NULL,
    to_node TEXT NOT NULL,
    type TEXT NOT NULL,
    agent TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    PRIMARY KEY (from_node, to_node, type),
    FOREIGN KEY (from_node) REFERENCES nodes(id) ON DELETE CASCADE,
    FOREIGN KEY (to_node) REFERENCES nodes(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_edges_to_type ON edges(to_node, type);
CREATE INDEX IF NOT EXISTS idx_edges_from_type ON edges(from_node, type);

-- Events table (append-only audit trail)
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id TEXT NOT NULL,
    agent TEXT NOT NULL,
    action TEXT NOT NULL,
    changes TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_id);
CREATE INDEX IF NOT EXISTS idx_events_action_created ON events(action, created_at);

-- Knowledge store: project-scoped documents, unique per (project, key)
CREATE TABLE IF NOT EXISTS knowledge (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    key TEXT NOT NULL CHECK(length(key) <= 200),
    content TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'general',
    source_node TEXT,
    created_by TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (project, key)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_project ON knowledge(project);

-- Knowledge mutation log (append-only)
CREATE TABLE IF NOT EXISTS knowledge_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL,
    key TEXT NOT NULL,
    action TEXT NOT NULL,
    agent TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_log_project ON knowledge_log(project, id);
`
