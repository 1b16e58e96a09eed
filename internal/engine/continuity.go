package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/taskgraph/internal/storage"
	"github.com/untoldecay/taskgraph/internal/types"
)

// Integrity issue types.
const (
	IssueWeakEvidence = "weak_evidence"
	IssueStaleClaim   = "stale_claim"
	IssueOrphan       = "orphan"
	IssueStaleTask    = "stale_task"
)

const (
	staleClaimAge = 24 * time.Hour
	staleTaskAge  = 7 * 24 * time.Hour
)

// ContinuityReport scores how safely a new agent could pick the project up.
type ContinuityReport struct {
	Project    string   `json:"project"`
	Score      int      `json:"score"` // 0..100
	Bucket     string   `json:"bucket"` // high|medium|low
	Deductions []string `json:"deductions,omitempty"`
}

// IntegrityIssue is one detected problem with a remediation hint.
type IntegrityIssue struct {
	Type   string `json:"type"`
	NodeID string `json:"node_id"`
	Detail string `json:"detail"`
	Hint   string `json:"hint"`
}

// IntegrityReport is the full audit of a project.
type IntegrityReport struct {
	Project    string           `json:"project"`
	Issues     []IntegrityIssue `json:"issues"`
	QualityKPI float64          `json:"quality_kpi"` // 0..100
}

// Continuity computes the confidence score for a project. Deductions follow
// fixed thresholds on evidence coverage, recency, knowledge and blockers.
func (e *Engine) Continuity(ctx context.Context, project string) (*ContinuityReport, error) {
	nodes, err := e.projectNodesChecked(ctx, project)
	if err != nil {
		return nil, err
	}
	now := e.now()
	report := &ContinuityReport{Project: project, Score: 100}
	deduct := func(points int, reason string) {
		report.Score -= points
		report.Deductions = append(report.Deductions, reason)
	}

	var resolvedNonRoot, withEvidence int
	var lastTouch time.Time
	var staleBlockers int
	for _, n := range nodes {
		if n.UpdatedAt.After(lastTouch) {
			lastTouch = n.UpdatedAt
		}
		if n.Blocked && !n.Resolved && now.Sub(n.UpdatedAt) > staleTaskAge {
			staleBlockers++
		}
		if n.IsRoot() || !n.Resolved {
			continue
		}
		resolvedNonRoot++
		if len(n.Evidence) > 0 {
			withEvidence++
		}
	}

	if resolvedNonRoot > 0 {
		coverage := float64(withEvidence) / float64(resolvedNonRoot)
		switch {
		case coverage < 0.5:
			deduct(40, fmt.Sprintf("evidence coverage %.0f%% (below 50%%)", coverage*100))
		case coverage < 0.8:
			deduct(20, fmt.Sprintf("evidence coverage %.0f%% (below 80%%)", coverage*100))
		}
	}

	if !lastTouch.IsZero() {
		idle := now.Sub(lastTouch)
		switch {
		case idle > 14*24*time.Hour:
			deduct(25, "no mutation in 14 days")
		case idle > 7*24*time.Hour:
			deduct(15, "no mutation in 7 days")
		}
	}

	if resolvedNonRoot >= 5 {
		entries, err := e.store.ListKnowledge(ctx, project)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			deduct(15, "mature project with no knowledge entries")
		}
	}

	if staleBlockers > 0 {
		deduct(10, fmt.Sprintf("%d nodes blocked for over 7 days", staleBlockers))
	}

	if report.Score < 0 {
		report.Score = 0
	}
	switch {
	case report.Score >= 80:
		report.Bucket = "high"
	case report.Score >= 50:
		report.Bucket = "medium"
	default:
		report.Bucket = "low"
	}
	return report, nil
}

// Integrity audits a project for recoverable problems and computes the
// quality KPI: the share of resolved non-root nodes carrying at least one
// git or test evidence and at least one context link.
func (e *Engine) Integrity(ctx context.Context, project string) (*IntegrityReport, error) {
	nodes, err := e.projectNodesChecked(ctx, project)
	if err != nil {
		return nil, err
	}
	now := e.now()
	byID := make(map[string]*types.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	report := &IntegrityReport{Project: project}
	var resolvedNonRoot, qualityHits int

	for _, n := range nodes {
		if !n.IsRoot() && n.Resolved {
			resolvedNonRoot++
			if n.HasEvidenceType(types.EvidenceGit, types.EvidenceTest) && len(n.ContextLinks) > 0 {
				qualityHits++
			}
			if !autoResolved(n) && !n.HasEvidenceType(types.EvidenceGit, types.EvidenceTest) && len(n.ContextLinks) == 0 {
				report.Issues = append(report.Issues, IntegrityIssue{
					Type:   IssueWeakEvidence,
					NodeID: n.ID,
					Detail: "resolved with note-only evidence and no context links",
					Hint:   "attach a git or test evidence ref, or a context link",
				})
			}
		}

		if !n.Resolved {
			if at := n.Properties.ClaimedAt(); !at.IsZero() && now.Sub(at) > staleClaimAge {
				report.Issues = append(report.Issues, IntegrityIssue{
					Type:   IssueStaleClaim,
					NodeID: n.ID,
					Detail: fmt.Sprintf("claimed by %s over 24h ago", n.Properties.ClaimedBy()),
					Hint:   "the claim has long expired; reclaim via graph_next or clear it",
				})
			}
			if n.Parent != nil {
				if parent, ok := byID[*n.Parent]; ok && parent.Resolved {
					report.Issues = append(report.Issues, IntegrityIssue{
						Type:   IssueOrphan,
						NodeID: n.ID,
						Detail: fmt.Sprintf("unresolved under resolved parent %s", parent.ID),
						Hint:   "reopen the parent or resolve/drop this node",
					})
				}
			}
			if n.Properties.ClaimedBy() == "" && now.Sub(n.UpdatedAt) > staleTaskAge {
				report.Issues = append(report.Issues, IntegrityIssue{
					Type:   IssueStaleTask,
					NodeID: n.ID,
					Detail: "unresolved, unclaimed and untouched for over 7 days",
					Hint:   "schedule it via graph_next, block it with a reason, or drop it",
				})
			}
		}
	}

	if resolvedNonRoot > 0 {
		report.QualityKPI = float64(qualityHits) / float64(resolvedNonRoot) * 100
	}
	return report, nil
}

func autoResolved(n *types.Node) bool {
	for _, ev := range n.Evidence {
		if ev.Type == types.EvidenceNote && ev.Ref == autoResolveNote {
			return true
		}
	}
	return false
}

func (e *Engine) projectNodesChecked(ctx context.Context, project string) ([]*types.Node, error) {
	if project == "" {
		return nil, Errorf(CodeValidation, "project is required")
	}
	if _, err := e.store.ProjectRoot(ctx, project); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Errorf(CodeProjectNotFound, "project %s not found", project)
		}
		return nil, err
	}
	return e.store.ProjectNodes(ctx, project)
}
