package render

import (
	"fmt"
	"strings"

	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/types"
)

// ProjectStatus bundles everything the status report shows for one project.
type ProjectStatus struct {
	Summary    *types.ProjectSummary
	Continuity *engine.ContinuityReport
	Integrity  *engine.IntegrityReport
}

// Status builds the markdown health report. The caller decides whether to
// run it through a terminal renderer.
func Status(projects []ProjectStatus) string {
	var b strings.Builder
	b.WriteString("# Task Graph Status\n\n")

	if len(projects) == 0 {
		b.WriteString("No projects yet. Use graph_open with a project slug to create one.\n")
		return b.String()
	}

	for _, p := range projects {
		writeProjectStatus(&b, p)
	}
	return b.String()
}

func writeProjectStatus(b *strings.Builder, p ProjectStatus) {
	s := p.Summary
	fmt.Fprintf(b, "## %s\n\n", s.Project)
	if s.Strict {
		b.WriteString("*strict mode*\n\n")
	}

	open := s.Total - s.Resolved
	fmt.Fprintf(b, "| Total | Resolved | Open | Actionable | Blocked |\n")
	fmt.Fprintf(b, "|------:|---------:|-----:|-----------:|--------:|\n")
	fmt.Fprintf(b, "| %d | %d | %d | %d | %d |\n\n",
		s.Total, s.Resolved, open, s.Actionable, s.Blocked)

	if c := p.Continuity; c != nil {
		fmt.Fprintf(b, "**Continuity: %d/100 (%s)**", c.Score, c.Bucket)
		if c.Bucket == "low" {
			b.WriteString(" (a new agent would struggle to pick this up)")
		}
		b.WriteString("\n\n")
		for _, d := range c.Deductions {
			fmt.Fprintf(b, "- %s\n", d)
		}
		if len(c.Deductions) > 0 {
			b.WriteString("\n")
		}
	}

	if i := p.Integrity; i != nil {
		fmt.Fprintf(b, "Quality KPI: %.0f%% of resolved tasks carry strong evidence.\n\n", i.QualityKPI)
		if len(i.Issues) > 0 {
			fmt.Fprintf(b, "### Issues (%d)\n\n", len(i.Issues))
			for _, issue := range i.Issues {
				fmt.Fprintf(b, "- `%s` %s: %s. %s\n", issue.NodeID, issue.Type, issue.Detail, issue.Hint)
			}
			b.WriteString("\n")
		}
	}
}
