package render

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/untoldecay/taskgraph/internal/engine"
	"github.com/untoldecay/taskgraph/internal/types"
)

var (
	treeRootStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	treeEnumStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	resolvedStyle = lipgloss.NewStyle().Foreground(ColorPass)
	blockedStyle  = lipgloss.NewStyle().Foreground(ColorFail)
	pendingStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
)

// Tree renders a project tree for the terminal with per-node state markers.
func Tree(root *engine.TreeNode) string {
	if root == nil {
		return "empty project"
	}
	t := buildTree(root)
	t.RootStyle(treeRootStyle)
	t.EnumeratorStyle(treeEnumStyle)
	return t.String()
}

func buildTree(n *engine.TreeNode) *tree.Tree {
	t := tree.New().Root(nodeLabel(n.Node))
	t.EnumeratorStyle(treeEnumStyle)
	for _, child := range n.Children {
		t.Child(buildTree(child))
	}
	return t
}

func nodeLabel(n *types.Node) string {
	label := fmt.Sprintf("%s  %s", n.ID, n.Summary)
	switch {
	case n.Resolved:
		return resolvedStyle.Render("✓ ") + label
	case n.Blocked:
		return blockedStyle.Render("✗ ") + label
	case n.Discovery == types.DiscoveryPending && n.Parent != nil:
		return pendingStyle.Render("? ") + label
	default:
		return "· " + label
	}
}
