package planning

import (
	"fmt"
	"strings"

	"metatool/internal/store"
)

// Summary counts tasks by status.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

func summarize(tasks []store.Task) Summary {
	var s Summary
	for _, t := range tasks {
		s.Total++
		switch t.Status {
		case store.TaskPending:
			s.Pending++
		case store.TaskInProgress:
			s.InProgress++
		case store.TaskCompleted:
			s.Completed++
		}
	}
	return s
}

func glyph(status store.TaskStatus) string {
	switch status {
	case store.TaskCompleted:
		return "[x]"
	case store.TaskInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

// renderTree draws a deterministic ASCII tree. Sibling order follows
// the input slice, which ListTasks keeps in creation order. When rootID
// is set only that subtree is drawn; otherwise every root is.
func renderTree(tasks []store.Task, rootID string) string {
	children := make(map[string][]store.Task)
	byID := make(map[string]store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		children[t.ParentID] = append(children[t.ParentID], t)
	}

	var b strings.Builder
	var roots []store.Task
	if rootID != "" {
		if root, ok := byID[rootID]; ok {
			roots = []store.Task{root}
		}
	} else {
		roots = children[""]
	}
	if len(roots) == 0 {
		return "(no tasks)"
	}

	for _, root := range roots {
		writeNode(&b, root, "", true, true, children)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeNode(b *strings.Builder, t store.Task, prefix string, isLast, isRoot bool, children map[string][]store.Task) {
	line := fmt.Sprintf("%s %s", glyph(t.Status), t.Content)
	if t.Type == "tdd" && t.TDDPhase != "" {
		line += fmt.Sprintf(" (tdd:%s)", t.TDDPhase)
	}

	if isRoot {
		b.WriteString(line + "\n")
	} else {
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		b.WriteString(prefix + connector + line + "\n")
	}

	childPrefix := prefix
	if !isRoot {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	kids := children[t.ID]
	for i, kid := range kids {
		writeNode(b, kid, childPrefix, i == len(kids)-1, false, children)
	}
}
