package guide

import "metatool/internal/store"

// seedGuides is the static starter corpus, inserted only when the
// guides table is empty so user edits survive restarts.
var seedGuides = []store.Guide{
	{
		Slug:       "getting-started",
		Title:      "Getting Started with the Tool Gateway",
		Category:   "basics",
		Difficulty: "beginner",
		Excerpt:    "Connect a provider, list tools and make your first call.",
		Tags:       []string{"setup", "tools", "providers"},
		Content: `# Getting Started with the Tool Gateway

## Connect a provider
Register an external provider so its tools join the catalog. The
gateway indexes every tool description for relevance search.

## List the available tools
Call list_tools with a short description of what you want to do. The
gateway returns the essential tools plus the most relevant matches.

## Make your first call
Call call_tool with a tool name and arguments matching its input
schema. Invalid arguments are rejected before the tool runs.
`,
	},
	{
		Slug:       "memory-basics",
		Title:      "Saving and Recalling Memories",
		Category:   "memory",
		Difficulty: "beginner",
		Excerpt:    "Persist facts with memory_save and find them again with memory_recall.",
		Tags:       []string{"memory", "recall", "persistence"},
		Content: `# Saving and Recalling Memories

## Save a fact
memory_save stores a key and value, with an optional category and tags
for later filtering.

## Recall by relevance
memory_recall ranks stored entries against a free text query. Each
returned entry has its access count bumped.

## Forget what you no longer need
memory_forget deletes an entry by id. Deleting an absent id is not an
error.
`,
	},
	{
		Slug:       "task-planning",
		Title:      "Planning Work with Task Trees",
		Category:   "planning",
		Difficulty: "intermediate",
		Excerpt:    "Break work into a tree of tasks and track their status.",
		Tags:       []string{"planning", "tasks", "tree"},
		Content: `# Planning Work with Task Trees

## Create a root task
planning_create with just a content string makes a root task in the
pending state.

## Add subtasks
Pass parentId to nest tasks. The parent must exist and the edge may
not create a cycle.

## Track progress
planning_update moves tasks through pending, in-progress and
completed. planning_tree renders the whole forest with status glyphs.

## Clean up
planning_delete removes a task and its entire subtree in one call.
`,
	},
	{
		Slug:       "tdd-cycle",
		Title:      "Driving Development with the TDD Tools",
		Category:   "tdd",
		Difficulty: "intermediate",
		Excerpt:    "Record red, green and refactor phases against a test path.",
		Tags:       []string{"tdd", "testing", "red-green-refactor"},
		Content: `# Driving Development with the TDD Tools

## Start with a failing test
tdd_red runs the tests expecting a failure and records the red phase.

## Make it pass
tdd_green runs the tests again; a passing run records the green phase.

## Refactor with confidence
tdd_refactor confirms the tests still pass after cleanup and closes
the cycle.

## Verify the cycle state
tdd_verify re-runs the tests and warns when the last recorded phase
was not green.
`,
	},
	{
		Slug:       "agent-delegation",
		Title:      "Delegating Work to Agents",
		Category:   "agents",
		Difficulty: "advanced",
		Excerpt:    "Spawn background agents and collect their results.",
		Tags:       []string{"agents", "delegation", "background"},
		Content: `# Delegating Work to Agents

## Spawn an agent
agent_spawn starts a background worker with a task description and an
optional parent task link.

## Check on it
agent_status reports pending, running, completed, failed or timed-out.

## Collect the result
agent_result returns the stored output once the agent completes. Tasks
the agent reports as done are marked completed automatically.
`,
	},
}
