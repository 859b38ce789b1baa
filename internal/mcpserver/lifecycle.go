package mcpserver

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/starford/dispatchd/internal/models"
)

const lifecycleHeader = `# dispatchd Status Lifecycle

Each table is polled on a fixed interval. A record is processed when its
status differs from the ` + "`%s`" + ` value in its engine metadata, or when
it has a status but no metadata yet. Processing runs every action listed for
the new status; the cursor only moves once all of them succeed, so a failed
record is retried on every poll until it succeeds or a human changes it.

Statuses with no actions are still valid: entering them only moves the cursor.
A status missing from this list is rejected and logged.
`

// RenderLifecycle renders the status lifecycle of every table as Markdown.
func RenderLifecycle(lifecycle map[string]map[string][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, lifecycleHeader, models.MetaLastSeenStatus)

	for _, table := range slices.Sorted(maps.Keys(lifecycle)) {
		fmt.Fprintf(&b, "\n## %s\n\n", table)
		states := lifecycle[table]
		for _, status := range slices.Sorted(maps.Keys(states)) {
			actions := states[status]
			if len(actions) == 0 {
				fmt.Fprintf(&b, "- **%s**: no actions\n", status)
				continue
			}
			fmt.Fprintf(&b, "- **%s**: %s\n", status, strings.Join(actions, ", "))
		}
	}
	return b.String()
}
