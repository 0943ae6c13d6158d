package picker

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Render draws the picker surface, clipped to rows x cols. Non-positive
// dimensions disable clipping on that axis.
func (p *Plugin) Render(rows, cols int) string {
	lines := []string{
		fmt.Sprintf("Picked panes: %v", p.picked.Panes()),
		"",
	}
	if pane, ok := p.inv.CurrentPane(); ok {
		lines = append(lines, fmt.Sprintf("Focused Pane: %s", pane))
	}
	if rows > 0 && len(lines) > rows {
		lines = lines[:rows]
	}
	if cols > 0 {
		for i, line := range lines {
			lines[i] = ansi.Truncate(line, cols, "…")
		}
	}
	return strings.Join(lines, "\n")
}
