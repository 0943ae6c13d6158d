package tmuxfmt

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldSeparator delimits fields in every -F format pnp hands to tmux.
// ASCII Unit Separator cannot appear in window names typed by a user.
const FieldSeparator = "\x1f"

// Join builds a tmux format string with the canonical delimiter.
func Join(fields ...string) string {
	return strings.Join(fields, FieldSeparator)
}

// SplitLine splits one formatted output line. Lines from older tmux builds
// that rewrite control characters to "_" fall back to a real tab split.
func SplitLine(line string, maxParts int) []string {
	if maxParts <= 0 {
		return nil
	}
	if strings.Contains(line, FieldSeparator) {
		return strings.SplitN(line, FieldSeparator, maxParts)
	}
	if strings.Contains(line, "\t") {
		return strings.SplitN(line, "\t", maxParts)
	}
	return []string{line}
}

// Lines returns the non-blank lines of a tmux list command's output.
func Lines(output string) []string {
	raw := strings.Split(output, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Flag parses a tmux boolean format value ("1" or "0").
func Flag(v string) bool {
	return strings.TrimSpace(v) == "1"
}

// Int parses a tmux numeric format value.
func Int(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid tmux number %q", v)
	}
	return n, nil
}

// Int64 parses a tmux numeric format value; blank means zero.
func Int64(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tmux number %q", v)
	}
	return n, nil
}
