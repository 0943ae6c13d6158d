package picker

import (
	"errors"
	"fmt"

	"github.com/g960059/pnp/internal/model"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrPermissionDenied = errors.New("permission denied")
)

// ParseCommand maps a pipe payload to a command. Only the exact lowercase
// words are accepted.
func ParseCommand(word string) (model.Command, error) {
	switch model.Command(word) {
	case model.CommandPick, model.CommandPlace, model.CommandChuck, model.CommandToss, model.CommandSpike:
		return model.Command(word), nil
	default:
		return "", fmt.Errorf("%w '%s'", ErrUnknownCommand, word)
	}
}

// ChuckMode selects how chuck consolidates panes into a new tab.
type ChuckMode string

const (
	// ChuckDirect breaks the picked panes into a new tab in one host call.
	ChuckDirect ChuckMode = "direct"
	// ChuckDeferred creates an empty tab, waits for the refreshed tab list
	// and then runs place against the newly focused tab.
	ChuckDeferred ChuckMode = "deferred"
)

// Options are the plugin configuration keys read at load time.
type Options struct {
	Visible     bool
	Chuck       ChuckMode
	PaneUpdates bool
}

func DefaultOptions() Options {
	return Options{Chuck: ChuckDirect}
}

// ParseOptions reads the load-time configuration map. Unknown keys are
// ignored.
func ParseOptions(raw map[string]string) (Options, error) {
	opts := DefaultOptions()
	for key, value := range raw {
		switch key {
		case "visible":
			v, err := parseBool(value)
			if err != nil {
				return Options{}, fmt.Errorf("option %s: %w", key, err)
			}
			opts.Visible = v
		case "pane_updates":
			v, err := parseBool(value)
			if err != nil {
				return Options{}, fmt.Errorf("option %s: %w", key, err)
			}
			opts.PaneUpdates = v
		case "chuck":
			switch ChuckMode(value) {
			case ChuckDirect, ChuckDeferred:
				opts.Chuck = ChuckMode(value)
			default:
				return Options{}, fmt.Errorf("option chuck: unsupported mode %q", value)
			}
		}
	}
	return opts, nil
}

func parseBool(raw string) (bool, error) {
	switch raw {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", raw)
	}
}
