// Package observer reads the tmux topology pnp needs: the session the
// user is working in, its windows (tabs) and the attached clients.
package observer

import (
	"context"
	"fmt"
	"strings"

	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/target"
	"github.com/g960059/pnp/internal/tmuxfmt"
)

var clientFormat = tmuxfmt.Join(
	"#{client_name}",
	"#{session_name}",
	"#{pane_id}",
	"#{pane_current_command}",
	"#{client_activity}",
)

var windowFormat = tmuxfmt.Join(
	"#{window_index}",
	"#{window_active}",
	"#{window_panes}",
	"#{pane_id}",
	"#{window_name}",
)

// TmuxObserver answers topology queries through a target executor. The
// stash session is excluded from every answer.
type TmuxObserver struct {
	executor *target.Executor
	stash    string
}

func NewTmuxObserver(executor *target.Executor, stashSession string) *TmuxObserver {
	return &TmuxObserver{executor: executor, stash: stashSession}
}

// clientRow is one parsed list-clients line.
type clientRow struct {
	info     model.ClientInfo
	session  string
	activity int64
}

// ListClients reports attached clients. The client with the latest
// activity is the current one.
func (o *TmuxObserver) ListClients(ctx context.Context) ([]model.ClientInfo, error) {
	rows, err := o.clients(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ClientInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.info)
	}
	return out, nil
}

// CurrentSession is the session of the current client, or the server's
// notion of the current session when no client is attached.
func (o *TmuxObserver) CurrentSession(ctx context.Context) (string, error) {
	rows, err := o.clients(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range rows {
		if r.info.IsCurrent {
			return r.session, nil
		}
	}
	res, err := o.executor.Tmux(ctx, "display-message", "-p", "#{session_name}")
	if err != nil {
		return "", fmt.Errorf("current session: %w", err)
	}
	name := strings.TrimSpace(res.Output)
	if name == "" || name == o.stash {
		return "", fmt.Errorf("current session: no session")
	}
	return name, nil
}

// ListTabs lists the windows of the current session in index order.
func (o *TmuxObserver) ListTabs(ctx context.Context) ([]model.TabInfo, error) {
	session, err := o.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	res, err := o.executor.Tmux(ctx, "list-windows", "-t", session+":", "-F", windowFormat)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return parseListWindowsOutput(res.Output)
}

// ListPanes lists pane ids of every session except the stash.
func (o *TmuxObserver) ListPanes(ctx context.Context) ([]model.PaneID, error) {
	res, err := o.executor.Tmux(ctx, "list-panes", "-a", "-F", tmuxfmt.Join("#{pane_id}", "#{session_name}"))
	if err != nil {
		return nil, fmt.Errorf("list panes: %w", err)
	}
	panes := make([]model.PaneID, 0)
	for _, line := range tmuxfmt.Lines(res.Output) {
		parts := tmuxfmt.SplitLine(line, 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "%") {
			return nil, fmt.Errorf("invalid tmux list-panes line: %q", line)
		}
		if parts[1] == o.stash {
			continue
		}
		panes = append(panes, model.PaneID(parts[0]))
	}
	return panes, nil
}

func (o *TmuxObserver) clients(ctx context.Context) ([]clientRow, error) {
	res, err := o.executor.Tmux(ctx, "list-clients", "-F", clientFormat)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	rows, err := parseListClientsOutput(res.Output)
	if err != nil {
		return nil, err
	}
	kept := rows[:0]
	for _, r := range rows {
		if r.session == o.stash {
			continue
		}
		kept = append(kept, r)
	}
	markCurrent(kept)
	return kept, nil
}

func parseListClientsOutput(output string) ([]clientRow, error) {
	rows := make([]clientRow, 0)
	for _, line := range tmuxfmt.Lines(output) {
		parts := tmuxfmt.SplitLine(line, 5)
		if len(parts) != 5 {
			return nil, fmt.Errorf("invalid tmux list-clients line: %q", line)
		}
		pane := strings.TrimSpace(parts[2])
		if !strings.HasPrefix(pane, "%") {
			return nil, fmt.Errorf("invalid tmux list-clients line: %q", line)
		}
		activity, err := tmuxfmt.Int64(parts[4])
		if err != nil {
			return nil, fmt.Errorf("invalid tmux list-clients line %q: %w", line, err)
		}
		rows = append(rows, clientRow{
			info: model.ClientInfo{
				ClientID:       strings.TrimSpace(parts[0]),
				PaneID:         model.PaneID(pane),
				RunningCommand: strings.TrimSpace(parts[3]),
			},
			session:  strings.TrimSpace(parts[1]),
			activity: activity,
		})
	}
	return rows, nil
}

// markCurrent flags the most recently active client; ties keep the first.
func markCurrent(rows []clientRow) {
	best := -1
	for i, r := range rows {
		if best < 0 || r.activity > rows[best].activity {
			best = i
		}
	}
	if best >= 0 {
		rows[best].info.IsCurrent = true
	}
}

func parseListWindowsOutput(output string) ([]model.TabInfo, error) {
	tabs := make([]model.TabInfo, 0)
	for _, line := range tmuxfmt.Lines(output) {
		parts := tmuxfmt.SplitLine(line, 5)
		if len(parts) != 5 {
			return nil, fmt.Errorf("invalid tmux list-windows line: %q", line)
		}
		index, err := tmuxfmt.Int(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid tmux list-windows line %q: %w", line, err)
		}
		count, err := tmuxfmt.Int(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid tmux list-windows line %q: %w", line, err)
		}
		tabs = append(tabs, model.TabInfo{
			Position:   index,
			Name:       parts[4],
			Active:     tmuxfmt.Flag(parts[1]),
			PaneCount:  count,
			ActivePane: model.PaneID(strings.TrimSpace(parts[3])),
		})
	}
	return tabs, nil
}
