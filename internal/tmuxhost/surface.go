// Package tmuxhost implements host.Surface on top of a tmux server.
//
// Hidden panes are parked in a detached stash session, one window per
// pane, and joined back into the destination window when placed.
package tmuxhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/g960059/pnp/internal/config"
	"github.com/g960059/pnp/internal/host"
	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/observer"
	"github.com/g960059/pnp/internal/target"
)

const defaultLayout = "tiled"

type Surface struct {
	executor *target.Executor
	observer *observer.TmuxObserver
	stash    string
	readOnly bool
	logger   *slog.Logger
}

var _ host.Surface = (*Surface)(nil)

func New(cfg config.Config, executor *target.Executor, obs *observer.TmuxObserver, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Surface{
		executor: executor,
		observer: obs,
		stash:    cfg.StashSession,
		readOnly: cfg.ReadOnly,
		logger:   logger,
	}
}

// RequestPermission grants both permissions when tmux answers and the
// daemon is not read-only.
func (s *Surface) RequestPermission(ctx context.Context, perms []model.PermissionType) (model.PermissionStatus, error) {
	if s.readOnly {
		s.logger.Info("permission denied: read-only mode", "permissions", perms)
		return model.PermissionDenied, nil
	}
	res, err := s.executor.Tmux(ctx, "display-message", "-p", "#{version}")
	if err != nil {
		if errors.Is(err, target.ErrTargetUnreachable) {
			s.logger.Warn("permission denied: tmux unreachable", "error", err)
			return model.PermissionDenied, nil
		}
		return model.PermissionDenied, err
	}
	s.logger.Info("permission granted", "tmux_version", strings.TrimSpace(res.Output))
	return model.PermissionGranted, nil
}

func (s *Surface) ListClients(ctx context.Context) ([]model.ClientInfo, error) {
	return s.observer.ListClients(ctx)
}

func (s *Surface) ListTabs(ctx context.Context) ([]model.TabInfo, error) {
	return s.observer.ListTabs(ctx)
}

// HidePane moves the pane into its own window in the stash session.
func (s *Surface) HidePane(ctx context.Context, pane model.PaneID) error {
	if err := s.ensureStash(ctx); err != nil {
		return err
	}
	_, err := s.executor.Tmux(ctx, "break-pane", "-d", "-s", pane.String(), "-t", s.stash+":")
	return err
}

// ShowPane is a no-op: joining a stashed pane into a window shows it.
func (s *Surface) ShowPane(context.Context, model.PaneID, bool) error {
	return nil
}

// BreakPanesToTab joins every pane into the window at position of the
// current session in a single tmux invocation.
func (s *Surface) BreakPanesToTab(ctx context.Context, panes []model.PaneID, position int, focus bool) error {
	if len(panes) == 0 {
		return nil
	}
	session, err := s.observer.CurrentSession(ctx)
	if err != nil {
		return err
	}
	window := session + ":" + strconv.Itoa(position)
	args := make([]string, 0, len(panes)*10+8)
	for i, p := range panes {
		if i > 0 {
			args = append(args, ";")
		}
		args = append(args, "join-pane", "-d", "-s", p.String(), "-t", window, ";", "select-layout", "-t", window, defaultLayout)
	}
	if focus {
		args = append(args, ";", "select-window", "-t", window, ";", "select-pane", "-t", panes[0].String())
	}
	_, err = s.executor.Tmux(ctx, args...)
	return err
}

// BreakPanesToNewTab breaks the first pane out into a new window of the
// current session and joins the rest into it.
func (s *Surface) BreakPanesToNewTab(ctx context.Context, panes []model.PaneID, layout string, focus bool) error {
	if len(panes) == 0 {
		return nil
	}
	if layout == "" {
		layout = defaultLayout
	}
	session, err := s.observer.CurrentSession(ctx)
	if err != nil {
		return err
	}
	first := panes[0].String()
	args := []string{"break-pane", "-d", "-s", first, "-t", session + ":"}
	for _, p := range panes[1:] {
		args = append(args, ";", "join-pane", "-d", "-s", p.String(), "-t", first, ";", "select-layout", "-t", first, layout)
	}
	if len(panes) == 1 {
		args = append(args, ";", "select-layout", "-t", first, layout)
	}
	if focus {
		args = append(args, ";", "select-window", "-t", first, ";", "select-pane", "-t", first)
	}
	_, err = s.executor.Tmux(ctx, args...)
	return err
}

// FloatPanes joins the panes into the current window and zooms the first
// one over the tiles. tmux has no floating layer; a zoomed pane is the
// closest equivalent and unzooming returns it to the tiled layout.
func (s *Surface) FloatPanes(ctx context.Context, panes []model.PaneID) error {
	if len(panes) == 0 {
		return nil
	}
	args, err := s.joinCurrentWindow(ctx, panes)
	if err != nil {
		return err
	}
	args = append(args, ";", "resize-pane", "-Z", "-t", panes[0].String())
	_, err = s.executor.Tmux(ctx, args...)
	return err
}

// EmbedPanes tiles the panes into the current window.
func (s *Surface) EmbedPanes(ctx context.Context, panes []model.PaneID) error {
	if len(panes) == 0 {
		return nil
	}
	args, err := s.joinCurrentWindow(ctx, panes)
	if err != nil {
		return err
	}
	args = append(args, ";", "select-pane", "-t", panes[0].String())
	_, err = s.executor.Tmux(ctx, args...)
	return err
}

// joinCurrentWindow builds the chained join into the active window of the
// current client's session.
func (s *Surface) joinCurrentWindow(ctx context.Context, panes []model.PaneID) ([]string, error) {
	session, err := s.observer.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	window := session + ":"
	args := make([]string, 0, len(panes)*10+4)
	for i, p := range panes {
		if i > 0 {
			args = append(args, ";")
		}
		args = append(args, "join-pane", "-d", "-s", p.String(), "-t", window, ";", "select-layout", "-t", window, defaultLayout)
	}
	return args, nil
}

// NewTab creates and selects a new window in the current session.
func (s *Surface) NewTab(ctx context.Context, name, layout string) error {
	session, err := s.observer.CurrentSession(ctx)
	if err != nil {
		return err
	}
	args := []string{"new-window", "-t", session + ":"}
	if name != "" {
		args = append(args, "-n", name)
	}
	if layout != "" {
		args = append(args, ";", "select-layout", layout)
	}
	_, err = s.executor.Tmux(ctx, args...)
	return err
}

// HideSelf, SetSelectable and CloseSelf have nothing to act on in tmux:
// the picker has no pane of its own.
func (s *Surface) HideSelf(context.Context) error { return nil }

func (s *Surface) SetSelectable(context.Context, bool) error { return nil }

func (s *Surface) CloseSelf(context.Context) error { return nil }

func (s *Surface) ensureStash(ctx context.Context) error {
	if _, err := s.executor.Tmux(ctx, "has-session", "-t", "="+s.stash); err == nil {
		return nil
	} else if errors.Is(err, target.ErrTargetUnreachable) {
		return err
	}
	if _, err := s.executor.Tmux(ctx, "new-session", "-d", "-s", s.stash); err != nil {
		return fmt.Errorf("create stash session %s: %w", s.stash, err)
	}
	s.logger.Debug("stash session created", "session", s.stash)
	return nil
}
