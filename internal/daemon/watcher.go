package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/picker"
	"github.com/g960059/pnp/internal/target"
)

// TabLister is the topology source polled by the watcher.
type TabLister interface {
	ListTabs(ctx context.Context) ([]model.TabInfo, error)
}

// PaneLister is optional; when set the watcher also reports pane manifests.
type PaneLister interface {
	ListPanes(ctx context.Context) ([]model.PaneID, error)
}

// Sink receives topology notifications.
type Sink interface {
	Deliver(ctx context.Context, ev picker.Event) error
	ResetIfDenied(ctx context.Context) (bool, error)
}

// Watcher turns tmux polling into change notifications, the way a
// multiplexer would push tab updates to a subscribed plugin.
type Watcher struct {
	tabs     TabLister
	panes    PaneLister
	sink     Sink
	health   *target.HealthTracker
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	tabPrint  string
	panePrint string
}

func NewWatcher(tabs TabLister, panes PaneLister, sink Sink, health *target.HealthTracker, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Watcher{
		tabs:     tabs,
		panes:    panes,
		sink:     sink,
		health:   health,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Debug("poll topology", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one observation round.
func (w *Watcher) Poll(ctx context.Context) error {
	tabs, err := w.tabs.ListTabs(ctx)
	w.observe(ctx, err == nil)
	if err != nil {
		return err
	}
	if fp := tabFingerprint(tabs); fp != w.tabPrint {
		if err := w.sink.Deliver(ctx, picker.TabUpdate{Tabs: tabs}); err != nil {
			return err
		}
		w.tabPrint = fp
	}
	if w.panes == nil {
		return nil
	}
	panes, err := w.panes.ListPanes(ctx)
	if err != nil {
		return err
	}
	if fp := paneFingerprint(panes); fp != w.panePrint {
		if err := w.sink.Deliver(ctx, picker.PaneUpdate{Panes: panes}); err != nil {
			return err
		}
		w.panePrint = fp
	}
	return nil
}

func (w *Watcher) observe(ctx context.Context, success bool) {
	if w.health == nil {
		return
	}
	h, changed := w.health.Observe(success, w.now())
	if !changed {
		return
	}
	w.logger.Warn("target health changed", "health", h)
	if h != model.TargetHealthOK {
		return
	}
	reset, err := w.sink.ResetIfDenied(ctx)
	if err != nil {
		w.logger.Debug("reset denied picker", "error", err)
		return
	}
	if reset {
		w.tabPrint = ""
		w.logger.Info("picker reloaded after target recovery")
	}
}

func tabFingerprint(tabs []model.TabInfo) string {
	var b strings.Builder
	b.WriteString("tabs\n")
	for _, t := range tabs {
		fmt.Fprintf(&b, "%d|%t|%d|%s|%s\n", t.Position, t.Active, t.PaneCount, t.ActivePane, t.Name)
	}
	return b.String()
}

func paneFingerprint(panes []model.PaneID) string {
	var b strings.Builder
	b.WriteString("panes:")
	for _, p := range panes {
		b.WriteString(p.String())
		b.WriteByte(',')
	}
	return b.String()
}
