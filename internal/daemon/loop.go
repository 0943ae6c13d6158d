package daemon

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/g960059/pnp/internal/host"
	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/picker"
)

var ErrLoopStopped = errors.New("picker loop stopped")

// Journal receives every executed command.
type Journal interface {
	RecordOperation(ctx context.Context, op model.Operation) error
}

// Snapshot is the picker state as seen from outside the loop.
type Snapshot struct {
	InstanceID string
	Visible    bool
	picker.State
}

// PipeResult is the answer to one pipe request.
type PipeResult struct {
	RequestID string
	Executed  []model.Operation
	Snapshot  Snapshot
}

type loopRequest struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Loop owns the single picker instance. Host events, pipe commands and
// render requests are all serialized through Run, and notifications the
// host produces in answer to an effect are delivered only after the entry
// point that emitted it has returned.
type Loop struct {
	surface      host.Surface
	journal      Journal
	pluginConfig map[string]string
	logger       *slog.Logger
	now          func() time.Time

	reqs    chan loopRequest
	stopped chan struct{}

	// Owned by the Run goroutine.
	plugin     *picker.Plugin
	instanceID string
	subscribed map[model.EventKind]bool
	followUps  []picker.Event
	closing    bool
	executed   []model.Operation
}

func NewLoop(surface host.Surface, journal Journal, pluginConfig map[string]string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loop{
		surface:      surface,
		journal:      journal,
		pluginConfig: maps.Clone(pluginConfig),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		reqs:         make(chan loopRequest),
		stopped:      make(chan struct{}),
	}
}

// Run loads the first picker instance and serves requests until ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	if _, err := picker.ParseOptions(l.pluginConfig); err != nil {
		return err
	}
	l.reset(ctx, "")
	l.drain(ctx, "")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-l.reqs:
			req.fn(ctx)
			close(req.done)
		}
	}
}

// Deliver hands one host notification to the picker.
func (l *Loop) Deliver(ctx context.Context, ev picker.Event) error {
	return l.do(ctx, func(runCtx context.Context) {
		l.enqueue(ev)
		l.drain(runCtx, "")
		l.executed = nil
	})
}

// Pipe hands one command word to the picker and reports what ran before
// the request settled.
func (l *Loop) Pipe(ctx context.Context, requestID, payload string) (PipeResult, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	var (
		res     PipeResult
		pipeErr error
	)
	err := l.do(ctx, func(runCtx context.Context) {
		l.executed = nil
		out, err := l.plugin.Pipe(payload)
		if err != nil {
			pipeErr = err
			res = PipeResult{RequestID: requestID, Snapshot: l.snapshot()}
			return
		}
		l.apply(runCtx, out, requestID)
		l.drain(runCtx, requestID)
		l.retryInventory(runCtx, requestID)
		res = PipeResult{RequestID: requestID, Executed: l.executed, Snapshot: l.snapshot()}
		l.executed = nil
	})
	if err != nil {
		return PipeResult{}, err
	}
	return res, pipeErr
}

// Render draws the picker surface of the current instance.
func (l *Loop) Render(ctx context.Context, rows, cols int) (string, Snapshot, error) {
	var (
		text string
		snap Snapshot
	)
	err := l.do(ctx, func(context.Context) {
		text = l.plugin.Render(rows, cols)
		snap = l.snapshot()
	})
	return text, snap, err
}

func (l *Loop) State(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := l.do(ctx, func(context.Context) {
		snap = l.snapshot()
	})
	return snap, err
}

// ResetIfDenied replaces an instance whose permission was denied, so that a
// tmux server coming back is picked up again.
func (l *Loop) ResetIfDenied(ctx context.Context) (bool, error) {
	var reset bool
	err := l.do(ctx, func(runCtx context.Context) {
		if l.plugin.State().Permission != model.PermissionDenied {
			return
		}
		reset = true
		l.reset(runCtx, "")
		l.drain(runCtx, "")
	})
	return reset, err
}

func (l *Loop) do(ctx context.Context, fn func(ctx context.Context)) error {
	req := loopRequest{fn: fn, done: make(chan struct{})}
	select {
	case l.reqs <- req:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reset discards the current instance and loads a fresh one.
func (l *Loop) reset(ctx context.Context, requestID string) {
	l.plugin = picker.New(l.logger.With("component", "picker"))
	l.instanceID = uuid.NewString()
	l.subscribed = map[model.EventKind]bool{}
	l.followUps = nil
	l.closing = false
	out, err := l.plugin.Load(l.pluginConfig)
	if err != nil {
		l.logger.Error("load picker", "error", err)
		return
	}
	l.logger.Info("picker instance loaded", "instance_id", l.instanceID, "visible", l.plugin.Options().Visible)
	l.apply(ctx, out, requestID)
}

// drain delivers queued host notifications one entry point at a time.
func (l *Loop) drain(ctx context.Context, requestID string) {
	for {
		if l.closing {
			l.logger.Info("picker closed itself", "instance_id", l.instanceID)
			l.reset(ctx, requestID)
			continue
		}
		if len(l.followUps) == 0 {
			return
		}
		ev := l.followUps[0]
		l.followUps = l.followUps[1:]
		if !l.subscribed[ev.Kind()] {
			l.logger.Debug("dropping unsubscribed event", "kind", ev.Kind())
			continue
		}
		l.apply(ctx, l.plugin.Update(ev), requestID)
	}
}

func (l *Loop) enqueue(ev picker.Event) {
	if ev != nil {
		l.followUps = append(l.followUps, ev)
	}
}

// apply journals executed commands and performs effects in order.
func (l *Loop) apply(ctx context.Context, out picker.Result, requestID string) {
	for _, ex := range out.Executed {
		l.journalExecution(ctx, ex, requestID)
	}
	if out.Render {
		l.logger.Debug("render requested", "instance_id", l.instanceID)
	}
	for _, eff := range out.Effects {
		switch e := eff.(type) {
		case picker.Subscribe:
			for _, k := range e.Kinds {
				l.subscribed[k] = true
			}
			if l.subscribed[model.EventTabUpdate] {
				l.refreshTabs(ctx)
			}
			continue
		case picker.CloseSelf:
			l.closing = true
		}
		ev, err := host.Apply(ctx, l.surface, eff)
		if err != nil {
			l.logger.Error("apply effect", "effect", effectName(eff), "instance_id", l.instanceID, "error", err)
		}
		l.enqueue(ev)
		if err == nil && movesPanes(eff) {
			l.refreshTabs(ctx)
		}
	}
}

// refreshTabs queues the tab snapshot the host would push after a
// subscription or a topology change. The tab update in turn drops the
// client half and requests a fresh client list.
func (l *Loop) refreshTabs(ctx context.Context) {
	tabs, err := l.surface.ListTabs(ctx)
	if err != nil {
		l.logger.Warn("list tabs", "error", err)
		return
	}
	l.enqueue(picker.TabUpdate{Tabs: tabs})
}

// retryInventory refetches whichever inventory half a waiting command is
// missing. Listings that failed earlier are otherwise only retried on the
// next topology change.
func (l *Loop) retryInventory(ctx context.Context, requestID string) {
	st := l.plugin.State()
	if !st.HasPending || st.Permission != model.PermissionGranted || st.InventoryReady {
		return
	}
	l.logger.Debug("retrying inventory", "pending", st.Pending, "tabs", st.HasTabs, "clients", st.HasClients)
	if !st.HasTabs {
		l.refreshTabs(ctx)
	} else {
		ev, err := host.Apply(ctx, l.surface, picker.ListClients{})
		if err != nil {
			l.logger.Warn("retry list clients", "error", err)
			return
		}
		l.enqueue(ev)
	}
	l.drain(ctx, requestID)
}

func (l *Loop) journalExecution(ctx context.Context, ex picker.Execution, requestID string) {
	op := model.Operation{
		OperationID: uuid.NewString(),
		RequestID:   requestID,
		InstanceID:  l.instanceID,
		Command:     ex.Command,
		Outcome:     ex.Outcome,
		Panes:       ex.Panes,
		TabPosition: ex.TabPosition,
		CreatedAt:   l.now(),
	}
	l.executed = append(l.executed, op)
	l.logger.Info("command executed", "command", op.Command, "outcome", op.Outcome, "panes", op.Panes, "operation_id", op.OperationID)
	if l.journal == nil {
		return
	}
	if err := l.journal.RecordOperation(ctx, op); err != nil {
		l.logger.Error("journal operation", "operation_id", op.OperationID, "error", err)
	}
}

func (l *Loop) snapshot() Snapshot {
	return Snapshot{
		InstanceID: l.instanceID,
		Visible:    l.plugin.Options().Visible,
		State:      l.plugin.State(),
	}
}

// movesPanes reports whether eff changes the host topology. tmux moves
// focus when a pane leaves a window, so client focus must be refetched
// before the next command runs.
func movesPanes(eff picker.Effect) bool {
	switch eff.(type) {
	case picker.HidePane, picker.BreakPanesToTab, picker.BreakPanesToNewTab,
		picker.FloatPanes, picker.EmbedPanes, picker.NewTab:
		return true
	default:
		return false
	}
}

func effectName(eff picker.Effect) string {
	switch eff.(type) {
	case picker.RequestPermission:
		return "request-permission"
	case picker.ListClients:
		return "list-clients"
	case picker.HidePane:
		return "hide-pane"
	case picker.ShowPane:
		return "show-pane"
	case picker.BreakPanesToTab:
		return "break-panes-to-tab"
	case picker.BreakPanesToNewTab:
		return "break-panes-to-new-tab"
	case picker.FloatPanes:
		return "float-panes"
	case picker.EmbedPanes:
		return "embed-panes"
	case picker.NewTab:
		return "new-tab"
	case picker.HideSelf:
		return "hide-self"
	case picker.SetSelectable:
		return "set-selectable"
	case picker.CloseSelf:
		return "close-self"
	default:
		return "unknown"
	}
}
