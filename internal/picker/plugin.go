// Package picker is the decision core of the pick-n-place workflow. It keeps
// the picked panes, the permission state and the client/tab inventory, and
// turns host notifications and pipe commands into outbound host effects.
//
// A Plugin is not safe for concurrent use; the host must call its entry
// points one at a time.
package picker

import (
	"io"
	"log/slog"
	"strings"

	"github.com/g960059/pnp/internal/model"
)

// Result is what one entry point asks of the host.
type Result struct {
	// Render hints that the picker surface should be redrawn.
	Render   bool
	Effects  []Effect
	Executed []Execution
}

// Execution records a command that ran against a complete inventory.
type Execution struct {
	Command     model.Command
	Outcome     model.Outcome
	Panes       []model.PaneID
	TabPosition *int
}

// State is a read-only view used by status endpoints.
type State struct {
	Permission     model.PermissionStatus
	Picked         []model.PaneID
	Pending        model.Command
	HasPending     bool
	InventoryReady bool
	HasTabs        bool
	HasClients     bool
	Buffered       int
}

type Plugin struct {
	opts   Options
	logger *slog.Logger

	gate    PermissionGate
	buffer  eventBuffer
	pending pendingSlot
	inv     Inventory
	picked  PickedSet

	effects  []Effect
	executed []Execution
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Plugin{
		opts:   DefaultOptions(),
		logger: logger,
	}
}

// Load parses the configuration map, subscribes to host notifications and
// requests the permissions needed to move panes.
func (p *Plugin) Load(config map[string]string) (Result, error) {
	opts, err := ParseOptions(config)
	if err != nil {
		return Result{}, err
	}
	p.opts = opts
	p.begin()

	kinds := []model.EventKind{
		model.EventPermissionResult,
		model.EventClientList,
		model.EventTabUpdate,
	}
	if p.opts.PaneUpdates {
		kinds = append(kinds, model.EventPaneUpdate)
	}
	p.emit(Subscribe{Kinds: kinds})
	p.logger.Info("subscribed", "events", kinds)

	perms := []model.PermissionType{
		model.PermissionReadApplicationState,
		model.PermissionChangeApplicationState,
	}
	p.emit(RequestPermission{Permissions: perms})
	p.logger.Info("requested permissions", "permissions", perms)
	return p.finish(false), nil
}

func (p *Plugin) Options() Options {
	return p.opts
}

// Update handles one host notification.
func (p *Plugin) Update(ev Event) Result {
	p.begin()
	if res, ok := ev.(PermissionResult); ok {
		return p.finish(p.resolvePermission(res.Status))
	}
	switch p.gate.Status() {
	case model.PermissionUnknown:
		p.buffer.push(ev)
		p.logger.Debug("buffered event until permission resolves", "kind", ev.Kind(), "buffered", p.buffer.len())
		return p.finish(false)
	case model.PermissionDenied:
		return p.finish(false)
	}
	handled := p.handleEvent(ev)
	return p.finish(p.opts.Visible && handled)
}

// Pipe handles a command word delivered by the external transport. An empty
// payload is ignored.
func (p *Plugin) Pipe(payload string) (Result, error) {
	p.begin()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return p.finish(false), nil
	}
	cmd, err := ParseCommand(payload)
	if err != nil {
		p.logger.Warn("rejected pipe payload", "error", err)
		return Result{}, err
	}
	if p.gate.Status() == model.PermissionDenied {
		p.logger.Debug("dropping command, permission denied", "command", cmd)
		return Result{}, ErrPermissionDenied
	}
	if prev, overwrote := p.pending.put(cmd); overwrote {
		p.logger.Info("pending command replaced", "dropped", prev, "command", cmd)
	}
	ran := p.dispatch()
	return p.finish(p.opts.Visible && ran), nil
}

func (p *Plugin) State() State {
	cmd, has := p.pending.peek()
	return State{
		Permission:     p.gate.Status(),
		Picked:         p.picked.Panes(),
		Pending:        cmd,
		HasPending:     has,
		InventoryReady: p.inv.Ready(),
		HasTabs:        p.inv.HasTabs(),
		HasClients:     p.inv.HasClients(),
		Buffered:       p.buffer.len(),
	}
}

func (p *Plugin) resolvePermission(status model.PermissionStatus) bool {
	if !p.gate.Resolve(status) {
		p.logger.Debug("ignoring permission result", "status", status, "current", p.gate.Status())
		return false
	}
	if status == model.PermissionDenied {
		p.logger.Warn("permission denied, picker disabled")
		p.pending.clear()
		return false
	}

	p.logger.Info("permission granted")
	if !p.opts.Visible {
		p.emit(SetSelectable{Selectable: false}, HideSelf{})
	}
	p.refreshClients()
	for _, ev := range p.buffer.drain() {
		p.handleEvent(ev)
	}
	return p.opts.Visible
}

func (p *Plugin) handleEvent(ev Event) bool {
	switch ev := ev.(type) {
	case ClientList:
		p.logger.Debug("got clients", "count", len(ev.Clients))
		p.inv.SetClients(ev.Clients)
		p.dispatch()
		return true
	case TabUpdate:
		p.logger.Debug("got tabs", "count", len(ev.Tabs))
		p.inv.SetTabs(ev.Tabs)
		p.refreshClients()
		return false
	case PaneUpdate:
		p.logger.Debug("got pane manifest", "count", len(ev.Panes))
		return false
	default:
		return false
	}
}

func (p *Plugin) refreshClients() {
	p.inv.InvalidateClients()
	p.emit(ListClients{})
}

// dispatch runs the pending command once permission is granted and the
// inventory is complete. It reports whether a command ran.
func (p *Plugin) dispatch() bool {
	cmd, ok := p.pending.peek()
	if !ok {
		return false
	}
	if p.gate.Status() != model.PermissionGranted || !p.inv.Ready() {
		p.logger.Debug("cannot handle command yet", "command", cmd, "tabs", p.inv.HasTabs(), "clients", p.inv.HasClients())
		return false
	}
	p.pending.clear()
	switch cmd {
	case model.CommandPick:
		p.pick()
	case model.CommandPlace:
		p.place()
	case model.CommandChuck:
		p.chuck()
	case model.CommandToss:
		p.toss()
	case model.CommandSpike:
		p.spike()
	}
	return true
}

func (p *Plugin) begin() {
	p.effects = nil
	p.executed = nil
}

func (p *Plugin) finish(render bool) Result {
	res := Result{Render: render, Effects: p.effects, Executed: p.executed}
	p.effects = nil
	p.executed = nil
	return res
}

func (p *Plugin) emit(effects ...Effect) {
	p.effects = append(p.effects, effects...)
}

func (p *Plugin) record(cmd model.Command, outcome model.Outcome, panes []model.PaneID, tab *int) {
	p.executed = append(p.executed, Execution{
		Command:     cmd,
		Outcome:     outcome,
		Panes:       panes,
		TabPosition: tab,
	})
}
