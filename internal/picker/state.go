package picker

import (
	"slices"

	"github.com/g960059/pnp/internal/model"
)

// Inventory is the latest client and tab snapshot. Commands that place panes
// only run while both halves are present.
type Inventory struct {
	clients    []model.ClientInfo
	hasClients bool
	tabs       []model.TabInfo
	hasTabs    bool
}

func (inv *Inventory) Ready() bool {
	return inv.hasClients && inv.hasTabs
}

// SetTabs stores a tab snapshot. Client focus data may be stale after any
// tab change, so the client half is dropped with it.
func (inv *Inventory) SetTabs(tabs []model.TabInfo) {
	inv.tabs = slices.Clone(tabs)
	inv.hasTabs = true
	inv.InvalidateClients()
}

func (inv *Inventory) SetClients(clients []model.ClientInfo) {
	inv.clients = slices.Clone(clients)
	inv.hasClients = true
}

func (inv *Inventory) InvalidateClients() {
	inv.clients = nil
	inv.hasClients = false
}

func (inv *Inventory) InvalidateTabs() {
	inv.tabs = nil
	inv.hasTabs = false
}

func (inv *Inventory) HasClients() bool { return inv.hasClients }
func (inv *Inventory) HasTabs() bool    { return inv.hasTabs }

// CurrentPane returns the pane focused by the first client flagged current.
func (inv *Inventory) CurrentPane() (model.PaneID, bool) {
	for _, c := range inv.clients {
		if c.IsCurrent {
			return c.PaneID, true
		}
	}
	return "", false
}

func (inv *Inventory) FocusedTab() (model.TabInfo, bool) {
	for _, t := range inv.tabs {
		if t.Active {
			return t, true
		}
	}
	return model.TabInfo{}, false
}

// PickedSet keeps picked panes in pick order without duplicates.
type PickedSet struct {
	panes []model.PaneID
}

func (s *PickedSet) Add(id model.PaneID) bool {
	if s.Contains(id) {
		return false
	}
	s.panes = append(s.panes, id)
	return true
}

func (s *PickedSet) Contains(id model.PaneID) bool {
	return slices.Contains(s.panes, id)
}

func (s *PickedSet) Panes() []model.PaneID {
	return slices.Clone(s.panes)
}

func (s *PickedSet) Len() int {
	return len(s.panes)
}

func (s *PickedSet) Clear() {
	s.panes = nil
}

// PermissionGate resolves once; only Granted may still move to Denied.
type PermissionGate struct {
	status model.PermissionStatus
}

func (g *PermissionGate) Status() model.PermissionStatus {
	if g.status == "" {
		return model.PermissionUnknown
	}
	return g.status
}

// Resolve applies a permission result and reports whether the state changed.
func (g *PermissionGate) Resolve(status model.PermissionStatus) bool {
	current := g.Status()
	switch {
	case current == model.PermissionDenied:
		return false
	case status == model.PermissionDenied:
		g.status = model.PermissionDenied
		return true
	case status == model.PermissionGranted && current == model.PermissionUnknown:
		g.status = model.PermissionGranted
		return true
	default:
		return false
	}
}

// eventBuffer holds notifications that arrived before permission resolved.
// Replay is FIFO.
type eventBuffer struct {
	events  []Event
	drained bool
}

func (b *eventBuffer) push(ev Event) {
	b.events = append(b.events, ev)
}

func (b *eventBuffer) drain() []Event {
	if b.drained {
		return nil
	}
	b.drained = true
	events := b.events
	b.events = nil
	return events
}

func (b *eventBuffer) len() int {
	return len(b.events)
}

// pendingSlot holds at most one command; a newer command replaces it.
type pendingSlot struct {
	cmd model.Command
	set bool
}

func (p *pendingSlot) put(cmd model.Command) (replaced model.Command, overwrote bool) {
	replaced, overwrote = p.cmd, p.set
	p.cmd = cmd
	p.set = true
	return replaced, overwrote
}

func (p *pendingSlot) peek() (model.Command, bool) {
	return p.cmd, p.set
}

func (p *pendingSlot) clear() {
	p.cmd = ""
	p.set = false
}
