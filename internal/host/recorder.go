package host

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/g960059/pnp/internal/model"
)

// Recorder is an in-memory Surface that records every call. It backs the
// daemon's dry-run mode and tests.
type Recorder struct {
	mu         sync.Mutex
	calls      []string
	Permission model.PermissionStatus
	Clients    []model.ClientInfo
	Tabs       []model.TabInfo
	Fail       map[string]error
	// FocusCycle, when set, moves the current client to the next pane of
	// the cycle after each hide, the way tmux focuses a neighbour when a
	// pane leaves its window.
	FocusCycle []model.PaneID
}

func NewRecorder() *Recorder {
	return &Recorder{Permission: model.PermissionGranted}
}

// NewDryRunRecorder returns a Recorder seeded with one attached client and
// a single tab of four placeholder panes. Focus cycles through the panes as
// they are hidden, so consecutive picks collect different panes.
func NewDryRunRecorder() *Recorder {
	panes := []model.PaneID{"%1", "%2", "%3", "%4"}
	r := NewRecorder()
	r.Clients = []model.ClientInfo{{ClientID: "dry-run", PaneID: panes[0], RunningCommand: "sh", IsCurrent: true}}
	r.Tabs = []model.TabInfo{{Position: 0, Name: "dry-run", Active: true, PaneCount: len(panes), ActivePane: panes[0]}}
	r.FocusCycle = panes
	return r
}

func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *Recorder) SetInventory(clients []model.ClientInfo, tabs []model.TabInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Clients = slices.Clone(clients)
	r.Tabs = slices.Clone(tabs)
}

func (r *Recorder) record(name string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := name
	if len(args) > 0 {
		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, fmt.Sprint(a))
		}
		call += " " + strings.Join(parts, " ")
	}
	r.calls = append(r.calls, call)
	return r.Fail[name]
}

func (r *Recorder) RequestPermission(_ context.Context, perms []model.PermissionType) (model.PermissionStatus, error) {
	if err := r.record("request-permission", perms); err != nil {
		return model.PermissionDenied, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Permission, nil
}

func (r *Recorder) ListClients(context.Context) ([]model.ClientInfo, error) {
	if err := r.record("list-clients"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.Clients), nil
}

func (r *Recorder) ListTabs(context.Context) ([]model.TabInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Fail["list-tabs"]; err != nil {
		return nil, err
	}
	return slices.Clone(r.Tabs), nil
}

func (r *Recorder) HidePane(_ context.Context, pane model.PaneID) error {
	if err := r.record("hide-pane", pane); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.FocusCycle) == 0 {
		return nil
	}
	idx := slices.Index(r.FocusCycle, pane)
	if idx < 0 {
		return nil
	}
	next := r.FocusCycle[(idx+1)%len(r.FocusCycle)]
	for i := range r.Clients {
		if r.Clients[i].IsCurrent && r.Clients[i].PaneID == pane {
			r.Clients[i].PaneID = next
		}
	}
	return nil
}

func (r *Recorder) ShowPane(_ context.Context, pane model.PaneID, focus bool) error {
	return r.record("show-pane", pane, focus)
}

func (r *Recorder) BreakPanesToTab(_ context.Context, panes []model.PaneID, position int, focus bool) error {
	return r.record("break-panes-to-tab", panes, position, focus)
}

func (r *Recorder) BreakPanesToNewTab(_ context.Context, panes []model.PaneID, layout string, focus bool) error {
	return r.record("break-panes-to-new-tab", panes, fmt.Sprintf("%q", layout), focus)
}

func (r *Recorder) FloatPanes(_ context.Context, panes []model.PaneID) error {
	return r.record("float-panes", panes)
}

func (r *Recorder) EmbedPanes(_ context.Context, panes []model.PaneID) error {
	return r.record("embed-panes", panes)
}

func (r *Recorder) NewTab(_ context.Context, name, layout string) error {
	return r.record("new-tab", fmt.Sprintf("%q", name), fmt.Sprintf("%q", layout))
}

func (r *Recorder) HideSelf(context.Context) error {
	return r.record("hide-self")
}

func (r *Recorder) SetSelectable(_ context.Context, selectable bool) error {
	return r.record("set-selectable", selectable)
}

func (r *Recorder) CloseSelf(context.Context) error {
	return r.record("close-self")
}
