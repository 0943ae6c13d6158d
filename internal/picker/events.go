package picker

import "github.com/g960059/pnp/internal/model"

// Event is a notification delivered by the host.
type Event interface {
	Kind() model.EventKind
}

type PermissionResult struct {
	Status model.PermissionStatus
}

type ClientList struct {
	Clients []model.ClientInfo
}

type TabUpdate struct {
	Tabs []model.TabInfo
}

// PaneUpdate carries the pane manifest. It is only subscribed to when the
// pane_updates option is set and never changes picker state.
type PaneUpdate struct {
	Panes []model.PaneID
}

func (PermissionResult) Kind() model.EventKind { return model.EventPermissionResult }
func (ClientList) Kind() model.EventKind       { return model.EventClientList }
func (TabUpdate) Kind() model.EventKind        { return model.EventTabUpdate }
func (PaneUpdate) Kind() model.EventKind       { return model.EventPaneUpdate }
