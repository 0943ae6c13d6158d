package picker

import "github.com/g960059/pnp/internal/model"

// Effect is one outbound call the host must perform on behalf of the
// picker. Effects are returned in the order they must be applied.
type Effect interface {
	isEffect()
}

type Subscribe struct {
	Kinds []model.EventKind
}

type RequestPermission struct {
	Permissions []model.PermissionType
}

// ListClients asks the host for a fresh client list; the answer arrives
// later as a ClientList event.
type ListClients struct{}

type HidePane struct {
	Pane model.PaneID
}

type ShowPane struct {
	Pane  model.PaneID
	Focus bool
}

type BreakPanesToTab struct {
	Panes    []model.PaneID
	Position int
	Focus    bool
}

type BreakPanesToNewTab struct {
	Panes  []model.PaneID
	Layout string
	Focus  bool
}

type FloatPanes struct {
	Panes []model.PaneID
}

type EmbedPanes struct {
	Panes []model.PaneID
}

type NewTab struct {
	Name   string
	Layout string
}

type HideSelf struct{}

type SetSelectable struct {
	Selectable bool
}

type CloseSelf struct{}

func (Subscribe) isEffect()          {}
func (RequestPermission) isEffect()  {}
func (ListClients) isEffect()        {}
func (HidePane) isEffect()           {}
func (ShowPane) isEffect()           {}
func (BreakPanesToTab) isEffect()    {}
func (BreakPanesToNewTab) isEffect() {}
func (FloatPanes) isEffect()         {}
func (EmbedPanes) isEffect()         {}
func (NewTab) isEffect()             {}
func (HideSelf) isEffect()           {}
func (SetSelectable) isEffect()      {}
func (CloseSelf) isEffect()          {}
