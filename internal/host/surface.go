// Package host binds picker effects to a concrete multiplexer surface.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/picker"
)

// ErrUnsupported is returned by surfaces that lack a primitive.
var ErrUnsupported = errors.New("unsupported by host")

// Surface is the set of host primitives the picker relies on.
type Surface interface {
	RequestPermission(ctx context.Context, perms []model.PermissionType) (model.PermissionStatus, error)
	ListClients(ctx context.Context) ([]model.ClientInfo, error)
	ListTabs(ctx context.Context) ([]model.TabInfo, error)
	HidePane(ctx context.Context, pane model.PaneID) error
	ShowPane(ctx context.Context, pane model.PaneID, focus bool) error
	BreakPanesToTab(ctx context.Context, panes []model.PaneID, position int, focus bool) error
	BreakPanesToNewTab(ctx context.Context, panes []model.PaneID, layout string, focus bool) error
	FloatPanes(ctx context.Context, panes []model.PaneID) error
	EmbedPanes(ctx context.Context, panes []model.PaneID) error
	NewTab(ctx context.Context, name, layout string) error
	HideSelf(ctx context.Context) error
	SetSelectable(ctx context.Context, selectable bool) error
	CloseSelf(ctx context.Context) error
}

// Apply performs one effect. Effects that the host answers asynchronously
// (permission requests, client listings) return the notification to deliver
// once the current entry point has returned. Subscribe is the caller's
// concern and yields nothing here.
func Apply(ctx context.Context, s Surface, eff picker.Effect) (picker.Event, error) {
	switch e := eff.(type) {
	case picker.Subscribe:
		return nil, nil
	case picker.RequestPermission:
		status, err := s.RequestPermission(ctx, e.Permissions)
		if err != nil {
			return picker.PermissionResult{Status: model.PermissionDenied}, fmt.Errorf("request permission: %w", err)
		}
		return picker.PermissionResult{Status: status}, nil
	case picker.ListClients:
		clients, err := s.ListClients(ctx)
		if err != nil {
			return nil, fmt.Errorf("list clients: %w", err)
		}
		return picker.ClientList{Clients: clients}, nil
	case picker.HidePane:
		return nil, wrap("hide pane", s.HidePane(ctx, e.Pane))
	case picker.ShowPane:
		return nil, wrap("show pane", s.ShowPane(ctx, e.Pane, e.Focus))
	case picker.BreakPanesToTab:
		return nil, wrap("break panes to tab", s.BreakPanesToTab(ctx, e.Panes, e.Position, e.Focus))
	case picker.BreakPanesToNewTab:
		return nil, wrap("break panes to new tab", s.BreakPanesToNewTab(ctx, e.Panes, e.Layout, e.Focus))
	case picker.FloatPanes:
		return nil, wrap("float panes", s.FloatPanes(ctx, e.Panes))
	case picker.EmbedPanes:
		return nil, wrap("embed panes", s.EmbedPanes(ctx, e.Panes))
	case picker.NewTab:
		return nil, wrap("new tab", s.NewTab(ctx, e.Name, e.Layout))
	case picker.HideSelf:
		return nil, wrap("hide self", s.HideSelf(ctx))
	case picker.SetSelectable:
		return nil, wrap("set selectable", s.SetSelectable(ctx, e.Selectable))
	case picker.CloseSelf:
		return nil, wrap("close self", s.CloseSelf(ctx))
	default:
		return nil, fmt.Errorf("unknown effect %T", eff)
	}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
