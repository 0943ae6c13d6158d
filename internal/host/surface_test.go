package host

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/picker"
)

func TestApplyReturnsFollowUpEvents(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	rec.SetInventory([]model.ClientInfo{{ClientID: "c1", PaneID: "%1", IsCurrent: true}}, nil)

	ev, err := Apply(ctx, rec, picker.ListClients{})
	require.NoError(t, err)
	assert.Equal(t, picker.ClientList{Clients: []model.ClientInfo{{ClientID: "c1", PaneID: "%1", IsCurrent: true}}}, ev)

	ev, err = Apply(ctx, rec, picker.RequestPermission{Permissions: []model.PermissionType{model.PermissionReadApplicationState}})
	require.NoError(t, err)
	assert.Equal(t, picker.PermissionResult{Status: model.PermissionGranted}, ev)

	ev, err = Apply(ctx, rec, picker.Subscribe{Kinds: []model.EventKind{model.EventTabUpdate}})
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestApplyForwardsPaneMoves(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()
	effects := []picker.Effect{
		picker.HidePane{Pane: "%1"},
		picker.ShowPane{Pane: "%1"},
		picker.BreakPanesToTab{Panes: []model.PaneID{"%1", "%2"}, Position: 3, Focus: true},
		picker.BreakPanesToNewTab{Panes: []model.PaneID{"%4"}, Focus: true},
		picker.FloatPanes{Panes: []model.PaneID{"%5"}},
		picker.EmbedPanes{Panes: []model.PaneID{"%6"}},
		picker.NewTab{},
		picker.SetSelectable{Selectable: false},
		picker.HideSelf{},
		picker.CloseSelf{},
	}
	for _, eff := range effects {
		ev, err := Apply(ctx, rec, eff)
		require.NoError(t, err)
		assert.Nil(t, ev)
	}
	assert.Equal(t, []string{
		"hide-pane %1",
		"show-pane %1 false",
		"break-panes-to-tab [%1 %2] 3 true",
		`break-panes-to-new-tab [%4] "" true`,
		"float-panes [%5]",
		"embed-panes [%6]",
		`new-tab "" ""`,
		"set-selectable false",
		"hide-self",
		"close-self",
	}, rec.Calls())
}

func TestApplyWrapsSurfaceErrors(t *testing.T) {
	rec := NewRecorder()
	rec.Fail = map[string]error{"float-panes": ErrUnsupported}
	_, err := Apply(context.Background(), rec, picker.FloatPanes{Panes: []model.PaneID{"%1"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.Contains(t, err.Error(), "float panes")
}

func TestApplyPermissionFailureDenies(t *testing.T) {
	rec := NewRecorder()
	rec.Fail = map[string]error{"request-permission": errors.New("no server")}
	ev, err := Apply(context.Background(), rec, picker.RequestPermission{})
	require.Error(t, err)
	assert.Equal(t, picker.PermissionResult{Status: model.PermissionDenied}, ev)
}

func TestDryRunRecorderCyclesFocusOnHide(t *testing.T) {
	ctx := context.Background()
	rec := NewDryRunRecorder()

	clients, err := rec.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, model.PaneID("%1"), clients[0].PaneID)

	require.NoError(t, rec.HidePane(ctx, "%1"))
	clients, err = rec.ListClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PaneID("%2"), clients[0].PaneID)

	// Hiding a pane that is not focused leaves focus alone.
	require.NoError(t, rec.HidePane(ctx, "%4"))
	clients, err = rec.ListClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PaneID("%2"), clients[0].PaneID)
}
