package picker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/pnp/internal/model"
)

func tabs(active int, n int) TabUpdate {
	out := make([]model.TabInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.TabInfo{Position: i, Name: "tab", Active: i == active})
	}
	return TabUpdate{Tabs: out}
}

func clients(current model.PaneID) ClientList {
	return ClientList{Clients: []model.ClientInfo{
		{ClientID: "/dev/pts/1", PaneID: "%99", IsCurrent: false},
		{ClientID: "/dev/pts/2", PaneID: current, IsCurrent: true},
	}}
}

func loaded(t *testing.T, config map[string]string) *Plugin {
	t.Helper()
	p := New(nil)
	_, err := p.Load(config)
	require.NoError(t, err)
	return p
}

// ready returns a plugin with permission granted and a complete inventory.
func ready(t *testing.T, config map[string]string) *Plugin {
	t.Helper()
	p := loaded(t, config)
	p.Update(PermissionResult{Status: model.PermissionGranted})
	p.Update(tabs(0, 2))
	p.Update(clients("%1"))
	require.True(t, p.State().InventoryReady)
	return p
}

func pick(t *testing.T, p *Plugin, pane model.PaneID) Result {
	t.Helper()
	p.Update(tabs(0, 2))
	_, err := p.Pipe("pick")
	require.NoError(t, err)
	return p.Update(clients(pane))
}

func effectsOf[T Effect](res Result) []T {
	var out []T
	for _, e := range res.Effects {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestLoadSubscribesAndRequestsPermission(t *testing.T) {
	p := New(nil)
	res, err := p.Load(nil)
	require.NoError(t, err)
	require.Len(t, res.Effects, 2)

	sub, ok := res.Effects[0].(Subscribe)
	require.True(t, ok)
	assert.Equal(t, []model.EventKind{model.EventPermissionResult, model.EventClientList, model.EventTabUpdate}, sub.Kinds)

	req, ok := res.Effects[1].(RequestPermission)
	require.True(t, ok)
	assert.ElementsMatch(t, []model.PermissionType{model.PermissionReadApplicationState, model.PermissionChangeApplicationState}, req.Permissions)
}

func TestLoadSubscribesToPaneUpdatesWhenConfigured(t *testing.T) {
	p := New(nil)
	res, err := p.Load(map[string]string{"pane_updates": "true"})
	require.NoError(t, err)
	sub := effectsOf[Subscribe](res)
	require.Len(t, sub, 1)
	assert.Contains(t, sub[0].Kinds, model.EventPaneUpdate)
}

func TestLoadRejectsBadOptions(t *testing.T) {
	_, err := New(nil).Load(map[string]string{"chuck": "sideways"})
	require.Error(t, err)
}

func TestGrantHidesSelfAndRefreshesClients(t *testing.T) {
	p := loaded(t, nil)
	res := p.Update(PermissionResult{Status: model.PermissionGranted})
	assert.Equal(t, []Effect{SetSelectable{Selectable: false}, HideSelf{}, ListClients{}}, res.Effects)
	assert.False(t, res.Render)
	assert.Equal(t, model.PermissionGranted, p.State().Permission)
}

func TestGrantInVisibleModeKeepsSurface(t *testing.T) {
	p := loaded(t, map[string]string{"visible": "true"})
	res := p.Update(PermissionResult{Status: model.PermissionGranted})
	assert.Equal(t, []Effect{ListClients{}}, res.Effects)
	assert.True(t, res.Render)
}

func TestPickTwiceKeepsPaneOnce(t *testing.T) {
	p := ready(t, nil)
	first := pick(t, p, "%1")
	assert.Equal(t, []HidePane{{Pane: "%1"}}, effectsOf[HidePane](first))

	second := pick(t, p, "%1")
	assert.Empty(t, effectsOf[HidePane](second))
	require.Len(t, second.Executed, 1)
	assert.Equal(t, model.OutcomeAlreadyPicked, second.Executed[0].Outcome)
	assert.Equal(t, []model.PaneID{"%1"}, p.State().Picked)
}

func TestPickWithoutCurrentClientIsNoop(t *testing.T) {
	p := ready(t, nil)
	p.Update(tabs(0, 1))
	_, err := p.Pipe("pick")
	require.NoError(t, err)
	res := p.Update(ClientList{Clients: []model.ClientInfo{{ClientID: "c", PaneID: "%4"}}})
	assert.Empty(t, p.State().Picked)
	assert.Empty(t, effectsOf[HidePane](res))
	assert.False(t, p.State().HasPending)
}

func TestPickDoesNotClosePicker(t *testing.T) {
	p := ready(t, nil)
	res := pick(t, p, "%1")
	assert.Empty(t, effectsOf[CloseSelf](res))
}

func TestPlaceMovesPanesInPickOrder(t *testing.T) {
	p := ready(t, nil)
	pick(t, p, "%A")
	pick(t, p, "%B")
	pick(t, p, "%C")

	p.Update(tabs(1, 3))
	_, err := p.Pipe("place")
	require.NoError(t, err)
	res := p.Update(clients("%C"))

	assert.Equal(t, []Effect{
		ShowPane{Pane: "%A"},
		ShowPane{Pane: "%B"},
		ShowPane{Pane: "%C"},
		BreakPanesToTab{Panes: []model.PaneID{"%A", "%B", "%C"}, Position: 1, Focus: true},
		CloseSelf{},
	}, res.Effects)
	require.Len(t, res.Executed, 1)
	assert.Equal(t, model.OutcomePlaced, res.Executed[0].Outcome)
	require.NotNil(t, res.Executed[0].TabPosition)
	assert.Equal(t, 1, *res.Executed[0].TabPosition)

	st := p.State()
	assert.Empty(t, st.Picked)
	assert.False(t, st.HasPending)
}

func TestPlaceWithoutFocusedTabLeavesPickedSet(t *testing.T) {
	p := ready(t, nil)
	pick(t, p, "%1")

	p.Update(TabUpdate{Tabs: []model.TabInfo{{Position: 0}, {Position: 1}}})
	_, err := p.Pipe("place")
	require.NoError(t, err)
	res := p.Update(clients("%1"))

	assert.Empty(t, effectsOf[BreakPanesToTab](res))
	assert.Empty(t, effectsOf[ShowPane](res))
	assert.Empty(t, effectsOf[CloseSelf](res))
	assert.Equal(t, []model.PaneID{"%1"}, p.State().Picked)
	assert.False(t, p.State().HasPending)

	// a later place with a focused tab recovers
	p.Update(tabs(0, 2))
	_, err = p.Pipe("place")
	require.NoError(t, err)
	res = p.Update(clients("%1"))
	assert.Len(t, effectsOf[BreakPanesToTab](res), 1)
	assert.Empty(t, p.State().Picked)
}

func TestChuckDirectBreaksIntoNewTab(t *testing.T) {
	p := ready(t, nil)
	pick(t, p, "%1")
	pick(t, p, "%2")

	res, err := p.Pipe("chuck")
	require.NoError(t, err)
	assert.Equal(t, []Effect{
		ShowPane{Pane: "%1"},
		ShowPane{Pane: "%2"},
		BreakPanesToNewTab{Panes: []model.PaneID{"%1", "%2"}, Focus: true},
		CloseSelf{},
	}, res.Effects)
	assert.Empty(t, p.State().Picked)
	assert.False(t, p.State().HasPending)
}

func TestChuckDeferredCreatesTabThenPlaces(t *testing.T) {
	p := ready(t, map[string]string{"chuck": "deferred"})
	pick(t, p, "%1")

	res, err := p.Pipe("chuck")
	require.NoError(t, err)
	assert.Equal(t, []Effect{NewTab{}}, res.Effects)
	st := p.State()
	assert.False(t, st.HasTabs)
	assert.True(t, st.HasPending)
	assert.Equal(t, model.CommandPlace, st.Pending)
	assert.Equal(t, []model.PaneID{"%1"}, st.Picked)

	// a client list alone cannot complete the inventory
	res = p.Update(clients("%1"))
	assert.Empty(t, effectsOf[BreakPanesToTab](res))

	p.Update(tabs(2, 3))
	res = p.Update(clients("%1"))
	moves := effectsOf[BreakPanesToTab](res)
	require.Len(t, moves, 1)
	assert.Equal(t, 2, moves[0].Position)
	assert.Empty(t, p.State().Picked)
	assert.False(t, p.State().HasPending)
}

func TestTossFloatsAndSpikeEmbeds(t *testing.T) {
	p := ready(t, nil)
	pick(t, p, "%1")
	res, err := p.Pipe("toss")
	require.NoError(t, err)
	assert.Equal(t, []FloatPanes{{Panes: []model.PaneID{"%1"}}}, effectsOf[FloatPanes](res))
	assert.Len(t, effectsOf[CloseSelf](res), 1)
	assert.Empty(t, p.State().Picked)

	p = ready(t, nil)
	pick(t, p, "%2")
	res, err = p.Pipe("spike")
	require.NoError(t, err)
	assert.Equal(t, []EmbedPanes{{Panes: []model.PaneID{"%2"}}}, effectsOf[EmbedPanes](res))
	assert.Equal(t, []ShowPane{{Pane: "%2"}}, effectsOf[ShowPane](res))
	assert.Empty(t, p.State().Picked)
}

func TestVisibleModeNeverClosesSelf(t *testing.T) {
	p := ready(t, map[string]string{"visible": "true"})
	pick(t, p, "%1")
	res, err := p.Pipe("toss")
	require.NoError(t, err)
	assert.Empty(t, effectsOf[CloseSelf](res))
	assert.True(t, res.Render)
}

func TestTabUpdateInvalidatesClients(t *testing.T) {
	p := ready(t, nil)
	res := p.Update(tabs(0, 1))
	assert.Equal(t, []Effect{ListClients{}}, res.Effects)
	assert.False(t, p.State().InventoryReady)

	res, err := p.Pipe("pick")
	require.NoError(t, err)
	assert.Empty(t, res.Effects)
	assert.True(t, p.State().HasPending)

	res = p.Update(clients("%7"))
	assert.Equal(t, []Effect{HidePane{Pane: "%7"}}, res.Effects)
}

func TestNeverExecutesOnIncompleteInventory(t *testing.T) {
	sequences := map[string][]Event{
		"nothing":      nil,
		"tabs only":    {tabs(0, 1)},
		"clients only": {clients("%1")},
		"clients then tabs": {
			clients("%1"),
			tabs(0, 1),
		},
		"stale after tabs": {
			tabs(0, 1),
			clients("%1"),
			tabs(0, 1),
		},
	}
	for name, events := range sequences {
		t.Run(name, func(t *testing.T) {
			p := loaded(t, nil)
			p.Update(PermissionResult{Status: model.PermissionGranted})
			for _, ev := range events {
				res := p.Update(ev)
				assert.Empty(t, res.Executed)
			}
			res, err := p.Pipe("pick")
			require.NoError(t, err)
			assert.Empty(t, res.Executed)
			assert.Empty(t, res.Effects)
			assert.True(t, p.State().HasPending)
		})
	}
}

func TestLastCommandWins(t *testing.T) {
	p := loaded(t, nil)
	p.Update(PermissionResult{Status: model.PermissionGranted})
	p.Update(tabs(0, 1))

	_, err := p.Pipe("pick")
	require.NoError(t, err)
	_, err = p.Pipe("toss")
	require.NoError(t, err)

	res := p.Update(clients("%1"))
	require.Len(t, res.Executed, 1)
	assert.Equal(t, model.CommandToss, res.Executed[0].Command)
	assert.Empty(t, effectsOf[HidePane](res))
	assert.Empty(t, p.State().Picked)
}

func TestBufferedEventsReplayInArrivalOrder(t *testing.T) {
	p := loaded(t, nil)

	p.Update(TabUpdate{Tabs: []model.TabInfo{{Position: 0, Active: true}}})
	p.Update(ClientList{Clients: []model.ClientInfo{{ClientID: "c1", PaneID: "P1", IsCurrent: true}}})
	assert.Equal(t, 2, p.State().Buffered)
	assert.False(t, p.State().InventoryReady)

	_, err := p.Pipe("pick")
	require.NoError(t, err)
	assert.True(t, p.State().HasPending)

	res := p.Update(PermissionResult{Status: model.PermissionGranted})
	assert.Equal(t, []model.PaneID{"P1"}, p.State().Picked)
	assert.Equal(t, 0, p.State().Buffered)
	assert.Contains(t, res.Effects, Effect(HidePane{Pane: "P1"}))
	require.Len(t, res.Executed, 1)
	assert.Equal(t, model.OutcomePicked, res.Executed[0].Outcome)
}

func TestReversedReplayWouldLeaveInventoryIncomplete(t *testing.T) {
	// clients first, then tabs: the tab update drops the clients again
	p := loaded(t, nil)
	p.Update(ClientList{Clients: []model.ClientInfo{{ClientID: "c1", PaneID: "P1", IsCurrent: true}}})
	p.Update(TabUpdate{Tabs: []model.TabInfo{{Position: 0, Active: true}}})
	_, err := p.Pipe("pick")
	require.NoError(t, err)

	p.Update(PermissionResult{Status: model.PermissionGranted})
	assert.Empty(t, p.State().Picked)
	assert.False(t, p.State().InventoryReady)
	assert.True(t, p.State().HasPending)
}

func TestDeniedPermissionDisablesEverything(t *testing.T) {
	p := loaded(t, nil)
	p.Update(tabs(0, 1))
	res := p.Update(PermissionResult{Status: model.PermissionDenied})
	assert.Empty(t, res.Effects)

	res, err := p.Pipe("pick")
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, res.Effects)
	assert.False(t, p.State().HasPending)

	res = p.Update(clients("%1"))
	assert.Empty(t, res.Effects)
	res = p.Update(PermissionResult{Status: model.PermissionGranted})
	assert.Empty(t, res.Effects)
	assert.Equal(t, model.PermissionDenied, p.State().Permission)
}

func TestDeniedAfterGrantIsFinal(t *testing.T) {
	p := ready(t, nil)
	pick(t, p, "%1")
	p.Update(PermissionResult{Status: model.PermissionDenied})

	_, err := p.Pipe("place")
	require.ErrorIs(t, err, ErrPermissionDenied)
	res := p.Update(tabs(0, 1))
	assert.Empty(t, res.Effects)
}

func TestPipeRejectsUnknownWordWithoutStateChange(t *testing.T) {
	p := ready(t, nil)
	_, err := p.Pipe("pick")
	require.NoError(t, err)
	before := p.State()

	for _, word := range []string{"PICK", "drop", "pick place"} {
		res, err := p.Pipe(word)
		require.ErrorIs(t, err, ErrUnknownCommand)
		assert.Empty(t, res.Effects)
	}
	assert.Equal(t, before, p.State())
}

func TestPipeEmptyPayloadIsNoop(t *testing.T) {
	p := ready(t, nil)
	res, err := p.Pipe("")
	require.NoError(t, err)
	assert.Empty(t, res.Effects)
	assert.False(t, p.State().HasPending)
}

func TestPaneUpdateDoesNotTouchInventory(t *testing.T) {
	p := ready(t, map[string]string{"pane_updates": "true"})
	res := p.Update(PaneUpdate{Panes: []model.PaneID{"%1", "%2"}})
	assert.Empty(t, res.Effects)
	assert.True(t, p.State().InventoryReady)
}
