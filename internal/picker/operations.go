package picker

import "github.com/g960059/pnp/internal/model"

func (p *Plugin) pick() {
	pane, ok := p.inv.CurrentPane()
	if !ok {
		p.logger.Debug("no current client, nothing to pick")
		p.record(model.CommandPick, model.OutcomeNoCurrentClient, nil, nil)
		return
	}
	if !p.picked.Add(pane) {
		p.record(model.CommandPick, model.OutcomeAlreadyPicked, []model.PaneID{pane}, nil)
		return
	}
	p.logger.Info("picking pane", "pane", pane)
	p.emit(HidePane{Pane: pane})
	p.record(model.CommandPick, model.OutcomePicked, []model.PaneID{pane}, nil)
}

// place moves the picked panes into the focused tab. Without a focused tab
// nothing changes and the picker stays open so place can be issued again.
func (p *Plugin) place() {
	tab, ok := p.inv.FocusedTab()
	if !ok {
		p.logger.Warn("no focused tab, picked panes stay hidden", "picked", p.picked.Len())
		p.record(model.CommandPlace, model.OutcomeNoFocusedTab, p.picked.Panes(), nil)
		return
	}
	panes := p.picked.Panes()
	position := tab.Position
	if len(panes) == 0 {
		p.record(model.CommandPlace, model.OutcomeNothingPicked, nil, &position)
		p.closeSelf()
		return
	}
	p.showPicked()
	p.logger.Info("placing panes", "panes", panes, "tab", position)
	p.emit(BreakPanesToTab{Panes: panes, Position: position, Focus: true})
	p.picked.Clear()
	p.record(model.CommandPlace, model.OutcomePlaced, panes, &position)
	p.closeSelf()
}

func (p *Plugin) chuck() {
	panes := p.picked.Panes()
	if len(panes) == 0 {
		p.record(model.CommandChuck, model.OutcomeNothingPicked, nil, nil)
		p.closeSelf()
		return
	}
	if p.opts.Chuck == ChuckDeferred {
		p.logger.Info("creating tab for chucked panes", "panes", panes)
		p.emit(NewTab{})
		p.inv.InvalidateTabs()
		p.pending.put(model.CommandPlace)
		p.record(model.CommandChuck, model.OutcomeChuckDeferred, panes, nil)
		return
	}
	p.showPicked()
	p.logger.Info("chucking panes", "panes", panes)
	p.emit(BreakPanesToNewTab{Panes: panes, Focus: true})
	p.picked.Clear()
	p.record(model.CommandChuck, model.OutcomeChucked, panes, nil)
	p.closeSelf()
}

func (p *Plugin) toss() {
	panes := p.picked.Panes()
	if len(panes) == 0 {
		p.record(model.CommandToss, model.OutcomeNothingPicked, nil, nil)
		p.closeSelf()
		return
	}
	p.showPicked()
	p.logger.Info("tossing panes", "panes", panes)
	p.emit(FloatPanes{Panes: panes})
	p.picked.Clear()
	p.record(model.CommandToss, model.OutcomeTossed, panes, nil)
	p.closeSelf()
}

func (p *Plugin) spike() {
	panes := p.picked.Panes()
	if len(panes) == 0 {
		p.record(model.CommandSpike, model.OutcomeNothingPicked, nil, nil)
		p.closeSelf()
		return
	}
	p.showPicked()
	p.logger.Info("spiking panes", "panes", panes)
	p.emit(EmbedPanes{Panes: panes})
	p.picked.Clear()
	p.record(model.CommandSpike, model.OutcomeSpiked, panes, nil)
	p.closeSelf()
}

func (p *Plugin) showPicked() {
	for _, pane := range p.picked.Panes() {
		p.emit(ShowPane{Pane: pane, Focus: false})
	}
}

func (p *Plugin) closeSelf() {
	if p.opts.Visible {
		return
	}
	p.logger.Debug("closing picker")
	p.emit(CloseSelf{})
}
