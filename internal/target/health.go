package target

import (
	"sync"
	"time"

	"github.com/g960059/pnp/internal/config"
	"github.com/g960059/pnp/internal/model"
)

type HealthState struct {
	Current              model.TargetHealth
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

func NextHealth(cfg config.Config, state HealthState, success bool, now time.Time) HealthState {
	if state.Current == "" {
		state.Current = model.TargetHealthOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if state.Current != model.TargetHealthOK && state.ConsecutiveSuccesses >= cfg.TargetRecoverSuccesses {
			state.Current = model.TargetHealthOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case model.TargetHealthOK:
		state.Current = model.TargetHealthDegraded
		state.LastTransitionAt = now
	case model.TargetHealthDegraded:
		if now.Sub(state.LastTransitionAt) > cfg.TargetDownWindow {
			// window expired; this failure opens a new degraded window
			state.ConsecutiveFailures = 1
			state.LastTransitionAt = now
			return state
		}
		if state.ConsecutiveFailures >= cfg.TargetDownFailures {
			state.Current = model.TargetHealthDown
			state.LastTransitionAt = now
		}
	}
	return state
}

// HealthTracker folds probe results into a health state that can be read
// from other goroutines.
type HealthTracker struct {
	cfg   config.Config
	mu    sync.Mutex
	state HealthState
}

func NewHealthTracker(cfg config.Config) *HealthTracker {
	return &HealthTracker{cfg: cfg, state: HealthState{Current: model.TargetHealthOK}}
}

// Observe records one probe and reports whether the health level changed.
func (h *HealthTracker) Observe(success bool, now time.Time) (model.TargetHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.state.Current
	h.state = NextHealth(h.cfg, h.state, success, now)
	return h.state.Current, h.state.Current != prev
}

func (h *HealthTracker) Current() model.TargetHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Current
}
