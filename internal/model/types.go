package model

import "time"

// PaneID identifies a terminal pane owned by the host (tmux "%N").
type PaneID string

func (p PaneID) String() string {
	return string(p)
}

// ClientInfo is one attached client as reported by the host.
type ClientInfo struct {
	ClientID       string
	PaneID         PaneID
	RunningCommand string
	IsCurrent      bool
}

// TabInfo is one tab (tmux window) of the session the current client is on.
type TabInfo struct {
	Position   int
	Name       string
	Active     bool
	PaneCount  int
	ActivePane PaneID
}

type Command string

const (
	CommandPick  Command = "pick"
	CommandPlace Command = "place"
	CommandChuck Command = "chuck"
	CommandToss  Command = "toss"
	CommandSpike Command = "spike"
)

// Commands lists every command word accepted on the pipe, in help order.
var Commands = []Command{CommandPick, CommandPlace, CommandChuck, CommandToss, CommandSpike}

type PermissionStatus string

const (
	PermissionUnknown PermissionStatus = "unknown"
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

type PermissionType string

const (
	PermissionReadApplicationState   PermissionType = "read_application_state"
	PermissionChangeApplicationState PermissionType = "change_application_state"
)

type EventKind string

const (
	EventPermissionResult EventKind = "permission_result"
	EventClientList       EventKind = "client_list"
	EventTabUpdate        EventKind = "tab_update"
	EventPaneUpdate       EventKind = "pane_update"
)

type TargetKind string

const (
	TargetKindLocal TargetKind = "local"
	TargetKindSSH   TargetKind = "ssh"
)

type TargetHealth string

const (
	TargetHealthOK       TargetHealth = "ok"
	TargetHealthDegraded TargetHealth = "degraded"
	TargetHealthDown     TargetHealth = "down"
)

// Target is the tmux server the daemon drives.
type Target struct {
	TargetID      string
	Kind          TargetKind
	ConnectionRef string
}

// Outcome describes what an executed command did.
type Outcome string

const (
	OutcomePicked          Outcome = "picked"
	OutcomeAlreadyPicked   Outcome = "already_picked"
	OutcomeNoCurrentClient Outcome = "no_current_client"
	OutcomePlaced          Outcome = "placed"
	OutcomeNoFocusedTab    Outcome = "no_focused_tab"
	OutcomeChucked         Outcome = "chucked"
	OutcomeChuckDeferred   Outcome = "chuck_deferred"
	OutcomeTossed          Outcome = "tossed"
	OutcomeSpiked          Outcome = "spiked"
	OutcomeNothingPicked   Outcome = "nothing_picked"
)

// Operation is one journaled command execution.
type Operation struct {
	OperationID string
	RequestID   string
	InstanceID  string
	Command     Command
	Outcome     Outcome
	Panes       []PaneID
	TabPosition *int
	CreatedAt   time.Time
}

// Error codes defined by API contract.
const (
	ErrRefInvalid         = "E_REF_INVALID"
	ErrCommandUnknown     = "E_COMMAND_UNKNOWN"
	ErrPermissionDenied   = "E_PERMISSION_DENIED"
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	ErrTargetUnreachable  = "E_TARGET_UNREACHABLE"
	ErrUnavailable        = "E_UNAVAILABLE"
	ErrNotFound           = "E_NOT_FOUND"
)
