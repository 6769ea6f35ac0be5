package lifecycle

import (
	"fmt"
	"time"
)

// State is a lifecycle state.
type State int

const (
	Idle State = iota
	SyncingRules
	Connecting
	Connected
	Disconnected
	Backoff
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SyncingRules:
		return "syncing_rules"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Backoff:
		return "backoff"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// States lists every state in order.
func States() []State {
	return []State{Idle, SyncingRules, Connecting, Connected, Disconnected, Backoff, Terminated}
}

// ConnectionState is a point-in-time copy of the manager's state.
type ConnectionState struct {
	State        State     `json:"-"`
	StateName    string    `json:"state"`
	Connected    bool      `json:"connected"`
	LastAlive    time.Time `json:"last_alive"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	Fatal        bool      `json:"fatal,omitempty"`
	RuleCount    int       `json:"rule_count"`
	Accounts     int       `json:"accounts"`
	LastSync     time.Time `json:"last_sync"`
	Since        time.Time `json:"since"`
}

// String implements fmt.Stringer for log output.
func (s ConnectionState) String() string {
	return fmt.Sprintf("%s connected=%t attempts=%d last_alive=%s", s.StateName, s.Connected, s.AttemptCount, s.LastAlive.Format(time.RFC3339))
}
