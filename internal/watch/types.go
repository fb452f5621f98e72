package watch

import (
	"fmt"

	"livewatch/internal/twitch"
)

type State uint8

const (
	Unknown State = iota
	Offline
	Live
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Offline:
		return "offline"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Broadcaster is a resolved, tracked channel.
type Broadcaster struct {
	Name       string `json:"name"`
	ProviderID string `json:"id"`
	State      State  `json:"state"`
}

// Transition is one state change produced by Tracker.Apply.
type Transition struct {
	Broadcaster Broadcaster
	From        State
	To          State
	// Info is set when To == Live.
	Info twitch.LiveInfo
}

// Notify reports whether the transition is the one that produces a live message.
func (t Transition) Notify() bool { return t.To == Live && t.From != Live }

// WentOffline reports a Live -> Offline change.
func (t Transition) WentOffline() bool { return t.From == Live && t.To == Offline }

func (t Transition) Kind() string {
	switch {
	case t.Notify():
		return "live"
	case t.WentOffline():
		return "offline"
	default:
		return "initial"
	}
}
