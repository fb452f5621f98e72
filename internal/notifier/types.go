package notifier

import (
	"fmt"
	"time"
)

// Config controls message formatting and pacing. All fields apply live.
type Config struct {
	RatePerSec      float64
	DisablePreview  bool
	AnnounceOffline bool
	SendTimeout     time.Duration
}

const (
	defaultRatePerSec  = 1
	defaultSendTimeout = 10 * time.Second
	historySize        = 100
)

type HistoryItem struct {
	At          time.Time `json:"at"`
	Broadcaster string    `json:"broadcaster"`
	Kind        string    `json:"kind"`
	MessageID   int       `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// DeliveryEvent is published on the event bus for every delivery attempt.
type DeliveryEvent struct {
	Broadcaster string `json:"broadcaster"`
	Kind        string `json:"kind"`
	ChatID      int64  `json:"chat_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DeliveryError is returned when a message could not be handed to the chat platform.
type DeliveryError struct {
	Broadcaster string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver notification for %s: %v", e.Broadcaster, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
