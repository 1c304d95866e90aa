package trading

import (
	"strings"
	"time"
)

const (
	EventOrderSubmitted   = "order_submitted"
	EventOrderRejected    = "order_rejected"
	EventWalletCreated    = "wallet_created"
	EventWalletAuthorized = "wallet_authorized"
	EventWalletError      = "wallet_error"
)

// Event describes something that happened on an owner's account.
type Event struct {
	Type  string    `json:"type"`
	Owner string    `json:"owner,omitempty"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data,omitempty"`
}

// Channel is the subscription channel the event is delivered on.
func (e Event) Channel() string {
	if e.Owner == "" {
		return "account:server"
	}
	return "account:" + strings.ToLower(e.Owner)
}

type EventSink interface {
	Publish(e Event)
}

type NopSink struct{}

func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
