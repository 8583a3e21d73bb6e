package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType discriminates realtime channel events.
type EventType string

const (
	EventPriceUpdate    EventType = "PRICE_UPDATE"
	EventPositionUpdate EventType = "POSITION_UPDATE"
	EventOrderUpdate    EventType = "ORDER_UPDATE"
	EventBalanceUpdate  EventType = "BALANCE_UPDATE"
	EventSessionUpdate  EventType = "SESSION_UPDATE"
	EventModeStatus     EventType = "MODE_STATUS_UPDATE"
)

// Event is a parsed realtime channel frame. Every frame carries a `type`
// discriminator; payload fields beyond that are opaque to this layer.
// Sequence numbers for gap detection, when a consumer needs them, travel
// inside Data.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// ErrMalformedFrame marks a frame that could not be parsed. The connection
// stays open; the frame is dropped with a logged reason.
var ErrMalformedFrame = errors.New("malformed frame")

// Subscriber is a function that handles dispatched events.
type Subscriber func(Event)

// Dispatcher parses raw frames into typed events and routes them to
// subscribers synchronously, in subscription order.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []Subscriber
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher with no subscribers.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With().Str("component", "Dispatcher").Logger(),
	}
}

// Subscribe registers a subscriber. Subscribers are invoked in registration
// order and cannot be removed.
func (d *Dispatcher) Subscribe(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, sub)
}

// Handle parses a raw frame and delivers the event to every subscriber. A
// parse failure returns an error wrapping ErrMalformedFrame and delivers
// nothing; a panicking subscriber is isolated so the remaining subscribers
// still receive the event.
func (d *Dispatcher) Handle(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		framesDropped.Inc()
		d.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed frame")
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if event.Type == "" {
		framesDropped.Inc()
		d.logger.Warn().Int("bytes", len(raw)).Msg("dropping frame without type discriminator")
		return Event{}, fmt.Errorf("%w: missing type field", ErrMalformedFrame)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	for i, sub := range subs {
		d.deliver(i, sub, event)
	}

	framesDispatched.Inc()
	return event, nil
}

// deliver invokes one subscriber, recovering a panic so a failing subscriber
// cannot prevent delivery to the others or corrupt dispatcher state.
func (d *Dispatcher) deliver(index int, sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Int("subscriber", index).
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("subscriber panicked during dispatch")
		}
	}()
	sub(event)
}
