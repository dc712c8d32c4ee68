package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrDropped = errors.New("channel not open, event dropped")

// Channel is the signaling side of a session transport.
type Channel interface {
	IsOpen() bool
	Send(ctx context.Context, payload []byte) error
}

// Emitter frames events onto a Channel. Sends are serialised so events
// arrive in emission order. Events emitted while the channel is not open
// are dropped, never buffered.
type Emitter struct {
	mu      sync.Mutex
	channel Channel

	onSent    func(Event)
	onDropped func(Event)
}

type EmitterOption func(*Emitter)

func WithOnSent(callback func(Event)) EmitterOption {
	return func(e *Emitter) { e.onSent = callback }
}

// WithOnDropped registers callback for events that were dropped because
// the channel was closed or the send failed.
func WithOnDropped(callback func(Event)) EmitterOption {
	return func(e *Emitter) { e.onDropped = callback }
}

func NewEmitter(channel Channel, opts ...EmitterOption) *Emitter {
	e := &Emitter{channel: channel}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) Emit(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.channel == nil || !e.channel.IsOpen() {
		e.dropped(event)
		return fmt.Errorf("%w: %s", ErrDropped, event.Kind())
	}

	if err := e.channel.Send(ctx, payload); err != nil {
		e.dropped(event)
		return fmt.Errorf("failed to send %s event: %w", event.Kind(), err)
	}

	if e.onSent != nil {
		e.onSent(event)
	}
	return nil
}

func (e *Emitter) dropped(event Event) {
	if e.onDropped != nil {
		e.onDropped(event)
	}
}
