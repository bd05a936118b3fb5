package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/hookweave/hookweave/events"
)

type (
	// ScriptSubscriber exposes a script-hosted function as an
	// events.Subscriber. Each delivery marshals the event into the runtime,
	// drives the function to completion cooperatively, and converts script
	// errors into delivery failures that feed the subscription's circuit
	// breaker.
	ScriptSubscriber struct {
		rt   ScriptRuntime
		id   string
		fn   string
		opts driveOptions
	}

	// eventCall is the native-to-script event shape.
	eventCall struct {
		ID        string    `json:"id"`
		Type      string    `json:"type"`
		Payload   any       `json:"payload"`
		Timestamp time.Time `json:"timestamp"`
		Sequence  uint64    `json:"sequence"`
		Source    string    `json:"source,omitempty"`
		Replay    bool      `json:"replay,omitempty"`
	}
)

// NewScriptSubscriber wraps the script function fn hosted by rt as a
// subscriber with the given ID.
func NewScriptSubscriber(rt ScriptRuntime, id, fn string, opts ...DriveOption) *ScriptSubscriber {
	return &ScriptSubscriber{
		rt:   rt,
		id:   id,
		fn:   fn,
		opts: newDriveOptions(opts),
	}
}

// ID returns the subscriber identifier.
func (s *ScriptSubscriber) ID() string { return s.id }

// Deliver hands the event to the script function. The function's return
// value is ignored; only an error matters to the bus.
func (s *ScriptSubscriber) Deliver(ctx context.Context, evt events.Event) error {
	arg, err := s.rt.Marshal(eventCall{
		ID:        evt.ID,
		Type:      evt.Type,
		Payload:   evt.Payload,
		Timestamp: evt.Timestamp,
		Sequence:  evt.Sequence,
		Source:    evt.Source,
		Replay:    evt.Replay,
	})
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", s.fn, err)
	}
	inv, err := s.rt.Invoke(ctx, s.fn, arg)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", s.fn, err)
	}
	if _, err := drive(ctx, s.rt, inv, s.opts); err != nil {
		return fmt.Errorf("run %s: %w", s.fn, err)
	}
	return nil
}
