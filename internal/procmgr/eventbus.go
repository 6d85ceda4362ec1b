package procmgr

import (
	"sync"

	"go.uber.org/zap"
)

// Event is the common interface for everything published on the bus.
// Class returns the concrete event's own type token; Parent returns the
// coarser type token it refines, or "" at the root of a hierarchy. This is
// the only hierarchy support the bus needs (§4.F): SupervisorRunningEvent
// and SupervisorStoppingEvent both refine SupervisorStateChangeEvent.
type Event interface {
	Class() string
	Parent() string
}

// ProcessCommunicationEvent carries a captured BEGIN/END payload (§4.B, §6).
type ProcessCommunicationEvent struct {
	Process string
	Channel string // "stdout" or "stderr"
	Payload []byte
}

func (ProcessCommunicationEvent) Class() string  { return "PROCESS_COMMUNICATION" }
func (ProcessCommunicationEvent) Parent() string { return "" }

// SupervisorStateChangeEvent is the parent class of the Running/Stopping
// events below; it is never published directly.
type SupervisorStateChangeEvent struct{}

func (SupervisorStateChangeEvent) Class() string  { return "SUPERVISOR_STATE_CHANGE" }
func (SupervisorStateChangeEvent) Parent() string { return "" }

type SupervisorRunningEvent struct{ SupervisorStateChangeEvent }

func (SupervisorRunningEvent) Class() string { return "SUPERVISOR_RUNNING" }
func (e SupervisorRunningEvent) Parent() string {
	return e.SupervisorStateChangeEvent.Class()
}

type SupervisorStoppingEvent struct{ SupervisorStateChangeEvent }

func (SupervisorStoppingEvent) Class() string { return "SUPERVISOR_STOPPING" }
func (e SupervisorStoppingEvent) Parent() string {
	return e.SupervisorStateChangeEvent.Class()
}

// ProcessStateChangeEvent announces a Subprocess transitioning between
// derived states, used for operator-facing logs and listeners.
type ProcessStateChangeEvent struct {
	Process string
	From    ProcessState
	To      ProcessState
}

func (ProcessStateChangeEvent) Class() string  { return "PROCESS_STATE_CHANGE" }
func (ProcessStateChangeEvent) Parent() string { return "" }

// RejectEvent is the distinguished signal a handler raises (by returning it
// as an error from a Handler) to ask for redelivery; used by an external
// listener component that wants back-pressure instead of drop-on-failure.
type RejectEvent struct{ Reason string }

func (e RejectEvent) Error() string { return "event rejected: " + e.Reason }

// Handler receives a matching event. It must not block. A non-nil,
// non-RejectEvent error is logged and swallowed; RejectEvent is logged too
// (the spec's redelivery mechanic is a property of the external listener
// component, out of scope for the in-process bus itself).
type Handler func(Event) error

type subscription struct {
	token   string
	handler Handler
}

// EventBus is a synchronous, in-process, ordered publish/subscribe registry
// (§4.F, §9 "Global event bus" design note: explicit value threaded through
// construction rather than a package-global registry).
type EventBus struct {
	mu   sync.Mutex
	subs []subscription
	log  *zap.Logger
}

// NewEventBus constructs an EventBus bound to the given logger. Production
// code wires one EventBus per Supervisor instance; tests construct their
// own.
func NewEventBus(log *zap.Logger) *EventBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBus{log: log.Named("eventbus")}
}

// Subscribe registers handler for events whose Class() equals token, or
// whose direct Parent() equals token (coarse one-level hierarchy matching
// per §4.F; grandparents are not consulted).
func (b *EventBus) Subscribe(token string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{token: token, handler: h})
}

// Publish delivers ev to every matching handler, in registration order.
// Handler panics are not recovered here deliberately: a handler that panics
// is a programming bug in the listener, not a runtime condition the spec
// asks the bus to paper over; only returned errors are the handled failure
// path.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	class := ev.Class()
	for _, s := range subs {
		if !matches(ev, s.token) {
			continue
		}
		if err := s.handler(ev); err != nil {
			if _, ok := err.(RejectEvent); ok {
				b.log.Warn("event rejected", zap.String("class", class), zap.Error(err))
			} else {
				b.log.Error("event handler error", zap.String("class", class), zap.Error(err))
			}
		}
	}
}

// matches implements the coarse one-level hierarchy of §4.F: an event
// matches a subscription token if it IS that class, or REFINES it.
func matches(ev Event, token string) bool {
	return ev.Class() == token || ev.Parent() == token
}
