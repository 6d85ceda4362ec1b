package procmgr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDeliversExactClass(t *testing.T) {
	bus := NewEventBus(nil)
	var got []string
	bus.Subscribe("PROCESS_STATE_CHANGE", func(ev Event) error {
		got = append(got, ev.(ProcessStateChangeEvent).Process)
		return nil
	})

	bus.Publish(ProcessStateChangeEvent{Process: "web", From: StateStarting, To: StateRunning})
	assert.Equal(t, []string{"web"}, got)
}

func TestEventBusDeliversToParentSubscriber(t *testing.T) {
	bus := NewEventBus(nil)
	var classes []string
	bus.Subscribe("SUPERVISOR_STATE_CHANGE", func(ev Event) error {
		classes = append(classes, ev.Class())
		return nil
	})

	bus.Publish(SupervisorRunningEvent{})
	bus.Publish(SupervisorStoppingEvent{})

	assert.Equal(t, []string{"SUPERVISOR_RUNNING", "SUPERVISOR_STOPPING"}, classes)
}

func TestEventBusSwallowsHandlerErrors(t *testing.T) {
	bus := NewEventBus(nil)
	calls := 0
	bus.Subscribe("PROCESS_STATE_CHANGE", func(ev Event) error {
		calls++
		return errors.New("boom")
	})
	bus.Subscribe("PROCESS_STATE_CHANGE", func(ev Event) error {
		calls++
		return RejectEvent{Reason: "busy"}
	})

	assert.NotPanics(t, func() {
		bus.Publish(ProcessStateChangeEvent{Process: "x"})
	})
	assert.Equal(t, 2, calls)
}

func TestEventBusDoesNotCrossDeliver(t *testing.T) {
	bus := NewEventBus(nil)
	called := false
	bus.Subscribe("PROCESS_STATE_CHANGE", func(ev Event) error {
		called = true
		return nil
	})

	bus.Publish(ProcessCommunicationEvent{Process: "x", Channel: "stdout"})
	assert.False(t, called)
}
