//go:build linux

package procmgr

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSelectLoopDrivesOutputThroughToSinkAndEvents is an integration test
// for the select loop's stdout path: it spawns a real child, drives
// selectFDs/OnReadReady the way Supervisor.Run does, and asserts the bytes
// reach both the rotating sink on disk and a published
// ProcessCommunicationEvent — the handoff a unit test on OutputLogger alone
// can't catch if the dispatcher never calls LogOutput.
func TestSelectLoopDrivesOutputThroughToSinkAndEvents(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "out.log")

	bus := NewEventBus(nil)
	var events []Event
	bus.Subscribe("PROCESS_COMMUNICATION", func(ev Event) error { events = append(events, ev); return nil })

	cfg := testConfig("echoer", []string{"/bin/sh", "-c",
		`printf 'plain line\n'; printf '<!--XSUPERVISOR:BEGIN-->hello<!--XSUPERVISOR:END-->'`})
	cfg.Stdout = ChannelConfig{Logfile: logPath, EventsEnabled: true}
	sp := cfg.MakeProcess(bus)

	pid := sp.Spawn()
	require.NotZero(t, pid)

	d := &outputDispatcher{sp: sp, channel: "stdout"}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := d.FD(); !ok {
			break
		}
		ready, _, err := selectFDs([]Dispatcher{d}, 200*time.Millisecond)
		require.NoError(t, err)
		for _, rd := range ready {
			require.NoError(t, rd.OnReadReady())
		}
	}

	var ws syscall.WaitStatus
	_, _ = syscall.Wait4(pid, &ws, 0, nil)

	require.Len(t, events, 1)
	ev := events[0].(ProcessCommunicationEvent)
	assert.Equal(t, "hello", string(ev.Payload))

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "plain line")
}
