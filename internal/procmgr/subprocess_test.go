//go:build linux

package procmgr

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(name string, command []string) *ProcessConfig {
	return &ProcessConfig{
		Name:         name,
		Command:      command,
		StartSecs:    50 * time.Millisecond,
		StartRetries: 3,
		StopSignal:   "TERM",
		StopWaitSecs: time.Second,
		ExitCodes:    map[int]struct{}{0: {}},
		Logger:       zap.NewNop(),
	}
}

func TestSpawnAndReapSuccessfulExit(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	sp := cfg.MakeProcess(NewEventBus(nil))

	pid := sp.Spawn()
	require.NotZero(t, pid)
	assert.Equal(t, StateStarting, sp.State())

	var ws syscall.WaitStatus
	waited, err := syscall.Wait4(pid, &ws, 0, nil)
	require.NoError(t, err)
	require.Equal(t, pid, waited)

	sp.Finish(time.Now().Add(100*time.Millisecond), ws)
	assert.Zero(t, sp.Pid())
	assert.Equal(t, StateExited, sp.State())
}

func TestSpawnTooQuicklyGoesToBackoff(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	cfg.StartSecs = time.Hour // never "survives" startsecs
	sp := cfg.MakeProcess(NewEventBus(nil))

	pid := sp.Spawn()
	require.NotZero(t, pid)

	var ws syscall.WaitStatus
	_, err := syscall.Wait4(pid, &ws, 0, nil)
	require.NoError(t, err)

	sp.Finish(time.Now(), ws)
	assert.Equal(t, 1, sp.Backoff())
	assert.Equal(t, StateBackoff, sp.State())
}

func TestSpawnUnknownCommandFails(t *testing.T) {
	cfg := testConfig("nope", []string{"/no/such/binary-xyz"})
	sp := cfg.MakeProcess(NewEventBus(nil))

	pid := sp.Spawn()
	assert.Zero(t, pid)
	assert.Equal(t, 1, sp.Backoff())
	assert.Contains(t, sp.SpawnErr(), "can't find command")
}

func TestWriteFailsWhenNotRunning(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	sp := cfg.MakeProcess(NewEventBus(nil))

	err := sp.Write([]byte("hi"))
	assert.Error(t, err)
}

func TestStopIsIdempotentOnStoppedProcess(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	sp := cfg.MakeProcess(NewEventBus(nil))

	assert.NotPanics(t, func() { sp.Stop(time.Now()) })
	assert.Equal(t, StateStopped, sp.State())
}

func TestFinishAfterKillingTransitionsToStopped(t *testing.T) {
	cfg := testConfig("sleep", []string{"/bin/sleep", "5"})
	sp := cfg.MakeProcess(NewEventBus(nil))

	pid := sp.Spawn()
	require.NotZero(t, pid)

	sp.Stop(time.Now())
	require.Equal(t, StateStopping, sp.State())

	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))
	var ws syscall.WaitStatus
	_, err := syscall.Wait4(pid, &ws, 0, nil)
	require.NoError(t, err)

	sp.Finish(time.Now(), ws)
	assert.Equal(t, StateStopped, sp.State())
}
