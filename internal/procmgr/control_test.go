//go:build linux

package procmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSupervisor(cfgs ...*ProcessConfig) *Supervisor {
	bus := NewEventBus(nil)
	g := NewProcessGroup("g", 1, cfgs, bus, zap.NewNop())
	return NewSupervisor([]*ProcessGroup{g}, bus, zap.NewNop())
}

func TestControlStartUnknownProcessIsBadName(t *testing.T) {
	sup := testSupervisor()
	ctrl := NewControl(sup)

	err := ctrl.Start("missing")
	require.Error(t, err)
	var ce *ControlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrBadName, ce.Code)
}

func TestControlStopNotRunningProcess(t *testing.T) {
	cfg := testConfig("true", []string{"/bin/true"})
	sup := testSupervisor(cfg)
	ctrl := NewControl(sup)

	err := ctrl.Stop("true")
	require.Error(t, err)
	var ce *ControlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrNotRunning, ce.Code)
}

func TestControlStartSpawnsProcess(t *testing.T) {
	cfg := testConfig("sleep", []string{"/bin/sleep", "5"})
	cfg.Autostart = false
	sup := testSupervisor(cfg)
	ctrl := NewControl(sup)

	require.NoError(t, ctrl.Start("sleep"))
	infos := ctrl.List()
	require.Len(t, infos, 1)
	assert.NotZero(t, infos[0].Pid)

	sp := sup.Groups()[0].ByName("sleep")
	sp.Kill(15) // SIGTERM, cleanup so the test doesn't leak a sleeping child
}

func TestControlRemoveGroupFailsWhileRunning(t *testing.T) {
	cfg := testConfig("sleep", []string{"/bin/sleep", "5"})
	cfg.Autostart = false
	sup := testSupervisor(cfg)
	ctrl := NewControl(sup)
	require.NoError(t, ctrl.Start("sleep"))
	defer sup.Groups()[0].ByName("sleep").Kill(15)

	err := ctrl.RemoveGroup("g")
	require.Error(t, err)
	var ce *ControlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrStillRunning, ce.Code)
}

func TestControlErrCodeString(t *testing.T) {
	assert.Equal(t, "BAD_NAME", ErrBadName.String())
	assert.Equal(t, "OK", ErrNone.String())
}
