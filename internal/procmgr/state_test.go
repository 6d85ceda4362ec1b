package procmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateDerivation(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name string
		sp   Subprocess
		want ProcessState
	}{
		{"never started", Subprocess{}, StateStopped},
		{"starting", Subprocess{pid: 100, laststart: now, delay: now.Add(time.Second)}, StateStarting},
		{"running", Subprocess{pid: 100, laststart: now}, StateRunning},
		{"backoff", Subprocess{laststart: now, delay: now.Add(time.Second)}, StateBackoff},
		{"exited", Subprocess{laststart: now, exitstatus: &ExitStatus{Code: 1}}, StateExited},
		{"stopped after admin stop", Subprocess{laststart: now, exitstatus: &ExitStatus{}, administrativeStop: true}, StateStopped},
		{"stopping", Subprocess{pid: 100, laststart: now, killing: true}, StateStopping},
		{"fatal", Subprocess{laststart: now, systemStop: true}, StateFatal},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.sp.State())
		})
	}
}

func TestProcessStateString(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNKNOWN", ProcessState(99).String())
}
