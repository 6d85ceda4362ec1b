//go:build linux

package procmgr

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalPriorityRanksShutdownSignalsTogetherAheadOfOthers(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT} {
		assert.Equal(t, 0, signalRank(sig), sig.String())
	}
	assert.Less(t, signalRank(syscall.SIGTERM), signalRank(syscall.SIGHUP))
	assert.Less(t, signalRank(syscall.SIGHUP), signalRank(syscall.SIGUSR2))
	assert.Less(t, signalRank(syscall.SIGUSR2), signalRank(syscall.SIGCHLD))
}

func TestSelfPipeCoalescesToHighestPriority(t *testing.T) {
	sp := &selfPipe{}
	sp.coalesce(syscall.SIGCHLD)
	sp.coalesce(syscall.SIGQUIT)
	sp.coalesce(syscall.SIGHUP)

	assert.Equal(t, syscall.SIGQUIT, sp.Take())
	assert.Nil(t, sp.Take())
}
