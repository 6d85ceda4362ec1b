//go:build linux

package procmgr

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignalAcceptsBareAndPrefixedNames(t *testing.T) {
	sig, err := ParseSignal("TERM")
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGTERM, sig)

	sig, err = ParseSignal("SIGHUP")
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGHUP, sig)
}

func TestParseSignalRejectsUnknown(t *testing.T) {
	_, err := ParseSignal("BOGUS")
	assert.Error(t, err)
}
