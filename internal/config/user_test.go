package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUserEmptyMeansNoChange(t *testing.T) {
	uid, gid, err := resolveUser("")
	require.NoError(t, err)
	assert.Nil(t, uid)
	assert.Nil(t, gid)
}

func TestResolveUserBareNumericUIDResolvesPrimaryGID(t *testing.T) {
	// uid 0 (root) always has a passwd entry, so this exercises the
	// LookupId fallback without depending on test-machine specifics.
	uid, gid, err := resolveUser("0")
	require.NoError(t, err)
	require.NotNil(t, uid)
	assert.Equal(t, uint32(0), *uid)
	require.NotNil(t, gid, "numeric uid must resolve its passwd-entry primary gid")
}

func TestResolveUserNumericUIDWithExplicitGIDOverridesLookup(t *testing.T) {
	uid, gid, err := resolveUser("0:0")
	require.NoError(t, err)
	require.NotNil(t, uid)
	require.NotNil(t, gid)
	assert.Equal(t, uint32(0), *gid)
}
