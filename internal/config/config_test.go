package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"50MB": 50 << 20,
		"1GB":  1 << 30,
		"10KB": 10 << 10,
		"100":  100,
		"":     0,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseByteSizeRejectsGarbage(t *testing.T) {
	_, err := ParseByteSize("not-a-size")
	assert.Error(t, err)
}

func TestSplitCommandTokenizesQuotedSpans(t *testing.T) {
	argv, err := splitCommand(`/bin/sh -c "echo hello world"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hello world"}, argv)
}

func TestSplitCommandRejectsUnterminatedQuote(t *testing.T) {
	_, err := splitCommand(`echo "unterminated`)
	assert.Error(t, err)
}

func TestSplitCommandRejectsEmpty(t *testing.T) {
	_, err := splitCommand("   ")
	assert.Error(t, err)
}

func TestProgramFileToProcessConfigDefaults(t *testing.T) {
	pf := ProgramFile{Command: "/usr/bin/myapp --flag"}
	pc, err := pf.ToProcessConfig("myapp")
	require.NoError(t, err)

	assert.Equal(t, []string{"/usr/bin/myapp", "--flag"}, pc.Command)
	assert.Equal(t, 999, pc.Priority)
	assert.True(t, pc.Autostart)
	assert.Equal(t, "TERM", pc.StopSignal)
	assert.Contains(t, pc.ExitCodes, 0)
}

func TestProgramFileRejectsEmptyCommand(t *testing.T) {
	pf := ProgramFile{}
	_, err := pf.ToProcessConfig("x")
	assert.Error(t, err)
}

func TestValidateRejectsMissingCommand(t *testing.T) {
	f := &File{Program: map[string]ProgramFile{"x": {}}}
	assert.Error(t, f.Validate())
}

func TestValidateRejectsUnknownGroupProgram(t *testing.T) {
	f := &File{
		Program: map[string]ProgramFile{"a": {Command: "/bin/true"}},
		Group:   map[string]GroupFile{"g": {Programs: []string{"missing"}}},
	}
	assert.Error(t, f.Validate())
}
