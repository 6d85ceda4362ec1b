package procmgr

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *OutputLogger {
	t.Helper()
	return newOutputLogger("proc", "stdout", ChannelConfig{}, nil, nil)
}

func TestOutputLoggerPassesThroughPlainBytes(t *testing.T) {
	o := newTestLogger(t)
	o.Append([]byte("hello world\n"))
	o.LogOutput()

	assert.Equal(t, []string{"hello world\n"}, o.Recent(10))
}

func TestOutputLoggerCapturesBetweenTokens(t *testing.T) {
	var captured []byte
	bus := NewEventBus(nil)
	bus.Subscribe("PROCESS_COMMUNICATION", func(ev Event) error {
		captured = ev.(ProcessCommunicationEvent).Payload
		return nil
	})

	o := newOutputLogger("proc", "stdout", ChannelConfig{EventsEnabled: true}, bus, nil)
	o.Append([]byte("before " + beginToken + "payload" + endToken + " after\n"))
	o.LogOutput()

	require.Equal(t, "payload", string(captured))
	assert.Equal(t, []string{"before ", " after\n"}, o.Recent(10))
}

func TestOutputLoggerHoldsSplitToken(t *testing.T) {
	o := newTestLogger(t)
	half := beginToken[:len(beginToken)/2]
	rest := beginToken[len(beginToken)/2:]

	o.Append([]byte("plain text" + half))
	o.LogOutput()
	assert.Equal(t, []string{"plain text"}, o.Recent(10), "partial token must not reach the sink")

	o.Append([]byte(rest + "more"))
	o.LogOutput()
	assert.True(t, o.capturing, "a full token split across two reads must still be recognized")
}

func TestOutputLoggerTruncatesCapture(t *testing.T) {
	var captured []byte
	bus := NewEventBus(nil)
	bus.Subscribe("PROCESS_COMMUNICATION", func(ev Event) error {
		captured = ev.(ProcessCommunicationEvent).Payload
		return nil
	})

	o := newOutputLogger("proc", "stdout", ChannelConfig{CaptureMaxBytes: 4, EventsEnabled: true}, bus, nil)
	o.Append([]byte(beginToken + "0123456789" + endToken))
	o.LogOutput()

	assert.Equal(t, "0123", string(captured))
}

func TestRotatingFileRotatesAtMaxBytes(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.log"
	r := newRotatingFile(path, 10, 2)

	_, err := r.Write([]byte("12345"))
	require.NoError(t, err)
	_, err = r.Write([]byte("67890"))
	require.NoError(t, err)
	// Exceeds maxBytes; should rotate before writing.
	_, err = r.Write([]byte("abcde"))
	require.NoError(t, err)

	_ = r.close()

	cur, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(cur))
	backup, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", string(backup))
}
