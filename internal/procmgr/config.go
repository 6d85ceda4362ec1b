// Package procmgr implements the supervision engine: per-process state
// machines, group-level start/stop/retry scheduling, the fork/exec pipeline,
// the select-driven I/O and signal loop, and the output-capture protocol.
package procmgr

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AutoRestart mirrors supervisord's autorestart values.
type AutoRestart int

const (
	AutoRestartNever AutoRestart = iota
	AutoRestartUnexpected
	AutoRestartAlways
)

func (a AutoRestart) String() string {
	switch a {
	case AutoRestartUnexpected:
		return "unexpected"
	case AutoRestartAlways:
		return "always"
	default:
		return "never"
	}
}

// ChannelConfig holds the per-stream (stdout or stderr) logging knobs.
type ChannelConfig struct {
	Logfile         string
	MaxBytes        int64
	Backups         int
	CaptureMaxBytes int64
	EventsEnabled   bool
}

// ProcessConfig is the immutable description of one child program (§4.A).
// A loaded ProcessConfig never changes for the lifetime of the configuration
// it came from; reloads replace the whole value rather than mutate it.
type ProcessConfig struct {
	Name      string
	Command   []string // tokenized argv, Command[0] is the program
	Directory string
	Umask     *uint32 // nil means "inherit"
	UID       *uint32 // nil means "don't change identity"
	GID       *uint32

	Priority int // lower starts earlier, stops later

	Autostart    bool
	Autorestart  AutoRestart
	StartSecs    time.Duration
	StartRetries int

	StopSignal   string // signal name, e.g. "TERM"
	StopWaitSecs time.Duration
	ExitCodes    map[int]struct{} // the "expected" exit code set

	RedirectStderr bool
	Stdout         ChannelConfig
	Stderr         ChannelConfig

	Environment map[string]string
	ServerURL   string

	Logger *zap.Logger // named sub-logger; not part of configuration identity
}

// Equal reports whether two configs are identical for reload-diffing
// purposes. Logger is intentionally excluded.
func (c *ProcessConfig) Equal(o *ProcessConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Name != o.Name || !equalStrings(c.Command, o.Command) ||
		c.Directory != o.Directory || !equalUint32Ptr(c.Umask, o.Umask) ||
		!equalUint32Ptr(c.UID, o.UID) || !equalUint32Ptr(c.GID, o.GID) ||
		c.Priority != o.Priority || c.Autostart != o.Autostart ||
		c.Autorestart != o.Autorestart || c.StartSecs != o.StartSecs ||
		c.StartRetries != o.StartRetries || c.StopSignal != o.StopSignal ||
		c.StopWaitSecs != o.StopWaitSecs || c.RedirectStderr != o.RedirectStderr ||
		c.ServerURL != o.ServerURL {
		return false
	}
	if !equalIntSet(c.ExitCodes, o.ExitCodes) {
		return false
	}
	if !equalChannel(c.Stdout, o.Stdout) || !equalChannel(c.Stderr, o.Stderr) {
		return false
	}
	return equalStringMap(c.Environment, o.Environment)
}

func equalChannel(a, b ChannelConfig) bool {
	return a.Logfile == b.Logfile && a.MaxBytes == b.MaxBytes &&
		a.Backups == b.Backups && a.CaptureMaxBytes == b.CaptureMaxBytes &&
		a.EventsEnabled == b.EventsEnabled
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalUint32Ptr(a, b *uint32) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func equalIntSet(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func equalStringMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// MakeProcess constructs a fresh Subprocess for this config. The returned
// value is reused for every restart of the same ProcessConfig: Spawn and
// Finish reset its runtime fields rather than replacing it (§3 lifecycle
// note).
func (c *ProcessConfig) MakeProcess(bus *EventBus) *Subprocess {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subprocess{
		config: c,
		bus:    bus,
		log:    logger.Named("subprocess").With(zap.String("process", c.Name)),
		stdout: newOutputLogger(c.Name, "stdout", c.Stdout, bus, logger),
		stderr: newOutputLogger(c.Name, "stderr", c.Stderr, bus, logger),
	}
}

// MakeDispatchers builds exactly the dispatcher set this config requires
// (§4.A): a stderr output dispatcher is omitted when RedirectStderr is set,
// since the child's stderr is duplicated onto the stdout pipe instead.
func (c *ProcessConfig) MakeDispatchers(sp *Subprocess) map[string]Dispatcher {
	d := make(map[string]Dispatcher, 3)
	d["stdout"] = &outputDispatcher{sp: sp, channel: "stdout"}
	if !c.RedirectStderr {
		d["stderr"] = &outputDispatcher{sp: sp, channel: "stderr"}
	}
	d["stdin"] = &inputDispatcher{sp: sp}
	return d
}

func fmtArgv(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	out := argv[0]
	for _, a := range argv[1:] {
		out = fmt.Sprintf("%s %s", out, a)
	}
	return out
}
