// Package config loads the supervisor's TOML configuration file and
// converts it into the procmgr package's immutable process/group
// descriptions (§6). The grammar is adapted from the INI-style original to
// TOML tables, following the teacher pack's configuration idiom rather
// than hand-rolling an INI parser.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/edirooss/supervisor/internal/procmgr"
)

// Dur unmarshals a TOML value as a time.Duration, accepting either a Go
// duration string ("10s") or a bare integer number of seconds. Adapted
// from the Dur type in bogen85-config's zombie-reaping-supervisor.
type Dur struct{ time.Duration }

func (d *Dur) UnmarshalTOML(v interface{}) error {
	switch x := v.(type) {
	case nil:
		d.Duration = 0
	case string:
		if x == "" {
			d.Duration = 0
			return nil
		}
		dd, err := time.ParseDuration(x)
		if err != nil {
			secs, serr := strconv.Atoi(x)
			if serr != nil {
				return fmt.Errorf("invalid duration %q: %w", x, err)
			}
			dd = time.Duration(secs) * time.Second
		}
		d.Duration = dd
	case int64:
		d.Duration = time.Duration(x) * time.Second
	case float64:
		d.Duration = time.Duration(x * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration value %#v", v)
	}
	return nil
}

// ByteSize unmarshals a TOML value as a byte count, accepting a bare
// integer or a string with a "KB"/"MB"/"GB" suffix (e.g. a channel's maxbytes).
type ByteSize int64

func (b *ByteSize) UnmarshalTOML(v interface{}) error {
	switch x := v.(type) {
	case nil:
		*b = 0
	case int64:
		*b = ByteSize(x)
	case float64:
		*b = ByteSize(x)
	case string:
		n, err := ParseByteSize(x)
		if err != nil {
			return err
		}
		*b = ByteSize(n)
	default:
		return fmt.Errorf("invalid byte size value %#v", v)
	}
	return nil
}

// ParseByteSize parses strings like "50MB", "1GB", "1024" into a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	upper := strings.ToUpper(s)
	mult := int64(1)
	suffixes := []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1},
	}
	numPart := upper
	for _, sfx := range suffixes {
		if strings.HasSuffix(upper, sfx.suffix) {
			mult = sfx.mult
			numPart = strings.TrimSuffix(upper, sfx.suffix)
			break
		}
	}
	numPart = strings.TrimSpace(numPart)
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * mult, nil
}

// ChannelFile is the raw TOML shape of a program's stdout and stderr
// sub-tables ([program.NAME.stdout], [program.NAME.stderr]).
type ChannelFile struct {
	Logfile         string   `toml:"logfile"`
	MaxBytes        ByteSize `toml:"maxbytes"`
	Backups         int      `toml:"backups"`
	CaptureMaxBytes ByteSize `toml:"capture_maxbytes"`
	EventsEnabled   bool     `toml:"events_enabled"`
}

// ProgramFile is one [program.NAME] table (§6 "[program:NAME] sections").
type ProgramFile struct {
	Command        string            `toml:"command"`
	Priority       int               `toml:"priority"`
	Autostart      *bool             `toml:"autostart"`
	Autorestart    string            `toml:"autorestart"` // "false" | "unexpected" | "true"
	StartSecs      Dur               `toml:"startsecs"`
	StartRetries   int               `toml:"startretries"`
	ExitCodes      []int             `toml:"exitcodes"`
	StopSignal     string            `toml:"stopsignal"`
	StopWaitSecs   Dur               `toml:"stopwaitsecs"`
	User           string            `toml:"user"`
	Directory      string            `toml:"directory"`
	Umask          string            `toml:"umask"`
	RedirectStderr bool              `toml:"redirect_stderr"`
	Stdout         ChannelFile       `toml:"stdout"`
	Stderr         ChannelFile       `toml:"stderr"`
	Environment    map[string]string `toml:"environment"`
	NumProcs       int               `toml:"numprocs"`
	ProcessName    string            `toml:"process_name"`
}

// GroupFile is one [group.NAME] table (§6).
type GroupFile struct {
	Programs []string `toml:"programs"`
	Priority int      `toml:"priority"`
}

// SupervisordFile is the [supervisord] table (§6).
type SupervisordFile struct {
	Logfile        string   `toml:"logfile"`
	LogfileMaxByte ByteSize `toml:"logfile_maxbytes"`
	LogfileBackups int      `toml:"logfile_backups"`
	LogLevel       string   `toml:"loglevel"`
	Pidfile        string   `toml:"pidfile"`
	Nodaemon       bool     `toml:"nodaemon"`
	MinFDs         int      `toml:"minfds"`
	MinProcs       int      `toml:"minprocs"`
	Umask          string   `toml:"umask"`
	User           string   `toml:"user"`
	Directory      string   `toml:"directory"`
	Identifier     string   `toml:"identifier"`
	ChildLogDir    string   `toml:"childlogdir"`
	NoCleanup      bool     `toml:"nocleanup"`
}

// File is the top-level document shape.
type File struct {
	Supervisord SupervisordFile        `toml:"supervisord"`
	Program     map[string]ProgramFile `toml:"program"`
	Group       map[string]GroupFile   `toml:"group"`
}

// Load reads and parses path into a File.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate enforces the config-error class of §7: missing command, bad
// autorestart values, and similar load-time faults are fatal.
func (f *File) Validate() error {
	for name, p := range f.Program {
		if strings.TrimSpace(p.Command) == "" {
			return fmt.Errorf("program %q: command is required", name)
		}
		switch p.Autorestart {
		case "", "false", "true", "unexpected":
		default:
			return fmt.Errorf("program %q: invalid autorestart %q", name, p.Autorestart)
		}
	}
	for name, g := range f.Group {
		for _, prog := range g.Programs {
			if _, ok := f.Program[prog]; !ok {
				return fmt.Errorf("group %q: unknown program %q", name, prog)
			}
		}
	}
	return nil
}

// ToProcessConfig converts one ProgramFile into the engine's ProcessConfig,
// applying the documented defaults (priority 999, startsecs etc., §6).
func (p *ProgramFile) ToProcessConfig(name string) (*procmgr.ProcessConfig, error) {
	argv, err := splitCommand(p.Command)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", name, err)
	}

	priority := p.Priority
	if priority == 0 {
		priority = 999
	}
	startSecs := p.StartSecs.Duration
	if startSecs == 0 {
		startSecs = time.Second
	}
	stopWaitSecs := p.StopWaitSecs.Duration
	if stopWaitSecs == 0 {
		stopWaitSecs = 10 * time.Second
	}
	stopSignal := p.StopSignal
	if stopSignal == "" {
		stopSignal = "TERM"
	}
	autostart := true
	if p.Autostart != nil {
		autostart = *p.Autostart
	}

	exitCodes := map[int]struct{}{0: {}}
	if len(p.ExitCodes) > 0 {
		exitCodes = make(map[int]struct{}, len(p.ExitCodes))
		for _, c := range p.ExitCodes {
			exitCodes[c] = struct{}{}
		}
	}

	var umask *uint32
	if p.Umask != "" {
		v, err := strconv.ParseUint(p.Umask, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("program %q: invalid umask %q: %w", name, p.Umask, err)
		}
		u := uint32(v)
		umask = &u
	}

	uid, gid, err := resolveUser(p.User)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", name, err)
	}

	return &procmgr.ProcessConfig{
		Name:         name,
		Command:      argv,
		Directory:    p.Directory,
		Umask:        umask,
		UID:          uid,
		GID:          gid,
		Priority:     priority,
		Autostart:    autostart,
		Autorestart:  parseAutorestart(p.Autorestart),
		StartSecs:    startSecs,
		StartRetries: defaultInt(p.StartRetries, 3),
		StopSignal:   stopSignal,
		StopWaitSecs: stopWaitSecs,
		ExitCodes:    exitCodes,
		RedirectStderr: p.RedirectStderr,
		Stdout:       p.Stdout.toChannelConfig(),
		Stderr:       p.Stderr.toChannelConfig(),
		Environment:  p.Environment,
	}, nil
}

func (c ChannelFile) toChannelConfig() procmgr.ChannelConfig {
	return procmgr.ChannelConfig{
		Logfile:         c.Logfile,
		MaxBytes:        int64(c.MaxBytes),
		Backups:         c.Backups,
		CaptureMaxBytes: int64(c.CaptureMaxBytes),
		EventsEnabled:   c.EventsEnabled,
	}
}

func parseAutorestart(v string) procmgr.AutoRestart {
	switch v {
	case "true":
		return procmgr.AutoRestartAlways
	case "false":
		return procmgr.AutoRestartNever
	default:
		return procmgr.AutoRestartUnexpected
	}
}

func defaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

// splitCommand tokenizes a command string into argv, honoring simple single-
// and double-quoted spans (no shell expansion; §4.A "tokenized argv").
func splitCommand(cmd string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	var quote rune
	for _, r := range cmd {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				argv = append(argv, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command %q", cmd)
	}
	if cur.Len() > 0 {
		argv = append(argv, cur.String())
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}
