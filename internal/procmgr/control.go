//go:build linux

package procmgr

import (
	"fmt"
	"strings"
	"time"
)

// ErrCode enumerates the control surface's typed failures (§4.H). The HTTP
// transport maps each to a status code; nothing in this package knows
// about HTTP.
type ErrCode int

const (
	ErrNone ErrCode = iota
	ErrBadName
	ErrAlreadyStarted
	ErrNotRunning
	ErrNoFile
	ErrNotExecutable
	ErrSpawnError
	ErrFailed
	ErrStillRunning
	ErrShutdownState
	ErrAlreadyAdded
)

func (c ErrCode) String() string {
	switch c {
	case ErrBadName:
		return "BAD_NAME"
	case ErrAlreadyStarted:
		return "ALREADY_STARTED"
	case ErrNotRunning:
		return "NOT_RUNNING"
	case ErrNoFile:
		return "NO_FILE"
	case ErrNotExecutable:
		return "NOT_EXECUTABLE"
	case ErrSpawnError:
		return "SPAWN_ERROR"
	case ErrFailed:
		return "FAILED"
	case ErrStillRunning:
		return "STILL_RUNNING"
	case ErrShutdownState:
		return "SHUTDOWN_STATE"
	case ErrAlreadyAdded:
		return "ALREADY_ADDED"
	default:
		return "OK"
	}
}

// ControlError is the error type every Control method returns on failure.
type ControlError struct {
	Code ErrCode
	Msg  string
}

func (e *ControlError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func controlErr(code ErrCode, format string, args ...any) *ControlError {
	return &ControlError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ProcessInfo is one row of list()'s result (§4.H).
type ProcessInfo struct {
	Name        string
	Group       string
	State       string
	Pid         int
	Start       time.Time
	Stop        time.Time
	Now         time.Time
	Description string
	SpawnErr    string
}

// GroupDiff is reloadConfig()'s result shape (§4.H).
type GroupDiff struct {
	Added   []string
	Changed []string
	Removed []string
}

// Control is the External Control Surface (§4.H), a thin typed-error
// facade over a Supervisor. It is the seam the HTTP transport binds to;
// nothing downstream of this interface knows about wire formats.
type Control interface {
	List() []ProcessInfo
	Start(name string) error
	Stop(name string) error
	StartGroup(name string) ([]ProcessInfo, error)
	StopGroup(name string) ([]ProcessInfo, error)
	StartAll() []ProcessInfo
	StopAll() []ProcessInfo
	ReadLog(name, channel string, offset, length int) (string, error)
	ClearLog(name string) error
	AddGroup(name string, priority int, configs []*ProcessConfig) error
	RemoveGroup(name string) error
	Shutdown()
	Restart()
	ReloadConfig(groups []*ProcessGroup) GroupDiff
}

type control struct {
	sup *Supervisor
}

// NewControl binds a Control facade to sup.
func NewControl(sup *Supervisor) Control { return &control{sup: sup} }

func (c *control) List() []ProcessInfo {
	now := time.Now()
	var out []ProcessInfo
	for _, g := range c.sup.Groups() {
		for _, sp := range g.Processes() {
			out = append(out, ProcessInfo{
				Name:     sp.Name(),
				Group:    g.Name,
				State:    sp.State().String(),
				Pid:      sp.Pid(),
				Start:    sp.LastStart(),
				Stop:     sp.LastStop(),
				Now:      now,
				SpawnErr: sp.SpawnErr(),
			})
		}
	}
	return out
}

func (c *control) findProcess(name string) (*ProcessGroup, *Subprocess) {
	for _, g := range c.sup.Groups() {
		if sp := g.ByName(name); sp != nil {
			return g, sp
		}
	}
	return nil, nil
}

// Start implements §4.H start(name): STOPPED/EXITED/BACKOFF -> STARTING.
func (c *control) Start(name string) error {
	if c.sup.Mood() != MoodRunning {
		return controlErr(ErrShutdownState, "supervisor is shutting down")
	}
	g, sp := c.findProcess(name)
	if sp == nil {
		return controlErr(ErrBadName, "no such process %q", name)
	}
	switch sp.State() {
	case StateRunning, StateStarting, StateStopping:
		return controlErr(ErrAlreadyStarted, "%s is already started", name)
	}
	if _, err := resolveCommand(sp.Config().Command[0]); err != nil {
		if strings.Contains(err.Error(), "not executable") {
			return controlErr(ErrNotExecutable, "%s", err.Error())
		}
		return controlErr(ErrNoFile, "%s", err.Error())
	}
	g.spawnOne(sp)
	if sp.Pid() == 0 {
		return controlErr(ErrSpawnError, "%s", sp.SpawnErr())
	}
	return nil
}

// Stop implements §4.H stop(name).
func (c *control) Stop(name string) error {
	g, sp := c.findProcess(name)
	if sp == nil {
		return controlErr(ErrBadName, "no such process %q", name)
	}
	before := sp.State()
	switch before {
	case StateStopped, StateFatal, StateExited:
		return controlErr(ErrNotRunning, "%s is not running", name)
	}
	sp.Stop(time.Now())
	g.publishStateChange(sp, before, sp.State())
	return nil
}

func (c *control) StartGroup(name string) ([]ProcessInfo, error) {
	g := c.sup.groupByName(name)
	if g == nil {
		return nil, controlErr(ErrBadName, "no such group %q", name)
	}
	g.StartNecessary()
	return c.infoForGroup(g), nil
}

func (c *control) StopGroup(name string) ([]ProcessInfo, error) {
	g := c.sup.groupByName(name)
	if g == nil {
		return nil, controlErr(ErrBadName, "no such group %q", name)
	}
	g.StopAll(time.Now())
	return c.infoForGroup(g), nil
}

func (c *control) infoForGroup(g *ProcessGroup) []ProcessInfo {
	now := time.Now()
	var out []ProcessInfo
	for _, sp := range g.Processes() {
		out = append(out, ProcessInfo{
			Name: sp.Name(), Group: g.Name, State: sp.State().String(),
			Pid: sp.Pid(), Start: sp.LastStart(), Stop: sp.LastStop(), Now: now,
			SpawnErr: sp.SpawnErr(),
		})
	}
	return out
}

func (c *control) StartAll() []ProcessInfo {
	for _, g := range c.sup.Groups() {
		g.StartNecessary()
	}
	return c.List()
}

func (c *control) StopAll() []ProcessInfo {
	groups := c.sup.Groups()
	for i := len(groups) - 1; i >= 0; i-- {
		groups[i].StopAll(time.Now())
	}
	return c.List()
}

func (c *control) ReadLog(name, channel string, offset, length int) (string, error) {
	_, sp := c.findProcess(name)
	if sp == nil {
		return "", controlErr(ErrBadName, "no such process %q", name)
	}
	var logger *OutputLogger
	switch channel {
	case "stdout":
		logger = sp.stdout
	case "stderr":
		logger = sp.stderr
	default:
		return "", controlErr(ErrFailed, "unknown channel %q", channel)
	}
	text, err := logger.ReadRange(int64(offset), int64(length))
	if err != nil {
		return "", controlErr(ErrNoFile, "%v", err)
	}
	return text, nil
}

func (c *control) ClearLog(name string) error {
	_, sp := c.findProcess(name)
	if sp == nil {
		return controlErr(ErrBadName, "no such process %q", name)
	}
	if err := sp.stdout.Truncate(); err != nil {
		return controlErr(ErrFailed, "%v", err)
	}
	if err := sp.stderr.Truncate(); err != nil {
		return controlErr(ErrFailed, "%v", err)
	}
	return nil
}

func (c *control) AddGroup(name string, priority int, configs []*ProcessConfig) error {
	if c.sup.groupByName(name) != nil {
		return controlErr(ErrAlreadyAdded, "group %q already exists", name)
	}
	g := NewProcessGroup(name, priority, configs, c.sup.bus, c.sup.log)
	c.sup.mu.Lock()
	c.sup.groups = append(c.sup.groups, g)
	sortGroupsByPriority(c.sup.groups)
	c.sup.mu.Unlock()
	return nil
}

func (c *control) RemoveGroup(name string) error {
	g := c.sup.groupByName(name)
	if g == nil {
		return controlErr(ErrBadName, "no such group %q", name)
	}
	for _, sp := range g.Processes() {
		if sp.State() != StateStopped && sp.State() != StateFatal && sp.State() != StateExited {
			return controlErr(ErrStillRunning, "%s is not stopped", sp.Name())
		}
	}
	c.sup.mu.Lock()
	defer c.sup.mu.Unlock()
	for i, gg := range c.sup.groups {
		if gg == g {
			c.sup.groups = append(c.sup.groups[:i], c.sup.groups[i+1:]...)
			break
		}
	}
	return nil
}

func (c *control) Shutdown() { c.sup.RequestShutdown() }
func (c *control) Restart()  { c.sup.RequestRestart() }

// ReloadConfig diffs groups against the live configuration by name and
// ProcessConfig.Equal (§4.H, §9 "Config reload").
func (c *control) ReloadConfig(newGroups []*ProcessGroup) GroupDiff {
	var diff GroupDiff

	current := make(map[string]*Subprocess)
	for _, g := range c.sup.Groups() {
		for _, sp := range g.Processes() {
			current[sp.Name()] = sp
		}
	}

	seen := make(map[string]bool)
	for _, g := range newGroups {
		for _, sp := range g.Processes() {
			seen[sp.Name()] = true
			old, ok := current[sp.Name()]
			if !ok {
				diff.Added = append(diff.Added, sp.Name())
			} else if !old.Config().Equal(sp.Config()) {
				diff.Changed = append(diff.Changed, sp.Name())
			}
		}
	}
	for name := range current {
		if !seen[name] {
			diff.Removed = append(diff.Removed, name)
		}
	}
	return diff
}
