//go:build linux

package procmgr

import (
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ProcessGroup owns one or more Subprocesses (§3 "Process Group"). The
// group's Priority orders it among other groups; its members are ordered
// within it by their own config priority. A group with a single member
// is the common case ([program:NAME] in config); [group:NAME] sections
// fold several programs into one group.
type ProcessGroup struct {
	Name     string
	Priority int

	bus   *EventBus
	log   *zap.Logger
	procs []*Subprocess

	dispatchers map[dispatcherKey]Dispatcher
	started     map[string]bool // "has ever been spawned", for autostart-once semantics
}

type dispatcherKey struct {
	process string
	channel string
}

// NewProcessGroup constructs a group from configs, in priority order
// (lower starts earlier, stops later, §3).
func NewProcessGroup(name string, priority int, configs []*ProcessConfig, bus *EventBus, log *zap.Logger) *ProcessGroup {
	g := &ProcessGroup{
		Name:        name,
		Priority:    priority,
		bus:         bus,
		log:         log.Named("group").With(zap.String("group", name)),
		dispatchers: make(map[dispatcherKey]Dispatcher),
		started:     make(map[string]bool),
	}
	for _, c := range configs {
		g.procs = append(g.procs, c.MakeProcess(bus))
	}
	// Members run in ascending-priority order for start; StopAll walks this
	// same slice in reverse so stop order is the exact mirror (§3, Testable
	// Property #5). Declaration order in `programs = ...` does not matter.
	sort.SliceStable(g.procs, func(i, j int) bool {
		return g.procs[i].config.Priority < g.procs[j].config.Priority
	})
	return g
}

// Processes returns the group's members, stable order.
func (g *ProcessGroup) Processes() []*Subprocess { return g.procs }

// Dispatchers returns every live dispatcher currently registered by this
// group's members, for the Supervisor Loop's fd-set construction (§4.G
// step 3).
func (g *ProcessGroup) Dispatchers() []Dispatcher {
	out := make([]Dispatcher, 0, len(g.dispatchers))
	for _, d := range g.dispatchers {
		out = append(out, d)
	}
	return out
}

func (g *ProcessGroup) registerDispatchers(sp *Subprocess) {
	for channel, d := range sp.config.MakeDispatchers(sp) {
		g.dispatchers[dispatcherKey{sp.Name(), channel}] = d
	}
}

func (g *ProcessGroup) deregisterDispatchers(sp *Subprocess) {
	for _, channel := range []string{"stdout", "stderr", "stdin"} {
		delete(g.dispatchers, dispatcherKey{sp.Name(), channel})
	}
}

// spawnOne performs the shared "spawn, register, log" sequence used by
// both transition() and explicit start().
func (g *ProcessGroup) spawnOne(sp *Subprocess) {
	before := sp.State()
	if pid := sp.Spawn(); pid != 0 {
		g.registerDispatchers(sp)
	}
	g.started[sp.Name()] = true
	g.publishStateChange(sp, before, sp.State())
}

// publishStateChange announces sp's derived-state transition on the event
// bus (§4.F), the signal operators and listeners key off (run log, alerting,
// the control surface's future event stream). A no-op when nothing actually
// changed.
func (g *ProcessGroup) publishStateChange(sp *Subprocess, before, after ProcessState) {
	if before == after || g.bus == nil {
		return
	}
	g.bus.Publish(ProcessStateChangeEvent{Process: sp.Name(), From: before, To: after})
}

// Transition advances every member's state machine by one tick (§4.D).
// Members are visited in ascending priority order; priority ordering across groups
// is the caller's (Supervisor's) responsibility.
func (g *ProcessGroup) Transition(now time.Time) {
	for _, sp := range g.procs {
		g.transitionOne(sp, now)
	}
}

func (g *ProcessGroup) transitionOne(sp *Subprocess, now time.Time) {
	state := sp.State()
	switch state {
	case StateBackoff:
		if sp.Backoff() > sp.config.StartRetries {
			sp.EscalateToFatal()
			g.publishStateChange(sp, state, sp.State())
			g.log.Warn("entered FATAL state", zap.String("process", sp.Name()))
			return
		}
		if d, ok := sp.Delay(); ok && !now.Before(d) {
			g.spawnOne(sp)
		}
	case StateStarting:
		if now.Sub(sp.LastStart()) > sp.config.StartSecs {
			sp.PromoteToRunning()
			g.publishStateChange(sp, state, sp.State())
			g.log.Info("entered RUNNING state", zap.String("process", sp.Name()))
		}
	case StateStopped:
		if sp.config.Autostart && !g.started[sp.Name()] {
			g.spawnOne(sp)
		}
	case StateExited:
		if sp.config.Autorestart == AutoRestartAlways {
			g.spawnOne(sp)
		} else if sp.config.Autorestart == AutoRestartUnexpected {
			es := sp.ExitStatusInfo()
			if es != nil && !isExpectedCode(sp.config, es.Code) {
				g.spawnOne(sp)
			}
		}
	}
}

// StartNecessary spawns, in ascending member priority order, every
// never-started autostart member, every EXITED member with an autorestart
// policy, and every BACKOFF member whose delay has passed (§4.D
// "start_necessary").
func (g *ProcessGroup) StartNecessary() {
	for _, sp := range g.procs {
		switch sp.State() {
		case StateStopped:
			if sp.config.Autostart && !g.started[sp.Name()] {
				g.spawnOne(sp)
			}
		case StateExited:
			if sp.config.Autorestart != AutoRestartNever {
				g.spawnOne(sp)
			}
		case StateBackoff:
			if d, ok := sp.Delay(); ok && !time.Now().Before(d) {
				g.spawnOne(sp)
			}
		}
	}
}

// StopAll requests a graceful stop of every RUNNING/STARTING member and
// fast-forwards any BACKOFF member straight to FATAL (§4.D "stop_all").
func (g *ProcessGroup) StopAll(now time.Time) {
	for i := len(g.procs) - 1; i >= 0; i-- {
		sp := g.procs[i]
		before := sp.State()
		switch before {
		case StateRunning, StateStarting:
			sp.Stop(now)
		case StateBackoff:
			sp.FastForwardStopToFatal()
		default:
			continue
		}
		g.publishStateChange(sp, before, sp.State())
	}
}

// GetUndead returns STOPPING members whose stop-wait deadline has passed;
// the Supervisor Loop SIGKILLs each (§4.D "get_undead").
func (g *ProcessGroup) GetUndead(now time.Time) []*Subprocess {
	var out []*Subprocess
	for _, sp := range g.procs {
		if sp.State() != StateStopping {
			continue
		}
		if d, ok := sp.Delay(); ok && !now.Before(d) {
			out = append(out, sp)
		}
	}
	return out
}

// AnyDelayPending reports whether any member still has a pending timed
// transition, used by the shutdown drain loop's progress reporting (§5).
func (g *ProcessGroup) AnyDelayPending() bool {
	for _, sp := range g.procs {
		if _, ok := sp.Delay(); ok {
			return true
		}
	}
	return false
}

// FinishPid finds the member currently running pid, calls Finish on it,
// and deregisters its dispatchers (§4.C finish(), §4.G step 6). Returns
// false if pid does not belong to this group.
func (g *ProcessGroup) FinishPid(pid int, now time.Time, ws syscall.WaitStatus) bool {
	for _, sp := range g.procs {
		if sp.Pid() != pid {
			continue
		}
		before := sp.State()
		sp.Finish(now, ws)
		g.deregisterDispatchers(sp)
		g.publishStateChange(sp, before, sp.State())
		return true
	}
	return false
}

// ByName finds a member by process name.
func (g *ProcessGroup) ByName(name string) *Subprocess {
	for _, sp := range g.procs {
		if sp.Name() == name {
			return sp
		}
	}
	return nil
}

// sortGroupsByPriority orders groups ascending (start order); callers
// reverse the slice for stop order (§3).
func sortGroupsByPriority(groups []*ProcessGroup) {
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Priority < groups[j].Priority })
}
