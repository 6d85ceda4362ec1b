//go:build linux

package procmgr

import (
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Mood is the supervisor's three-valued run state (§3 "Supervisor").
type Mood int

const (
	MoodShutdown Mood = -1
	MoodRestart  Mood = 0
	MoodRunning  Mood = 1
)

// tickInterval bounds the select(2) timeout; it is also the main loop's
// worst-case latency for timer-driven transitions when no fd is ready
// (§4.G step 4, §5 suspension points).
const tickInterval = time.Second

// progressLogInterval bounds how often the shutdown drain logs progress
// (§4.G step 2, §5 "reporting progress every 3 seconds").
const progressLogInterval = 3 * time.Second

// Supervisor owns the set of groups and runs the single-threaded select
// loop of §4.G. One Supervisor value corresponds to one "generation": a
// HUP-triggered restart exits the loop with MoodRestart and the caller
// (cmd/supervisord) constructs a fresh Supervisor from reloaded config.
type Supervisor struct {
	mu     sync.Mutex
	mood   Mood
	groups []*ProcessGroup

	bus      *EventBus
	log      *zap.Logger
	pipe     *selfPipe
	stopping bool

	lastProgressLog time.Time
	stripANSI       bool
}

// NewSupervisor constructs a Supervisor over groups, sorting the slice in
// place into ascending-priority start order.
func NewSupervisor(groups []*ProcessGroup, bus *EventBus, log *zap.Logger) *Supervisor {
	sortGroupsByPriority(groups)
	return &Supervisor{
		mood:   MoodRunning,
		groups: groups,
		bus:    bus,
		log:    log.Named("supervisor"),
	}
}

// Mood reports the current run mood (used by the control surface and by
// cmd/supervisord to decide whether to re-enter with a fresh generation).
func (s *Supervisor) Mood() Mood {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mood
}

// RequestShutdown and RequestRestart are the control surface's shutdown()
// and restart() operations (§4.H): they just set mood, the loop does the
// rest.
func (s *Supervisor) RequestShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mood = MoodShutdown
}

func (s *Supervisor) RequestRestart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mood = MoodRestart
}

// Groups returns the supervised groups in start-priority order.
func (s *Supervisor) Groups() []*ProcessGroup { return s.groups }

func (s *Supervisor) groupByName(name string) *ProcessGroup {
	for _, g := range s.groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Run executes the loop until mood drops to shutdown or restart (§4.G). It
// always emits SupervisorRunningEvent on entry and SupervisorStoppingEvent
// on exit.
func (s *Supervisor) Run() error {
	s.pipe = newSelfPipe()
	defer s.pipe.Close()

	s.bus.Publish(SupervisorRunningEvent{})
	defer s.bus.Publish(SupervisorStoppingEvent{})

	for {
		now := time.Now()
		mood := s.Mood()

		if mood == MoodRunning {
			for _, g := range s.groups {
				g.StartNecessary()
			}
		}

		if mood <= MoodRestart {
			if !s.stopping {
				s.stopping = true
				for i := len(s.groups) - 1; i >= 0; i-- {
					s.groups[i].StopAll(now)
				}
			}
			if s.anyDelayPending() {
				if now.Sub(s.lastProgressLog) >= progressLogInterval {
					s.log.Info("waiting for processes to stop", zap.String("mood", moodString(mood)))
					s.lastProgressLog = now
				}
			} else {
				return nil
			}
		}

		var dispatchers []Dispatcher
		for _, g := range s.groups {
			dispatchers = append(dispatchers, g.Dispatchers()...)
		}

		readable, writable, err := selectFDs(dispatchers, s.selectTimeout(now))
		if err != nil {
			return err
		}

		var exit *ExitNow
		for _, d := range readable {
			if e := d.OnReadReady(); e != nil {
				if en, ok := e.(ExitNow); ok {
					exit = &en
					continue
				}
				s.log.Error("dispatcher read error", zap.Error(e))
			}
		}
		for _, d := range writable {
			if e := d.OnWriteReady(); e != nil {
				if en, ok := e.(ExitNow); ok {
					exit = &en
					continue
				}
				s.log.Error("dispatcher write error", zap.Error(e))
			}
		}
		if exit != nil {
			if exit.Restart {
				s.RequestRestart()
			} else {
				s.RequestShutdown()
			}
			continue
		}

		now = time.Now()
		for _, g := range s.groups {
			g.Transition(now)
			for _, sp := range g.GetUndead(now) {
				sp.Kill(syscall.SIGKILL)
			}
		}

		s.reapZombies(now)

		if sig := s.pipe.Take(); sig != nil {
			s.handleSignal(sig)
		}
	}
}

// selectTimeout bounds the select(2) wait to the soonest pending timed
// transition across every member (startsecs, backoff, stopwaitsecs) instead
// of always sleeping the full tickInterval, using a wake-time min-heap
// (wakeQueue) rebuilt on every call, so a process whose delay expires well before
// the next flat tick still gets promoted/retried/killed promptly.
func (s *Supervisor) selectTimeout(now time.Time) time.Duration {
	wq := newWakeQueue()
	for _, g := range s.groups {
		for _, sp := range g.Processes() {
			if d, ok := sp.Delay(); ok {
				wq.set(sp.Name(), d)
			}
		}
	}
	deadline, ok := wq.nextDeadline()
	if !ok {
		return tickInterval
	}
	until := deadline.Sub(now)
	if until <= 0 {
		return 0
	}
	if until < tickInterval {
		return until
	}
	return tickInterval
}

func (s *Supervisor) anyDelayPending() bool {
	for _, g := range s.groups {
		if g.AnyDelayPending() {
			return true
		}
	}
	return false
}

// reapZombies drains every exited child in one non-blocking pass (§4.G
// step 7), routing each (pid, status) to the owning Subprocess.
func (s *Supervisor) reapZombies(now time.Time) {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		found := false
		for _, g := range s.groups {
			if g.FinishPid(pid, now, ws) {
				found = true
				break
			}
		}
		if !found {
			s.log.Debug("reaped unknown pid", zap.Int("pid", pid))
		}
	}
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
		s.log.Info("received shutdown signal", zap.String("signal", sig.String()))
		s.RequestShutdown()
	case syscall.SIGHUP:
		s.log.Info("received HUP, will restart")
		s.RequestRestart()
	case syscall.SIGCHLD:
		// Reaping already runs every tick; nothing further to do.
	case syscall.SIGUSR2:
		s.log.Info("received USR2, reopening logs")
		s.reopenLogs()
	default:
		s.log.Debug("unhandled signal", zap.String("signal", sig.String()))
	}
}

func (s *Supervisor) reopenLogs() {
	for _, g := range s.groups {
		for _, sp := range g.Processes() {
			if err := sp.stdout.Reopen(); err != nil {
				s.log.Error("reopen stdout log failed", zap.String("process", sp.Name()), zap.Error(err))
			}
			if err := sp.stderr.Reopen(); err != nil {
				s.log.Error("reopen stderr log failed", zap.String("process", sp.Name()), zap.Error(err))
			}
		}
	}
}

func moodString(m Mood) string {
	switch m {
	case MoodRunning:
		return "running"
	case MoodRestart:
		return "restart"
	default:
		return "shutdown"
	}
}
