//go:build linux

package procmgr

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Soft/hard caps on the stdin write queue (§4.C write()).
const (
	stdinSoftChunk = 1 << 16
	stdinHardCap   = 1 << 17
)

// ExitStatus is the decoded form of a reaped child's wait status.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   syscall.Signal
}

// Subprocess is one managed child: fork/exec, pipes, kill, reap, and the
// mutable fields the derived state machine of §3 reads. A Subprocess
// outlives any number of child pids; finish() resets it to "no live
// child" without destroying the value (lifecycle note, §3).
type Subprocess struct {
	config *ProcessConfig
	bus    *EventBus
	log    *zap.Logger

	mu sync.Mutex

	pid       int
	laststart time.Time
	laststop  time.Time
	delay     time.Time // zero value means "no pending timed transition"
	backoff   int

	killing             bool
	administrativeStop  bool
	systemStop          bool
	exitstatus          *ExitStatus
	spawnerr            string

	stdout *OutputLogger
	stderr *OutputLogger

	pipes       map[string]*os.File // "stdin" (write end), "stdout"/"stderr" (read ends)
	stdinBuffer []byte

	cmd *exec.Cmd
}

// Name returns the owning config's process name.
func (p *Subprocess) Name() string { return p.config.Name }

// Config returns the immutable configuration this subprocess runs.
func (p *Subprocess) Config() *ProcessConfig { return p.config }

// Pid returns the live child pid, or 0 if none.
func (p *Subprocess) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Delay returns the pending timed-transition deadline, if any.
func (p *Subprocess) Delay() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delay.IsZero() {
		return time.Time{}, false
	}
	return p.delay, true
}

// SpawnErr returns the last spawn failure's human-readable reason.
func (p *Subprocess) SpawnErr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spawnerr
}

// ExitStatusInfo returns the decoded exit status of the last reaped child, if
// the process is not currently running.
func (p *Subprocess) ExitStatusInfo() *ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitstatus
}

// LastStart / LastStop expose the wall-clock timestamps of §3.
func (p *Subprocess) LastStart() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.laststart
}

func (p *Subprocess) LastStop() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.laststop
}

func (p *Subprocess) Backoff() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backoff
}

// resolveCommand implements §4.C's argv[0] resolution: absolute/relative
// paths are used as-is, bare names are looked up on $PATH; the resolved
// file must exist, not be a directory, and be executable.
func resolveCommand(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty command")
	}
	path := name
	if !filepath.IsAbs(name) && !strings.Contains(name, "/") {
		p, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("can't find command %q", name)
		}
		path = p
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("can't find command %q", name)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return "", fmt.Errorf("not executable: %q", path)
	}
	return path, nil
}

// Spawn attempts to fork/exec the child (§4.C). Precondition: pid == 0.
// On success it returns the new pid and arms the startsecs timer; on
// failure it records spawnerr, increments backoff, and arms a backoff
// timer, returning 0.
func (p *Subprocess) Spawn() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid != 0 {
		return p.pid
	}

	now := time.Now()
	path, err := resolveCommand(p.config.Command[0])
	if err != nil {
		return p.failSpawnLocked(now, err.Error())
	}

	ps, err := allocatePipes(p.config.RedirectStderr)
	if err != nil {
		msg := "unknown error: " + err.Error()
		if errors.Is(err, syscall.EMFILE) {
			msg = fmt.Sprintf("too many open files to spawn %q", p.config.Name)
		}
		return p.failSpawnLocked(now, msg)
	}

	cmd := exec.Command(path, p.config.Command[1:]...)
	cmd.Dir = p.config.Directory
	cmd.Env = mergeEnv(p.config.Environment)
	cmd.Stdin = ps.childStdin
	cmd.Stdout = ps.childStdout
	if p.config.RedirectStderr {
		cmd.Stderr = ps.childStdout
	} else {
		cmd.Stderr = ps.childStderr
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if p.config.UID != nil {
		gid := uint32(0)
		if p.config.GID != nil {
			gid = *p.config.GID
		}
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: *p.config.UID, Gid: gid}
	}

	var prevUmask int
	haveUmask := p.config.Umask != nil
	if haveUmask {
		prevUmask = syscall.Umask(int(*p.config.Umask))
	}
	err = cmd.Start()
	if haveUmask {
		syscall.Umask(prevUmask)
	}

	ps.closeChildEnds()
	if err != nil {
		ps.closeParentEnds()
		msg := "unknown error: " + err.Error()
		if errors.Is(err, syscall.EAGAIN) {
			msg = "too many processes in process table"
		}
		return p.failSpawnLocked(now, msg)
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Release() // central reaper owns waitpid, not exec.Cmd

	p.pid = pid
	p.cmd = cmd
	p.laststart = now
	p.delay = now.Add(p.config.StartSecs)
	p.spawnerr = ""
	p.administrativeStop = false
	p.systemStop = false
	p.exitstatus = nil
	p.killing = false
	p.pipes = map[string]*os.File{
		"stdin":  ps.stdin,
		"stdout": ps.stdout,
	}
	if !p.config.RedirectStderr {
		p.pipes["stderr"] = ps.stderr
	}

	p.log.Info("spawned", zap.Int("pid", pid), zap.String("command", fmtArgv(p.config.Command)))
	return pid
}

func (p *Subprocess) failSpawnLocked(now time.Time, msg string) int {
	p.laststart = now
	p.backoff++
	p.delay = now.Add(time.Duration(p.backoff) * time.Second)
	p.spawnerr = msg
	p.log.Warn("spawn failed", zap.String("reason", msg), zap.Int("backoff", p.backoff))
	return 0
}

func mergeEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// Stop requests a graceful shutdown (§4.C). It is idempotent: calling it
// on an already-stopped or FATAL process is a no-op.
func (p *Subprocess) Stop(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 || p.killing {
		return
	}
	p.administrativeStop = true
	p.killing = true
	p.delay = now.Add(p.config.StopWaitSecs)
	p.sendSignalLocked(p.stopSignalLocked())
}

func (p *Subprocess) stopSignalLocked() syscall.Signal {
	sig, err := ParseSignal(p.config.StopSignal)
	if err != nil {
		return syscall.SIGTERM
	}
	return sig
}

// Kill sends sig to the child's process group. Errors are reported via the
// logger only, never raised, per §4.C.
func (p *Subprocess) Kill(sig syscall.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendSignalLocked(sig)
}

func (p *Subprocess) sendSignalLocked(sig syscall.Signal) {
	if p.pid == 0 {
		return
	}
	if err := syscall.Kill(-p.pid, sig); err != nil {
		p.log.Warn("signal delivery failed", zap.Int("pid", p.pid), zap.String("signal", sig.String()), zap.Error(err))
	}
}

// Finish is called by the reaper once waitpid reports pid has exited
// (§4.C). It classifies the exit, clears pid/pipes, and closes the
// parent-side pipe ends.
func (p *Subprocess) Finish(now time.Time, ws syscall.WaitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	es := decodeWaitStatus(ws)
	elapsed := now.Sub(p.laststart)

	switch {
	case p.killing:
		p.log.Info("stopped", zap.Int("pid", p.pid))
		p.killing = false
		p.delay = time.Time{}
		p.exitstatus = es
	case isExpectedCode(p.config, es.Code) && elapsed >= p.config.StartSecs:
		p.log.Info("exited; expected", zap.Int("pid", p.pid), zap.Int("code", es.Code))
		p.backoff = 0
		p.exitstatus = es
		p.delay = time.Time{}
	case elapsed < p.config.StartSecs:
		p.backoff++
		p.delay = now.Add(time.Duration(p.backoff) * time.Second)
		p.exitstatus = es
		p.spawnerr = "Exited too quickly (process log may have details)"
		p.log.Warn("exited too quickly", zap.Int("pid", p.pid), zap.Duration("elapsed", elapsed))
	default:
		p.backoff++
		p.delay = now.Add(time.Duration(p.backoff) * time.Second)
		p.exitstatus = es
		p.log.Warn("bad exit code", zap.Int("pid", p.pid), zap.Int("code", es.Code))
	}

	p.laststop = now
	p.pid = 0
	p.cmd = nil
	for _, f := range p.pipes {
		_ = f.Close()
	}
	p.pipes = nil
}

// PromoteToRunning clears the startup timer and resets backoff once a
// STARTING process has survived startsecs (§4.D transition table).
func (p *Subprocess) PromoteToRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = time.Time{}
	p.backoff = 0
}

// EscalateToFatal fast-forwards a BACKOFF process whose retry budget is
// exhausted straight to FATAL (§4.D: "BACKOFF and backoff > startretries").
func (p *Subprocess) EscalateToFatal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = time.Time{}
	p.backoff = 0
	p.systemStop = true
}

// FastForwardStopToFatal implements stop_all()'s BACKOFF case (§4.D): a
// process never spawned during a stop sweep goes straight to FATAL rather
// than waiting out its backoff timer.
func (p *Subprocess) FastForwardStopToFatal() {
	p.EscalateToFatal()
}

func isExpectedCode(c *ProcessConfig, code int) bool {
	_, ok := c.ExitCodes[code]
	return ok
}

func decodeWaitStatus(ws syscall.WaitStatus) *ExitStatus {
	if ws.Signaled() {
		return &ExitStatus{Code: 128 + int(ws.Signal()), Signaled: true, Signal: ws.Signal()}
	}
	return &ExitStatus{Code: ws.ExitStatus()}
}

// Write appends bytes to the stdin queue (§4.C). Fails if the process is
// not running or the hard cap would be exceeded.
func (p *Subprocess) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return errors.New("process not running")
	}
	if len(p.stdinBuffer)+len(b) > stdinHardCap {
		return errors.New("stdin queue full")
	}
	p.stdinBuffer = append(p.stdinBuffer, b...)
	return nil
}

// drainStdin is called by the input dispatcher when the stdin pipe is
// writable; it writes up to stdinSoftChunk bytes per call.
func (p *Subprocess) drainStdin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stdinBuffer) == 0 || p.pipes == nil {
		return
	}
	f := p.pipes["stdin"]
	if f == nil {
		return
	}
	chunk := p.stdinBuffer
	if len(chunk) > stdinSoftChunk {
		chunk = chunk[:stdinSoftChunk]
	}
	n, err := f.Write(chunk)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			p.log.Warn("stdin EPIPE; dropping queued input")
			p.stdinBuffer = nil
			return
		}
		if !errors.Is(err, syscall.EINTR) {
			p.log.Error("stdin write failed", zap.Error(err))
		}
	}
	p.stdinBuffer = p.stdinBuffer[n:]
}

func (p *Subprocess) stdinPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stdinBuffer) > 0 && p.pipes != nil && p.pipes["stdin"] != nil
}

func (p *Subprocess) readFD(channel string) (*os.File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipes == nil {
		return nil, false
	}
	f, ok := p.pipes[channel]
	return f, ok
}

func (p *Subprocess) outputLogger(channel string) *OutputLogger {
	if channel == "stderr" {
		return p.stderr
	}
	return p.stdout
}

// closePipeOnEOF drops a single channel's parent-side fd after an EOF read
// (§4.E). It does not clear pid; Finish still owns that once the reaper
// observes the exit.
func (p *Subprocess) closePipeOnEOF(channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipes == nil {
		return
	}
	if f, ok := p.pipes[channel]; ok {
		_ = f.Close()
		delete(p.pipes, channel)
	}
}
