// Package daemonize handles the process-level concerns of becoming a
// background supervisor daemon: pidfile locking, working directory, umask,
// and an optional systemd readiness notification (§5 "Pidfile", §6 CLI).
package daemonize

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"
)

// Pidfile wraps an flock-locked pidfile: writing the running pid at
// startup and removing it at clean shutdown (§5).
type Pidfile struct {
	path string
	lock *flock.Flock
}

// NewPidfile locks path exclusively and writes the current pid into it.
// A held lock means another instance is already running.
func NewPidfile(path string) (*Pidfile, error) {
	if path == "" {
		return nil, nil
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pidfile %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("pidfile %q is held by another instance", path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("write pidfile %q: %w", path, err)
	}
	return &Pidfile{path: path, lock: lock}, nil
}

// Remove unlocks and deletes the pidfile; safe to call on a nil Pidfile.
func (p *Pidfile) Remove() {
	if p == nil {
		return
	}
	_ = p.lock.Unlock()
	_ = os.Remove(p.path)
}

// ApplyUmask sets the process umask if mask is non-empty, parsed as octal
// (§6 "-m/--umask").
func ApplyUmask(mask string) error {
	if mask == "" {
		return nil
	}
	v, err := strconv.ParseUint(mask, 8, 32)
	if err != nil {
		return fmt.Errorf("invalid umask %q: %w", mask, err)
	}
	syscall.Umask(int(v))
	return nil
}

// Chdir changes into dir if non-empty (§6 "-d/--directory").
func Chdir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("chdir %q: %w", dir, err)
	}
	return nil
}
