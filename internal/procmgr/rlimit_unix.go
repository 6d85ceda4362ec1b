//go:build linux

package procmgr

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseRlimits best-effort raises RLIMIT_NOFILE/RLIMIT_NPROC to the
// configured minimums before the supervisor starts spawning children,
// mirroring supervisord's minfds/minprocs startup check (§4.A, GLOSSARY).
// It never lowers an existing limit and treats an unreachable ceiling as a
// warning, not a fatal error: a container's hard limit is outside this
// process's control.
func RaiseRlimits(minFds, minProcs uint64) []string {
	var warnings []string
	if minFds > 0 {
		if w := raiseOne(unix.RLIMIT_NOFILE, minFds, "minfds"); w != "" {
			warnings = append(warnings, w)
		}
	}
	if minProcs > 0 {
		if w := raiseOne(unix.RLIMIT_NPROC, minProcs, "minprocs"); w != "" {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

func raiseOne(resource int, want uint64, label string) string {
	var rl unix.Rlimit
	if err := unix.Getrlimit(resource, &rl); err != nil {
		return fmt.Sprintf("%s: getrlimit failed: %v", label, err)
	}
	if rl.Cur >= want {
		return ""
	}
	target := want
	if rl.Max != unix.RLIM_INFINITY && target > rl.Max {
		target = rl.Max
	}
	rl.Cur = target
	if err := unix.Setrlimit(resource, &rl); err != nil {
		return fmt.Sprintf("%s: could not raise to %d: %v", label, want, err)
	}
	if target < want {
		return fmt.Sprintf("%s: hard limit %d below requested %d", label, rl.Max, want)
	}
	return ""
}
