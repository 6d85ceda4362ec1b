package daemonize

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// childLogName matches "GROUP-NAME---INSTANCE-CHANNEL.log[.N]" (§6
// "Persisted state"), so orphan sweep can recognize files this instance
// owns without an index file, adapted from the pattern-match-by-name
// approach of bogen85-config's output-tool cleanup.go.
var childLogName = regexp.MustCompile(`^[^-]+-[^-]+---[^-]+-(stdout|stderr)\.log(\.\d+)?$`)

// SweepOrphanLogs removes child log files in dir whose owning process no
// longer appears in live (keyed by process NAME), unless skip is set (§6
// "-k/--nocleanup").
func SweepOrphanLogs(dir, identifier string, skip bool, live map[string]bool) {
	if skip || dir == "" {
		return
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range ents {
		name := e.Name()
		if !childLogName.MatchString(name) {
			continue
		}
		owner := ownerFromLogName(name)
		_, proc, _ := strings.Cut(owner, "-")
		if owner == "" || live[proc] {
			continue
		}
		_ = os.Remove(filepath.Join(dir, name))
	}
}

// ownerFromLogName extracts "GROUP-NAME" from a child log filename.
func ownerFromLogName(name string) string {
	idx := indexOfTripleDash(name)
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

func indexOfTripleDash(s string) int {
	for i := 0; i+3 <= len(s); i++ {
		if s[i] == '-' && s[i+1] == '-' && s[i+2] == '-' {
			return i
		}
	}
	return -1
}
