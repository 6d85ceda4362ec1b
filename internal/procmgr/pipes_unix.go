//go:build linux

package procmgr

import "os"

// pipeSet holds both ends of the up-to-three pipes a spawn allocates
// (§4.C). Naming follows the data model's pipes map: the "child" half is
// dup'd onto the child's fd 0/1/2 and must be closed in the parent right
// after a successful Start(); the other half is what the dispatchers in
// this process read from or write to.
type pipeSet struct {
	childStdin, stdin   *os.File
	childStdout, stdout *os.File
	childStderr, stderr *os.File
}

// allocatePipes opens the stdin/stdout pipes, and the stderr pipe unless
// redirectStderr is set (in which case the child's stderr duplicates onto
// the stdout write end, per §4.A). Any failure rolls back everything
// opened so far, matching the teacher's pipe-allocation rollback pattern.
func allocatePipes(redirectStderr bool) (*pipeSet, error) {
	ps := &pipeSet{}

	var err error
	ps.childStdin, ps.stdin, err = os.Pipe()
	if err != nil {
		return nil, err
	}
	ps.stdout, ps.childStdout, err = os.Pipe()
	if err != nil {
		ps.closeAll()
		return nil, err
	}
	if !redirectStderr {
		ps.stderr, ps.childStderr, err = os.Pipe()
		if err != nil {
			ps.closeAll()
			return nil, err
		}
	}
	return ps, nil
}

func (ps *pipeSet) closeChildEnds() {
	closeIfSet(ps.childStdin)
	closeIfSet(ps.childStdout)
	closeIfSet(ps.childStderr)
	ps.childStdin, ps.childStdout, ps.childStderr = nil, nil, nil
}

func (ps *pipeSet) closeParentEnds() {
	closeIfSet(ps.stdin)
	closeIfSet(ps.stdout)
	closeIfSet(ps.stderr)
	ps.stdin, ps.stdout, ps.stderr = nil, nil, nil
}

func (ps *pipeSet) closeAll() {
	ps.closeChildEnds()
	ps.closeParentEnds()
}

func closeIfSet(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
