package procmgr

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sync"

	"go.uber.org/zap"
)

// Framing tokens that delimit an embedded "communication event" on a
// child's stdout/stderr (§4.B, §6).
const (
	beginToken = "<!--XSUPERVISOR:BEGIN-->"
	endToken   = "<!--XSUPERVISOR:END-->"
)

// ansiEscape matches CSI-style ANSI escape sequences; stripping is optional
// and only ever applied to bytes routed to the main sink, never to a
// capture payload (§4.B).
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// OutputLogger owns one channel's (stdout or stderr) rotating sink, its
// in-memory capture-mode scanner, and a small tail buffer of recent output
// (§4.B). Exactly one OutputLogger exists per channel of one Subprocess; it
// is created with the Subprocess and kept across spawns.
type OutputLogger struct {
	mu sync.Mutex

	process string
	channel string
	cfg     ChannelConfig
	bus     *EventBus
	log     *zap.Logger

	sink       *rotatingFile
	stripANSI  bool
	tail       *tailBuffer
	pending    []byte // unconsumed bytes from a prior scan (partial token tail)
	capturing  bool
	captureBuf bytes.Buffer
	truncated  bool
}

func newOutputLogger(process, channel string, cfg ChannelConfig, bus *EventBus, log *zap.Logger) *OutputLogger {
	if log == nil {
		log = zap.NewNop()
	}
	var sink *rotatingFile
	if cfg.Logfile != "" {
		sink = newRotatingFile(cfg.Logfile, cfg.MaxBytes, cfg.Backups)
	}
	return &OutputLogger{
		process: process,
		channel: channel,
		cfg:     cfg,
		bus:     bus,
		log:     log.Named("outputlogger").With(zap.String("process", process), zap.String("channel", channel)),
		sink:    sink,
		tail:    &tailBuffer{},
	}
}

// SetStripANSI controls whether ANSI escapes are stripped from bytes routed
// to the main sink. Stripping is off unless this is called; nothing in
// this package calls it.
func (o *OutputLogger) SetStripANSI(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stripANSI = v
}

// Append accumulates raw bytes read from the child (§4.C dispatcher
// contract: the dispatcher appends, LogOutput drains).
func (o *OutputLogger) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, b...)
}

// LogOutput drains whatever has been appended, scanning for BEGIN/END
// framing tokens and routing bytes to the main sink or the capture buffer
// accordingly. It must be called from the single-threaded main loop only.
func (o *OutputLogger) LogOutput() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drainLocked()
}

func (o *OutputLogger) drainLocked() {
	for len(o.pending) > 0 {
		target := beginToken
		if o.capturing {
			target = endToken
		}

		idx := bytes.Index(o.pending, []byte(target))
		if idx >= 0 {
			before := o.pending[:idx]
			o.routeLocked(before)
			if o.capturing {
				o.finishCaptureLocked()
			} else {
				o.capturing = true
			}
			o.pending = o.pending[idx+len(target):]
			continue
		}

		// No full token present. Check whether the tail of pending is a
		// proper prefix of target so a token split across two reads is
		// never partially flushed to the sink (§4.B edge case).
		tailLen := longestSuffixPrefixOverlap(o.pending, target)
		flush := o.pending[:len(o.pending)-tailLen]
		o.routeLocked(flush)
		o.pending = append([]byte(nil), o.pending[len(o.pending)-tailLen:]...)
		return
	}
}

// longestSuffixPrefixOverlap returns the length of the longest suffix of buf
// that is also a (possibly full, but here always proper) prefix of target.
func longestSuffixPrefixOverlap(buf []byte, target string) int {
	max := len(target) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for l := max; l > 0; l-- {
		if bytes.Equal(buf[len(buf)-l:], []byte(target[:l])) {
			return l
		}
	}
	return 0
}

// routeLocked sends bytes to the capture buffer (bounded by
// CaptureMaxBytes) while capturing, or to the main sink otherwise.
func (o *OutputLogger) routeLocked(b []byte) {
	if len(b) == 0 {
		return
	}
	if o.capturing {
		o.appendCaptureLocked(b)
		return
	}
	if o.stripANSI {
		b = ansiEscape.ReplaceAll(b, nil)
	}
	o.tail.append(string(b))
	if o.sink != nil {
		if _, err := o.sink.Write(b); err != nil {
			o.log.Error("write to log sink failed", zap.Error(err))
		}
	}
}

func (o *OutputLogger) appendCaptureLocked(b []byte) {
	max := o.cfg.CaptureMaxBytes
	if max <= 0 {
		o.captureBuf.Write(b)
		return
	}
	remaining := max - int64(o.captureBuf.Len())
	if remaining <= 0 {
		o.truncated = true
		return
	}
	if int64(len(b)) > remaining {
		o.captureBuf.Write(b[:remaining])
		o.truncated = true
		return
	}
	o.captureBuf.Write(b)
}

// finishCaptureLocked closes out capture mode on an END token, publishing a
// ProcessCommunicationEvent with the captured payload (§4.B).
func (o *OutputLogger) finishCaptureLocked() {
	payload := append([]byte(nil), o.captureBuf.Bytes()...)
	if o.truncated {
		o.log.Warn("capture truncated to capture_maxbytes", zap.Int64("limit", o.cfg.CaptureMaxBytes))
	}
	o.capturing = false
	o.truncated = false
	o.captureBuf.Reset()

	if o.cfg.EventsEnabled && o.bus != nil {
		o.bus.Publish(ProcessCommunicationEvent{
			Process: o.process,
			Channel: o.channel,
			Payload: payload,
		})
	}
}

// Recent returns up to n recently logged (non-captured) output chunks from
// the tail buffer, oldest first. readLog does not use it.
func (o *OutputLogger) Recent(n int) []string {
	return o.tail.recent(n)
}

// ReadRange serves readLog(name, channel, offset, length) (§4.H) straight
// from the sink file on disk, since the tail buffer only ever holds the
// last tailBufferCap lines. length <= 0 means "to end of file".
func (o *OutputLogger) ReadRange(offset int64, length int64) (string, error) {
	o.mu.Lock()
	path := ""
	if o.sink != nil {
		path = o.sink.path
	}
	o.mu.Unlock()
	if path == "" {
		return "", fmt.Errorf("no log file configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if offset < 0 || offset > info.Size() {
		return "", fmt.Errorf("offset out of range")
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return "", err
	}
	if length <= 0 {
		length = info.Size() - offset
	}
	buf := make([]byte, length)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}

// Reopen closes and reopens the sink file, used on SIGUSR2 (§4.G signal
// table) so external log rotation (e.g. logrotate) doesn't leave the
// supervisor writing to an unlinked inode.
func (o *OutputLogger) Reopen() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sink == nil {
		return nil
	}
	return o.sink.reopen()
}

// Truncate implements clearLog(name) (§4.H): empties the sink file without
// touching rotation state or the in-memory tail.
func (o *OutputLogger) Truncate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sink == nil {
		return nil
	}
	return o.sink.truncate()
}

func (o *OutputLogger) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sink == nil {
		return nil
	}
	return o.sink.close()
}

// rotatingFile is a synchronous, size-bounded rotating sink (§5 "Child
// logs: rotation is synchronous"). maxBytes == 0 disables rotation.
type rotatingFile struct {
	path     string
	maxBytes int64
	backups  int

	f    *os.File
	size int64
}

func newRotatingFile(path string, maxBytes int64, backups int) *rotatingFile {
	return &rotatingFile{path: path, maxBytes: maxBytes, backups: backups}
}

func (r *rotatingFile) ensureOpen() error {
	if r.f != nil {
		return nil
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %q: %w", r.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.f = f
	r.size = st.Size()
	return nil
}

func (r *rotatingFile) Write(b []byte) (int, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	if r.maxBytes > 0 && r.size+int64(len(b)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.f.Write(b)
	r.size += int64(n)
	return n, err
}

// rotate closes the active file, renames base.N -> base.(N+1) from high to
// low, then base -> base.1, and opens a fresh file for append (§5).
func (r *rotatingFile) rotate() error {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	if r.backups > 0 {
		oldest := fmt.Sprintf("%s.%d", r.path, r.backups)
		_ = os.Remove(oldest)
		for n := r.backups - 1; n >= 1; n-- {
			from := fmt.Sprintf("%s.%d", r.path, n)
			to := fmt.Sprintf("%s.%d", r.path, n+1)
			if _, err := os.Stat(from); err == nil {
				_ = os.Rename(from, to)
			}
		}
		if _, err := os.Stat(r.path); err == nil {
			_ = os.Rename(r.path, r.path+".1")
		}
	} else {
		// No backups kept: rotation truncates the main log in place.
		_ = os.Truncate(r.path, 0)
	}
	r.size = 0
	return r.ensureOpen()
}

func (r *rotatingFile) truncate() error {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	if err := os.Truncate(r.path, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	r.size = 0
	return r.ensureOpen()
}

func (r *rotatingFile) reopen() error {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
	return r.ensureOpen()
}

func (r *rotatingFile) close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
