package daemonize

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd (when running under Type=notify) that startup
// has completed; a no-op when NOTIFY_SOCKET isn't set, which is the normal
// case for container PID 1 use (§1 "run as PID 1 of a container or as a
// system-level daemon").
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a shutdown is underway.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
