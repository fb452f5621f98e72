// Package systemd speaks the sd_notify protocol so livewatch can run as a
// Type=notify unit with an optional watchdog.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends state updates to the service manager. Outside systemd
// (NOTIFY_SOCKET unset) every call is a no-op.
type Notifier struct {
	send     func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func NewNotifier() *Notifier {
	return &Notifier{
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		watchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) Ready() (bool, error)    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() (bool, error) { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form STATUS= line shown by systemctl status.
func (n *Notifier) Status(s string) (bool, error) { return n.send("STATUS=" + s) }

// Watchdog pings the watchdog when WatchdogSec is configured for the unit.
func (n *Notifier) Watchdog() (bool, error) {
	if d, err := n.watchdog(); err != nil || d == 0 {
		return false, err
	}
	return n.send(daemon.SdNotifyWatchdog)
}

// WatchdogInterval returns the configured watchdog timeout (0 when disabled).
func (n *Notifier) WatchdogInterval() time.Duration {
	d, err := n.watchdog()
	if err != nil {
		return 0
	}
	return d
}
