package scheduler

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "commentbot/pkg/logx"
)

// Notifier reports service state to the init system.
type Notifier interface {
	Notify(state string) error
}

// SystemdNotifier sends sd_notify messages over $NOTIFY_SOCKET.
type SystemdNotifier struct {
	Log logx.Logger
}

func (n SystemdNotifier) Notify(state string) error {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		return err
	}
	if !sent {
		n.Log.Trace("sd_notify skipped; not running under systemd", logx.String("state", state))
	}
	return nil
}

func statusLine(msg string) string { return "STATUS=" + msg }
