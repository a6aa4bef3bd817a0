package pipeline

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// TriggerReindex calls the configured D-Bus methods on the session bus so
// an external mail client (e.g. Emacs) picks up the freshly synced mail.
func (s *MailStages) TriggerReindex() error {
	if s.reindex.Disabled {
		return nil
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connecting to session bus: %w", err)
	}

	obj := conn.Object(s.reindex.Destination, dbus.ObjectPath(s.reindex.Path))
	for _, method := range s.reindex.Methods {
		if call := obj.Call(s.reindex.Interface+"."+method, 0); call.Err != nil {
			return fmt.Errorf("calling %s.%s: %w", s.reindex.Interface, method, call.Err)
		}
	}
	return nil
}
