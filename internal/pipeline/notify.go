package pipeline

import (
	"bytes"
	_ "embed"
	"fmt"
	"os/exec"
	"strings"

	"github.com/TheCreeper/go-notify"

	"mailwatch/internal/models"
)

const (
	notifyAppName = "You've got mail!"
	notifyIcon    = "mail-unread"
	notifyTimeout = 5000 // milliseconds
)

//go:embed assets/newmail.wav
var newMailSound []byte

// Notify shows a desktop notification with the message's sender and
// subject.
func (s *MailStages) Notify(meta models.MailMetadata) error {
	ntf := notify.NewNotification(meta.From, meta.Subject)
	ntf.AppName = notifyAppName
	ntf.AppIcon = notifyIcon
	ntf.Timeout = notifyTimeout

	if _, err := ntf.Show(); err != nil {
		return fmt.Errorf("showing notification: %w", err)
	}
	return nil
}

// AudioCue pipes the embedded new-mail sound to the configured player.
func (s *MailStages) AudioCue() error {
	if s.audio.Disabled {
		return nil
	}

	fields := strings.Fields(s.audio.Player)
	if len(fields) == 0 {
		return fmt.Errorf("no audio player configured")
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Stdin = bytes.NewReader(newMailSound)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio player %s: %w", fields[0], err)
	}
	return nil
}
