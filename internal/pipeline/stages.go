package pipeline

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"mailwatch/internal/logging"
	"mailwatch/internal/maildir"
	"mailwatch/internal/mailparse"
	"mailwatch/internal/models"
)

// processPollInterval is how often Sync re-checks for an already-running
// synchronization process before launching its own.
const processPollInterval = 500 * time.Millisecond

// MailStages is the production Stages implementation, driven entirely by
// the loaded configuration.
type MailStages struct {
	syncCommand    string
	syncConfigPath string
	mailboxDir     string
	audio          models.AudioConfig
	reindex        models.ReindexConfig
}

// NewStages builds the production stages from the validated configuration.
func NewStages(cfg *models.Config) *MailStages {
	return &MailStages{
		syncCommand:    cfg.Sync.Command,
		syncConfigPath: cfg.Sync.ConfigPath,
		mailboxDir:     filepath.Join(cfg.Maildir, cfg.Server.Mailbox),
		audio:          cfg.Audio,
		reindex:        cfg.Reindex,
	}
}

// Sync waits for any already-running instance of the synchronization
// command to finish, then runs it and reports its exit status.
func (s *MailStages) Sync(ctx context.Context) error {
	if err := s.waitForRunningSync(ctx); err != nil {
		return err
	}

	args := []string{"-a", "-V"}
	if s.syncConfigPath != "" {
		args = append(args, "-c", s.syncConfigPath)
	}

	cmd := exec.CommandContext(ctx, s.syncCommand, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	logging.Log.Debugf("Running sync command: %s %v", s.syncCommand, args)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sync command %s: %w", s.syncCommand, err)
	}
	return nil
}

// waitForRunningSync blocks while a process with the sync command's
// executable name exists, so two synchronizations never overlap.
func (s *MailStages) waitForRunningSync(ctx context.Context) error {
	name := filepath.Base(s.syncCommand)
	for {
		procs, err := process.Processes()
		if err != nil {
			// Process enumeration is advisory; proceed with the sync.
			logging.Log.Debugf("Cannot enumerate processes: %v", err)
			return nil
		}

		running := false
		for _, p := range procs {
			if pname, err := p.Name(); err == nil && pname == name {
				running = true
				break
			}
		}
		if !running {
			return nil
		}

		logging.Log.Debugf("Waiting for running %s to finish", name)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(processPollInterval):
		}
	}
}

// NewestMessage locates the most recently delivered message file under the
// watched mailbox directory and parses its notification metadata.
func (s *MailStages) NewestMessage() (models.MailMetadata, error) {
	path, err := maildir.Newest(s.mailboxDir)
	if err != nil {
		return models.MailMetadata{}, err
	}
	return mailparse.ParseFile(path)
}
