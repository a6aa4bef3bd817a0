package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"mailwatch/internal/models"

	"gopkg.in/yaml.v2"
)

// Defaults applied by Validate for fields left empty in the YAML file.
const (
	DefaultPort            = 993
	DefaultMailbox         = "INBOX"
	DefaultMaildir         = "~/Maildir"
	DefaultSyncCommand     = "mbsync"
	DefaultAudioPlayer     = "aplay -"
	DefaultPollTimeout     = 30 * time.Second
	DefaultRenewInterval   = 20 * time.Minute
	DefaultBackoffBase     = time.Second
	DefaultBackoffCap      = 5 * time.Minute
	DefaultMaxAuthFailures = 5
)

// Load reads the configuration from the specified YAML file, applies
// defaults and validates it.
func Load(path string) (*models.Config, error) {
	configFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := yaml.Unmarshal(configFile, &config); err != nil {
		return nil, err
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate fills in defaults and rejects configurations the watcher cannot
// run with. It is exported so tests can build configs without a file.
func Validate(cfg *models.Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if cfg.Server.Login == "" {
		return fmt.Errorf("server.login is required")
	}
	if cfg.Server.Password == "" && cfg.Server.PasswordCmd == "" {
		return fmt.Errorf("one of server.password or server.passwordCmd is required")
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Mailbox == "" {
		cfg.Server.Mailbox = DefaultMailbox
	}
	if cfg.Maildir == "" {
		cfg.Maildir = DefaultMaildir
	}
	if cfg.Sync.Command == "" {
		cfg.Sync.Command = DefaultSyncCommand
	}
	if cfg.Audio.Player == "" {
		cfg.Audio.Player = DefaultAudioPlayer
	}

	// The original D-Bus re-index target; override per deployment.
	if cfg.Reindex.Destination == "" {
		cfg.Reindex.Destination = "net.ogbe.emacs"
	}
	if cfg.Reindex.Path == "" {
		cfg.Reindex.Path = "/mail"
	}
	if cfg.Reindex.Interface == "" {
		cfg.Reindex.Interface = "net.ogbe.emacs.mail"
	}
	if len(cfg.Reindex.Methods) == 0 {
		cfg.Reindex.Methods = []string{"reindex", "refresh"}
	}

	if cfg.Timing.PollTimeout <= 0 {
		cfg.Timing.PollTimeout = DefaultPollTimeout
	}
	if cfg.Timing.RenewInterval <= 0 {
		cfg.Timing.RenewInterval = DefaultRenewInterval
	}
	if cfg.Timing.BackoffBase <= 0 {
		cfg.Timing.BackoffBase = DefaultBackoffBase
	}
	if cfg.Timing.BackoffCap < cfg.Timing.BackoffBase {
		cfg.Timing.BackoffCap = DefaultBackoffCap
	}
	if cfg.Timing.MaxAuthFailures <= 0 {
		cfg.Timing.MaxAuthFailures = DefaultMaxAuthFailures
	}

	maildir, err := ExpandTilde(cfg.Maildir)
	if err != nil {
		return fmt.Errorf("resolving maildir: %w", err)
	}
	cfg.Maildir = maildir

	if cfg.Sync.ConfigPath != "" {
		confPath, err := ExpandTilde(cfg.Sync.ConfigPath)
		if err != nil {
			return fmt.Errorf("resolving sync.configPath: %w", err)
		}
		cfg.Sync.ConfigPath = confPath
	}

	return nil
}

// Password resolves the account password: either the literal value from the
// config or, when absent, the trimmed stdout of the configured command.
func Password(server *models.ServerConfig) (string, error) {
	if server.Password != "" {
		return server.Password, nil
	}

	fields := strings.Fields(server.PasswordCmd)
	if len(fields) == 0 {
		return "", fmt.Errorf("passwordCmd is empty")
	}

	out, err := exec.Command(fields[0], fields[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("running passwordCmd: %w", err)
	}

	password := strings.TrimRight(string(out), "\n")
	if password == "" {
		return "", fmt.Errorf("passwordCmd produced no output")
	}
	return password, nil
}

// ExpandTilde resolves a leading "~/" against the current user's home
// directory.
func ExpandTilde(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
