package models

import "time"

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Maildir string        `yaml:"maildir"`
	Sync    SyncConfig    `yaml:"sync"`
	Audio   AudioConfig   `yaml:"audio"`
	Reindex ReindexConfig `yaml:"reindex"`
	Timing  TimingConfig  `yaml:"timing"`
}

// ServerConfig represents the IMAP server connection settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
	// PasswordCmd is executed and its trimmed stdout used as the password
	// when Password is empty.
	PasswordCmd string `yaml:"passwordCmd"`
	Mailbox     string `yaml:"mailbox"`
}

// SyncConfig describes the external mbsync-compatible synchronization command
type SyncConfig struct {
	Command    string `yaml:"command"`
	ConfigPath string `yaml:"configPath"`
}

// AudioConfig describes the audio cue played on new mail
type AudioConfig struct {
	// Player is the command the embedded sound is piped to, e.g. "aplay -".
	Player   string `yaml:"player"`
	Disabled bool   `yaml:"disabled"`
}

// ReindexConfig describes the D-Bus call made to trigger mail re-indexing
// in another process (e.g. an Emacs mail client).
type ReindexConfig struct {
	Destination string   `yaml:"destination"`
	Path        string   `yaml:"path"`
	Interface   string   `yaml:"interface"`
	Methods     []string `yaml:"methods"`
	Disabled    bool     `yaml:"disabled"`
}

// TimingConfig groups the protocol timing parameters
type TimingConfig struct {
	PollTimeout     time.Duration `yaml:"pollTimeout"`
	RenewInterval   time.Duration `yaml:"renewInterval"`
	BackoffBase     time.Duration `yaml:"backoffBase"`
	BackoffCap      time.Duration `yaml:"backoffCap"`
	MaxAuthFailures int           `yaml:"maxAuthFailures"`
}
