// Package watcher keeps exactly one watching IMAP session alive: it renews
// the IDLE state before the server-imposed limit, reconnects with capped
// exponential backoff after failures, and forwards change events to the
// pipeline dispatcher.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailwatch/internal/logging"
	"mailwatch/internal/protocol"
	"mailwatch/internal/transport"
)

// Config carries everything the supervisor needs; it is fixed for the
// process lifetime.
type Config struct {
	Host        string
	Port        int
	Credentials protocol.Credentials
	Mailbox     string

	// PollTimeout bounds each blocking read. It also bounds how long a
	// renewal or cancellation can go unnoticed.
	PollTimeout time.Duration
	// RenewInterval is how long a single IDLE is held before it is
	// cycled. Must stay below the server's forced-disconnect limit
	// (RFC 2177 suggests under 29 minutes).
	RenewInterval time.Duration
	// BackoffBase and BackoffCap shape the reconnect delay sequence
	// base, 2*base, 4*base, ... capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxAuthFailures is the number of consecutive authentication
	// rejections tolerated before the supervisor gives up for good.
	MaxAuthFailures int
}

// Supervisor owns the session lifecycle. It is the sole producer on the
// event channel.
type Supervisor struct {
	cfg    Config
	dial   transport.Dialer
	events chan<- protocol.ChangeEvent

	failures     int
	authFailures int
}

// New creates a Supervisor dialing with dial and forwarding change events
// into events. The channel should have capacity 1; a full channel means a
// run is already pending, so further events coalesce.
func New(cfg Config, dial transport.Dialer, events chan<- protocol.ChangeEvent) *Supervisor {
	return &Supervisor{cfg: cfg, dial: dial, events: events}
}

// Run blocks until ctx is cancelled (returns nil) or authentication has
// failed MaxAuthFailures times in a row (returns the last error).
func (s *Supervisor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		sess, err := s.establish()
		if err != nil {
			var authErr *protocol.AuthError
			if errors.As(err, &authErr) {
				s.authFailures++
				logging.Log.Errorf("Authentication failed (%d/%d): %v", s.authFailures, s.cfg.MaxAuthFailures, err)
				if s.authFailures >= s.cfg.MaxAuthFailures {
					return fmt.Errorf("giving up after %d consecutive authentication failures: %w", s.authFailures, err)
				}
			}
			s.failures++
			delay := s.retryDelay()
			logging.Log.Warnf("Session setup failed (attempt %d, retrying in %s): %v", s.failures, delay, err)
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		s.failures = 0
		s.authFailures = 0
		logging.Log.Infof("Watching mailbox %s", sess.Mailbox())

		watchErr := s.watch(ctx, sess)
		sess.Close()

		if ctx.Err() != nil {
			logging.Log.Info("Watcher stopped")
			return nil
		}

		s.failures++
		delay := s.retryDelay()
		logging.Log.Warnf("Watch interrupted (attempt %d, reconnecting in %s): %v", s.failures, delay, watchErr)
		if !sleep(ctx, delay) {
			return nil
		}
	}
	return nil
}

// establish opens a new session and enters the watch state. Any partially
// set up connection is closed before returning an error.
func (s *Supervisor) establish() (*protocol.Session, error) {
	conn, err := s.dial(s.cfg.Host, s.cfg.Port)
	if err != nil {
		return nil, err
	}

	sess, err := protocol.Open(conn, s.cfg.Credentials, s.cfg.Mailbox)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := sess.StartWatch(); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// watch polls the session until it dies or ctx is cancelled, renewing the
// IDLE before the renewal deadline. Renewal happens strictly between polls,
// so no pending event is dropped.
func (s *Supervisor) watch(ctx context.Context, sess *protocol.Session) error {
	deadline := time.Now().Add(s.cfg.RenewInterval)

	for {
		if ctx.Err() != nil {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if err := sess.StopWatch(); err != nil {
				return fmt.Errorf("renewing watch: %w", err)
			}
			if err := sess.StartWatch(); err != nil {
				return fmt.Errorf("renewing watch: %w", err)
			}
			deadline = time.Now().Add(s.cfg.RenewInterval)
			logging.Log.Debug("Watch renewed")
			continue
		}

		timeout := s.cfg.PollTimeout
		if remaining < timeout {
			timeout = remaining
		}

		ev, err := sess.PollEvent(timeout)
		if err != nil {
			return err
		}

		switch ev.Type {
		case protocol.EventChange:
			s.forward(ev.Change)
		case protocol.EventClosed:
			return fmt.Errorf("server closed the session")
		case protocol.EventHeartbeat, protocol.EventTimeout:
			// Nothing to do; loop to re-check deadline and ctx.
		}
	}
}

// forward hands a change event to the dispatcher without blocking. A full
// channel already guarantees a pending run, so the event is coalesced.
func (s *Supervisor) forward(ev protocol.ChangeEvent) {
	select {
	case s.events <- ev:
		logging.Log.Debugf("Forwarded change event: %s (%d)", ev.Kind, ev.Value)
	default:
		logging.Log.Debug("Change event coalesced into pending run")
	}
}

// retryDelay computes the capped exponential backoff for the current
// consecutive-failure count.
func (s *Supervisor) retryDelay() time.Duration {
	delay := s.cfg.BackoffBase
	for i := 1; i < s.failures; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if delay > s.cfg.BackoffCap {
		delay = s.cfg.BackoffCap
	}
	return delay
}

// sleep waits for d or until ctx is cancelled; it reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
