// Package protocol implements the minimal IMAP subset needed to hold a
// mailbox open and watch it for changes: LOGIN, SELECT, IDLE/DONE and
// LOGOUT, with untagged server lines translated into typed events.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailwatch/internal/logging"
	"mailwatch/internal/transport"
)

// replyTimeout bounds how long we wait for the reply to a command we sent.
const replyTimeout = 30 * time.Second

// State is the lifecycle position of a Session.
type State int

const (
	// StateIdle means authenticated and selected, no command in flight.
	StateIdle State = iota
	// StateWatching means an IDLE command is being held open.
	StateWatching
	// StateClosed is terminal; open a new Session to resume.
	StateClosed
)

// Credentials are borrowed from configuration; the session never stores a
// copy beyond what the login exchange needs.
type Credentials struct {
	User     string
	Password string
}

// AuthError means the server rejected the login exchange. Retrying with the
// same credentials is unlikely to help.
type AuthError struct {
	Reply string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %s", e.Reply)
}

// ProtocolError means the server said something we cannot interpret, or a
// command was issued in the wrong session state. The connection should be
// torn down.
type ProtocolError struct {
	Reason string
	Line   string
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Line)
}

// Session is one authenticated, mailbox-selected connection. It is not safe
// for concurrent use; the supervisor owns it exclusively.
type Session struct {
	conn      transport.Conn
	mailbox   string
	state     State
	startedAt time.Time

	tagSeq  int
	idleTag string
	// pending holds change events observed while waiting for a command
	// reply (e.g. an EXISTS arriving during a watch renewal), returned by
	// subsequent PollEvent calls so no event is lost.
	pending []Event
}

// State reports the session's lifecycle position.
func (s *Session) State() State { return s.state }

// Mailbox reports the selected mailbox name.
func (s *Session) Mailbox() string { return s.mailbox }

// StartedAt reports when the session was opened.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Open reads the server greeting, authenticates and selects the mailbox.
// It fails fast: retrying is the supervisor's job.
func Open(conn transport.Conn, creds Credentials, mailbox string) (*Session, error) {
	greeting, err := conn.ReadLine(replyTimeout)
	if err != nil {
		return nil, fmt.Errorf("reading greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "* OK") && !strings.HasPrefix(greeting, "* PREAUTH") {
		return nil, &ProtocolError{Reason: "unexpected greeting", Line: greeting}
	}

	s := &Session{
		conn:      conn,
		mailbox:   mailbox,
		state:     StateIdle,
		startedAt: time.Now(),
	}

	if !strings.HasPrefix(greeting, "* PREAUTH") {
		tag := s.nextTag()
		cmd := fmt.Sprintf("%s LOGIN %s %s", tag, quote(creds.User), quote(creds.Password))
		reply, err := s.exchange(tag, cmd)
		if err != nil {
			return nil, err
		}
		if !taggedOK(reply, tag) {
			return nil, &AuthError{Reply: reply}
		}
	}

	tag := s.nextTag()
	reply, err := s.exchange(tag, fmt.Sprintf("%s SELECT %s", tag, quote(mailbox)))
	if err != nil {
		return nil, err
	}
	if !taggedOK(reply, tag) {
		return nil, &ProtocolError{Reason: "selecting mailbox " + mailbox, Line: reply}
	}

	return s, nil
}

// StartWatch sends IDLE and waits for the continuation request. Must be
// called from the idle state.
func (s *Session) StartWatch() error {
	if s.state != StateIdle {
		return &ProtocolError{Reason: fmt.Sprintf("cannot start watch from state %d", s.state)}
	}

	tag := s.nextTag()
	if err := s.conn.WriteLine(tag + " IDLE"); err != nil {
		s.state = StateClosed
		return fmt.Errorf("sending IDLE: %w", err)
	}

	for {
		line, err := s.conn.ReadLine(replyTimeout)
		if err != nil {
			s.state = StateClosed
			return fmt.Errorf("waiting for IDLE continuation: %w", err)
		}
		if strings.HasPrefix(line, "+") {
			s.idleTag = tag
			s.state = StateWatching
			return nil
		}
		if strings.HasPrefix(line, tag+" ") {
			return &ProtocolError{Reason: "server refused IDLE", Line: line}
		}
		// Untagged traffic ahead of the continuation still counts.
		s.stashChange(line)
	}
}

// PollEvent reads at most one line and maps it to an event. A timeout is
// the normal idle case and the caller is expected to poll again.
func (s *Session) PollEvent(timeout time.Duration) (Event, error) {
	if s.state != StateWatching {
		return Event{}, &ProtocolError{Reason: "poll outside watch state"}
	}

	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}

	line, err := s.conn.ReadLine(timeout)
	if errors.Is(err, transport.ErrTimeout) {
		return Event{Type: EventTimeout}, nil
	}
	if err != nil {
		s.state = StateClosed
		return Event{Type: EventClosed}, nil
	}

	return s.classify(line), nil
}

// StopWatch sends DONE and waits for the IDLE completion, stashing any
// change notifications that race with it. Must be called from the watching
// state and before any other command.
func (s *Session) StopWatch() error {
	if s.state != StateWatching {
		return &ProtocolError{Reason: fmt.Sprintf("cannot stop watch from state %d", s.state)}
	}

	if err := s.conn.WriteLine("DONE"); err != nil {
		s.state = StateClosed
		return fmt.Errorf("sending DONE: %w", err)
	}

	for {
		line, err := s.conn.ReadLine(replyTimeout)
		if err != nil {
			s.state = StateClosed
			return fmt.Errorf("waiting for IDLE completion: %w", err)
		}
		if strings.HasPrefix(line, s.idleTag+" ") {
			if !taggedOK(line, s.idleTag) {
				return &ProtocolError{Reason: "IDLE completion failed", Line: line}
			}
			s.state = StateIdle
			return nil
		}
		s.stashChange(line)
	}
}

// Close releases the session: best-effort DONE and LOGOUT, then transport
// close. Safe to call in any state, including after errors.
func (s *Session) Close() {
	if s.state == StateWatching {
		if err := s.StopWatch(); err != nil {
			logging.Log.Debugf("Ignoring stop-watch error during close: %v", err)
		}
	}
	if s.state == StateIdle {
		tag := s.nextTag()
		if _, err := s.exchange(tag, tag+" LOGOUT"); err != nil {
			logging.Log.Debugf("Ignoring logout error during close: %v", err)
		}
	}
	_ = s.conn.Close()
	s.state = StateClosed
}

// exchange sends one command and reads lines until the tagged reply.
// Untagged lines here are command status (e.g. the EXISTS count every
// SELECT reports), not change notifications, and are dropped; only the
// watch enter/exit paths stash events.
func (s *Session) exchange(tag, cmd string) (string, error) {
	if err := s.conn.WriteLine(cmd); err != nil {
		s.state = StateClosed
		return "", fmt.Errorf("sending command: %w", err)
	}
	for {
		line, err := s.conn.ReadLine(replyTimeout)
		if err != nil {
			s.state = StateClosed
			return "", fmt.Errorf("reading reply: %w", err)
		}
		if strings.HasPrefix(line, tag+" ") {
			return line, nil
		}
	}
}

// classify maps one server line to an event.
func (s *Session) classify(line string) Event {
	if strings.HasPrefix(line, "* BYE") {
		s.state = StateClosed
		return Event{Type: EventClosed}
	}
	if ev, ok := parseChange(line); ok {
		return ev
	}
	return Event{Type: EventHeartbeat}
}

// stashChange queues a change notification found in a line read while
// waiting for something else.
func (s *Session) stashChange(line string) {
	if ev, ok := parseChange(line); ok {
		s.pending = append(s.pending, ev)
	}
}

// parseChange recognizes untagged mailbox-status lines of the form
// "* <n> <name>". EXISTS is a message-count change; EXPUNGE, RECENT and
// FETCH are reported as other mutations.
func parseChange(line string) (Event, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "*" {
		return Event{}, false
	}
	n, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Event{}, false
	}

	var kind ChangeKind
	switch strings.ToUpper(fields[2]) {
	case "EXISTS":
		kind = KindNewMessageCount
	case "EXPUNGE", "RECENT", "FETCH":
		kind = KindOther
	default:
		return Event{}, false
	}

	return Event{
		Type: EventChange,
		Change: ChangeEvent{
			Kind:       kind,
			Value:      uint32(n),
			ObservedAt: time.Now(),
		},
	}, true
}

// taggedOK reports whether line is the OK completion for tag.
func taggedOK(line, tag string) bool {
	return strings.HasPrefix(line, tag+" OK")
}

func (s *Session) nextTag() string {
	s.tagSeq++
	return "a" + strconv.Itoa(s.tagSeq)
}

// quote wraps a string in the IMAP quoted form, escaping backslash and
// double quote.
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
