// Package transport provides the encrypted line-oriented byte stream the
// IMAP protocol driver speaks over. Reads are deadline-bounded so the
// caller can poll without blocking forever.
package transport

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const writeTimeout = 10 * time.Second

// ErrTimeout is returned by ReadLine when no full line arrived within the
// caller's timeout. It is an expected idle condition, not a failure.
var ErrTimeout = errors.New("read timed out")

// ErrClosed is returned once the underlying connection is gone.
var ErrClosed = errors.New("connection closed")

// ConnectError wraps a failure to establish the TLS connection.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Conn is one established connection to the mail server.
type Conn interface {
	// ReadLine returns the next line without its CRLF terminator.
	// It returns ErrTimeout if no line arrived within timeout and an
	// error wrapping ErrClosed if the connection is gone.
	ReadLine(timeout time.Duration) (string, error)
	// WriteLine sends one line, appending CRLF.
	WriteLine(line string) error
	Close() error
}

// Dialer establishes a Conn. The watcher takes one so tests can substitute
// a fake server.
type Dialer func(host string, port int) (Conn, error)

// Dial opens a TLS connection to host:port.
func Dial(host string, port int) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := tls.Dial("tcp", addr, nil)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return NewConn(c), nil
}

// NewConn wraps an established network connection in the line framing the
// protocol driver expects.
func NewConn(c net.Conn) Conn {
	return &lineConn{c: c, r: bufio.NewReader(c)}
}

type lineConn struct {
	c net.Conn
	r *bufio.Reader
	// partial holds bytes of a line whose terminator has not arrived yet,
	// so a poll timeout mid-line does not corrupt the stream.
	partial strings.Builder
}

func (c *lineConn) ReadLine(timeout time.Duration) (string, error) {
	if err := c.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrClosed, err)
	}

	chunk, err := c.r.ReadString('\n')
	c.partial.WriteString(chunk)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrClosed, err)
	}

	line := c.partial.String()
	c.partial.Reset()
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *lineConn) WriteLine(line string) error {
	if err := c.c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if _, err := c.c.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

func (c *lineConn) Close() error {
	return c.c.Close()
}
