// Package pop3 implements a minimal RFC 1939 client: the connection
// state machine, the single-line/multi-line response grammar including
// dot-unstuffing, and the handful of commands the gateway needs (USER,
// PASS, STAT, LIST, UIDL, RETR, DELE, RSET, NOOP, QUIT). It deliberately
// does not pipeline commands and never reuses a socket across retries —
// retry and pooling are internal/pop3pool's job, not this package's.
package pop3

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"
)

// State is the client's position in the RFC 1939 session state machine.
type State int

const (
	Disconnected State = iota
	Connected
	Authenticated
	Transaction
)

// Credentials is everything needed to dial and authenticate against a
// provider's POP3 endpoint.
type Credentials struct {
	Host     string
	Port     string
	TLS      bool
	Username string
	Password string
}

// Client is a single POP3 session. It is not safe for concurrent use:
// the protocol allows exactly one outstanding command at a time, and
// Client enforces nothing more than that single-goroutine discipline.
type Client struct {
	conn    net.Conn
	tp      *textproto.Reader
	bw      *bufio.Writer
	cmdTO   time.Duration
	state   State
	closed  bool
}

// Dial opens a connection to creds.Host:creds.Port, validates the
// greeting and authenticates with USER/PASS. connectTimeout bounds the
// TCP (and TLS handshake, if any) setup; commandTimeout bounds every
// subsequent command round-trip.
func Dial(ctx context.Context, creds Credentials, connectTimeout, commandTimeout time.Duration) (*Client, error) {
	addr := net.JoinHostPort(creds.Host, creds.Port)

	dialer := &net.Dialer{Timeout: connectTimeout}
	var conn net.Conn
	var err error
	if creds.TLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			// Many small mail providers run on self-signed certs; the
			// gateway authenticates the provider with a password it
			// already trusts, not with PKI (§4.B).
			Config: &tls.Config{InsecureSkipVerify: true},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &TransportError{Command: "DIAL", Cause: err}
	}

	c := &Client{
		conn:  conn,
		tp:    textproto.NewReader(bufio.NewReader(conn)),
		bw:    bufio.NewWriter(conn),
		cmdTO: commandTimeout,
		state: Connected,
	}

	if err := c.readGreeting(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := c.auth(creds.Username, creds.Password); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) readGreeting() error {
	c.conn.SetReadDeadline(time.Now().Add(c.cmdTO))
	line, err := c.tp.ReadLine()
	if err != nil {
		return &TransportError{Command: "GREETING", Cause: err}
	}
	if !strings.HasPrefix(line, "+OK") {
		return &ProtocolError{Command: "GREETING", Message: line}
	}
	return nil
}

func (c *Client) auth(username, password string) error {
	if _, err := c.cmd("USER " + username); err != nil {
		return fmt.Errorf("pop3: authentication failed: %w", err)
	}
	if _, err := c.cmd("PASS " + password); err != nil {
		return fmt.Errorf("pop3: authentication failed: %w", err)
	}
	c.state = Authenticated
	return nil
}

// cmd sends a command expecting a single-line +OK/-ERR reply and
// returns the text following "+OK ".
func (c *Client) cmd(line string) (string, error) {
	if err := c.writeLine(line); err != nil {
		return "", err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cmdTO))
	reply, err := c.tp.ReadLine()
	if err != nil {
		return "", &TransportError{Command: commandName(line), Cause: err}
	}

	return parseStatusLine(commandName(line), reply)
}

// cmdMulti sends a command expecting a status line followed by a
// dot-terminated multi-line body, and returns the unstuffed body lines.
func (c *Client) cmdMulti(line string) ([]string, error) {
	if err := c.writeLine(line); err != nil {
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cmdTO))
	status, err := c.tp.ReadLine()
	if err != nil {
		return nil, &TransportError{Command: commandName(line), Cause: err}
	}
	if _, err := parseStatusLine(commandName(line), status); err != nil {
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cmdTO))
	body, err := c.tp.ReadDotLines()
	if err != nil {
		return nil, &TransportError{Command: commandName(line), Cause: err}
	}
	return body, nil
}

// cmdMultiRaw is like cmdMulti but returns the raw unstuffed bytes
// (used by RETR, where body text should not be split/rejoined on '\n').
func (c *Client) cmdMultiRaw(line string) ([]byte, error) {
	if err := c.writeLine(line); err != nil {
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cmdTO))
	status, err := c.tp.ReadLine()
	if err != nil {
		return nil, &TransportError{Command: commandName(line), Cause: err}
	}
	if _, err := parseStatusLine(commandName(line), status); err != nil {
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cmdTO))
	lines, err := c.tp.ReadDotLines()
	if err != nil {
		return nil, &TransportError{Command: commandName(line), Cause: err}
	}
	// ReadDotLines already strips the leading-dot-stuffing per RFC 1939
	// (textproto.Reader treats POP3's DATA-style terminator the same
	// way SMTP DATA does), and joins with CRLF is what the raw message
	// bytes need to round-trip through the MIME parser unchanged.
	return []byte(strings.Join(lines, "\r\n") + "\r\n"), nil
}

func (c *Client) writeLine(line string) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.cmdTO))
	if _, err := c.bw.WriteString(line + "\r\n"); err != nil {
		return &TransportError{Command: commandName(line), Cause: err}
	}
	if err := c.bw.Flush(); err != nil {
		return &TransportError{Command: commandName(line), Cause: err}
	}
	return nil
}

func parseStatusLine(command, line string) (string, error) {
	switch {
	case strings.HasPrefix(line, "+OK"):
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
	case strings.HasPrefix(line, "-ERR"):
		return "", &ProtocolError{Command: command, Message: strings.TrimSpace(strings.TrimPrefix(line, "-ERR"))}
	default:
		return "", &TransportError{Command: command, Cause: fmt.Errorf("malformed status line: %q", line)}
	}
}

func commandName(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}

// Close releases the underlying socket without sending QUIT. Safe to
// call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// State reports the client's current position in the session state
// machine.
func (c *Client) State() State {
	return c.state
}
