// Package client implements the TCP side of an interactive session: client
// registration, command dispatch to the name server, redirect following, and
// the per-verb storage server exchanges including WRITE edit sessions.
//
// The package holds no terminal logic; the shell renders what these calls
// return.
package client

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docfs/docfs/internal/logger"
	"github.com/docfs/docfs/pkg/wire"
)

// ErrServerShutdown is returned when the name server pushes SHUTDOWN over the
// session connection. The session is unusable afterwards.
var ErrServerShutdown = errors.New("server shut down")

// DefaultDialTimeout bounds connection attempts to the name server and to
// redirected storage servers.
const DefaultDialTimeout = 5 * time.Second

// drainWait is how long Do waits for reply lines past the first. The name
// server writes a whole reply in one flush, so trailing lines are either
// already in flight or never coming.
const drainWait = 100 * time.Millisecond

// redirected lists the verbs the name server answers with an
// "ACK_<verb> <ip> <port>" redirect instead of a body.
var redirected = map[string]bool{
	wire.VerbRead:            true,
	wire.VerbStream:          true,
	wire.VerbWrite:           true,
	wire.VerbUndo:            true,
	wire.VerbCheckpoint:      true,
	wire.VerbRevert:          true,
	wire.VerbViewCheckpoint:  true,
	wire.VerbListCheckpoints: true,
}

// Redirected reports whether verb is resolved through a storage server.
func Redirected(verb string) bool { return redirected[verb] }

// Client is one registered session against the name server.
type Client struct {
	conn        *wire.Conn
	username    string
	dialTimeout time.Duration
}

// Dial connects to the name server and registers username. Registration
// failures come back as the protocol token (wire.ErrUsernameInUse,
// wire.ErrMaxClients).
func Dial(addr, username string) (*Client, error) {
	return DialTimeout(addr, username, DefaultDialTimeout)
}

// DialTimeout is Dial with an explicit timeout, also used for storage server
// connections made while following redirects.
func DialTimeout(addr, username string, timeout time.Duration) (*Client, error) {
	conn, err := wire.Dial(addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to name server: %w", err)
	}
	if err := conn.WriteLine("%s %s", wire.VerbRegClient, username); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send registration: %w", err)
	}
	line, err := conn.ReadLine()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read registration reply: %w", err)
	}
	if line != wire.AckReg {
		conn.Close()
		if wire.IsErr(line) {
			return nil, wire.Error(line)
		}
		return nil, fmt.Errorf("unexpected registration reply %q", line)
	}
	logger.Debug("registered with name server", "username", username, "addr", addr)
	return &Client{conn: conn, username: username, dialTimeout: timeout}, nil
}

// Username returns the name this session registered under.
func (c *Client) Username() string { return c.username }

// Close hangs up the session. The name server marks the user disconnected.
func (c *Client) Close() error { return c.conn.Close() }

// Do sends one command line to the name server and collects the reply.
//
// The first line is read without a deadline; any further lines of a
// multi-line body were flushed together with it, so the drain uses a short
// deadline and stops on the first timeout. A SHUTDOWN push surfaces as
// ErrServerShutdown.
func (c *Client) Do(line string) ([]string, error) {
	if err := c.conn.WriteLine("%s", line); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}
	first, err := c.conn.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if first == wire.VerbShutdown {
		return nil, ErrServerShutdown
	}

	lines := []string{first}
	_ = c.conn.SetDeadline(time.Now().Add(drainWait))
	for {
		next, err := c.conn.ReadLine()
		if err != nil {
			break
		}
		lines = append(lines, next)
	}
	_ = c.conn.SetDeadline(time.Time{})
	return lines, nil
}

// resolve asks the name server for the storage server holding the file. The
// full command line is forwarded, so the name server can check arguments and
// permissions before redirecting.
func (c *Client) resolve(line, verb string) (wire.Redirect, error) {
	if err := c.conn.WriteLine("%s", line); err != nil {
		return wire.Redirect{}, fmt.Errorf("send command: %w", err)
	}
	reply, err := c.conn.ReadLine()
	if err != nil {
		return wire.Redirect{}, fmt.Errorf("read reply: %w", err)
	}
	if reply == wire.VerbShutdown {
		return wire.Redirect{}, ErrServerShutdown
	}
	if r, ok := wire.ParseRedirect(verb, reply); ok {
		return r, nil
	}
	if wire.IsErr(reply) {
		return wire.Redirect{}, wire.Error(reply)
	}
	return wire.Redirect{}, fmt.Errorf("unexpected reply %q", reply)
}

// dialStorage opens a fresh connection to a redirected storage server and
// replays the command line. Every redirect exchange starts this way.
func (c *Client) dialStorage(r wire.Redirect, line string) (*wire.Conn, error) {
	ss, err := wire.Dial(r.Addr(), c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to storage server %s: %w", r.Addr(), err)
	}
	if err := ss.WriteLine("%s", line); err != nil {
		ss.Close()
		return nil, fmt.Errorf("send command to storage server: %w", err)
	}
	return ss, nil
}

// Read fetches a file's bytes. The storage server sends the content and
// closes; a failure is a single error token instead.
func (c *Client) Read(name string) ([]byte, error) {
	line := wire.VerbRead + " " + name
	r, err := c.resolve(line, wire.VerbRead)
	if err != nil {
		return nil, err
	}
	ss, err := c.dialStorage(r, line)
	if err != nil {
		return nil, err
	}
	defer ss.Close()

	data, err := ss.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if tok := errToken(data); tok != "" {
		return nil, wire.Error(tok)
	}
	return data, nil
}

// Stream copies a file to w as the storage server paces it out, one character
// at a time. The first byte decides whether the reply is content or an error
// token.
func (c *Client) Stream(name string, w io.Writer) error {
	line := wire.VerbStream + " " + name
	r, err := c.resolve(line, wire.VerbStream)
	if err != nil {
		return err
	}
	ss, err := c.dialStorage(r, line)
	if err != nil {
		return err
	}
	defer ss.Close()

	// One byte per read so the pacing reaches the writer; error tokens
	// arrive the same way and render as text, like any other content.
	buf := make([]byte, 1)
	for {
		if err := ss.ReadFull(buf); err != nil {
			return nil
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write stream output: %w", err)
		}
	}
}

// Ack runs one of the single-acknowledgement storage verbs (UNDO,
// CHECKPOINT, REVERT) and returns the ack line.
func (c *Client) Ack(verb string, args ...string) (string, error) {
	line := verb
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	r, err := c.resolve(line, verb)
	if err != nil {
		return "", err
	}
	ss, err := c.dialStorage(r, line)
	if err != nil {
		return "", err
	}
	defer ss.Close()

	reply, err := ss.ReadLine()
	if err != nil {
		return "", fmt.Errorf("read storage reply: %w", err)
	}
	if wire.IsErr(reply) {
		return "", wire.Error(reply)
	}
	return reply, nil
}

// ViewCheckpoint fetches a checkpoint's bytes, READ of the past.
func (c *Client) ViewCheckpoint(name, tag string) ([]byte, error) {
	line := wire.VerbViewCheckpoint + " " + name + " " + tag
	r, err := c.resolve(line, wire.VerbViewCheckpoint)
	if err != nil {
		return nil, err
	}
	ss, err := c.dialStorage(r, line)
	if err != nil {
		return nil, err
	}
	defer ss.Close()

	data, err := ss.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if tok := errToken(data); tok != "" {
		return nil, wire.Error(tok)
	}
	return data, nil
}

// ListCheckpoints returns the file's checkpoint tags, one per reply line.
func (c *Client) ListCheckpoints(name string) ([]string, error) {
	line := wire.VerbListCheckpoints + " " + name
	r, err := c.resolve(line, wire.VerbListCheckpoints)
	if err != nil {
		return nil, err
	}
	ss, err := c.dialStorage(r, line)
	if err != nil {
		return nil, err
	}
	defer ss.Close()

	var tags []string
	for {
		tag, err := ss.ReadLine()
		if err != nil {
			return tags, nil
		}
		if wire.IsErr(tag) {
			return nil, wire.Error(tag)
		}
		tags = append(tags, tag)
	}
}

// Write opens an edit session on one sentence of a file. On success the
// sentence is locked on the storage server until Commit or Abort.
func (c *Client) Write(name string, sentence int) (*WriteSession, error) {
	line := fmt.Sprintf("%s %s %d", wire.VerbWrite, name, sentence)
	r, err := c.resolve(line, wire.VerbWrite)
	if err != nil {
		return nil, err
	}
	ss, err := c.dialStorage(r, line)
	if err != nil {
		return nil, err
	}

	reply, err := ss.ReadLine()
	if err != nil {
		ss.Close()
		return nil, fmt.Errorf("read lock reply: %w", err)
	}
	if reply != wire.AckWriteLocked {
		ss.Close()
		if wire.IsErr(reply) {
			return nil, wire.Error(reply)
		}
		return nil, fmt.Errorf("unexpected lock reply %q", reply)
	}
	return &WriteSession{conn: ss, file: name, sentence: sentence}, nil
}

// errToken returns the protocol error token when a content reply is actually
// a single error line, and "" otherwise. A file whose content happens to
// start with "ERR_" and spans several lines is still treated as content.
func errToken(data []byte) string {
	s := strings.TrimSuffix(string(data), "\n")
	if wire.IsErr(s) && !strings.Contains(s, "\n") && !strings.Contains(s, " ") {
		return s
	}
	return ""
}

// WriteSession is an open edit session holding a sentence lock.
//
// Edits are fire-and-forget: the storage server answers invalid edit lines
// inline but stays silent on valid ones, so rejection tokens surface together
// with the verdict at Commit.
type WriteSession struct {
	conn     *wire.Conn
	file     string
	sentence int
}

// File returns the file the session is editing.
func (s *WriteSession) File() string { return s.file }

// Sentence returns the locked sentence's 1-based index.
func (s *WriteSession) Sentence() int { return s.sentence }

// Edit sends one "<word_index> <content>" edit for the locked sentence.
func (s *WriteSession) Edit(wordIndex int, content string) error {
	return s.EditLine(strconv.Itoa(wordIndex) + " " + content)
}

// EditLine sends a raw edit line as typed.
func (s *WriteSession) EditLine(line string) error {
	if err := s.conn.WriteLine("%s", line); err != nil {
		return fmt.Errorf("send edit: %w", err)
	}
	return nil
}

// Commit ends the session with the commit sentinel and collects everything
// the storage server queued: inline rejection tokens for bad edits, then the
// verdict. The verdict line is returned last; an error verdict also comes
// back as the wire error so callers can branch without string checks.
func (s *WriteSession) Commit() ([]string, error) {
	defer s.conn.Close()
	if err := s.conn.WriteLine(wire.EditCommit); err != nil {
		return nil, fmt.Errorf("send commit: %w", err)
	}

	var lines []string
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, errors.New("connection closed before verdict")
	}
	verdict := lines[len(lines)-1]
	if wire.IsErr(verdict) {
		return lines, wire.Error(verdict)
	}
	return lines, nil
}

// Abort drops the connection, discarding every edit and releasing the lock.
func (s *WriteSession) Abort() error {
	return s.conn.Close()
}
