// Package ssclient speaks to storage servers on behalf of the name server:
// one-shot control commands against an SS's NM port and whole-file fetches
// against its client port. Every call opens a fresh connection, matching the
// one-command-per-connection protocol.
package ssclient

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/docfs/docfs/pkg/wire"
)

// DefaultTimeout bounds a single control exchange end to end.
const DefaultTimeout = 5 * time.Second

// DefaultFetchTimeout bounds a whole-file fetch.
const DefaultFetchTimeout = 30 * time.Second

// Config carries the client's construction parameters. Zero values mean the
// defaults.
type Config struct {
	Timeout      time.Duration
	FetchTimeout time.Duration
}

// Client issues storage-server commands. Safe for concurrent use.
type Client struct {
	timeout      time.Duration
	fetchTimeout time.Duration
}

// New returns a ready client.
func New(cfg Config) *Client {
	c := &Client{timeout: cfg.Timeout, fetchTimeout: cfg.FetchTimeout}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	return c
}

// CreateFile creates an empty file on the storage server. Creating a name
// that already exists succeeds, which replication relies on.
func (c *Client) CreateFile(ctx context.Context, addr, name string) error {
	return c.expectAck(ctx, addr, wire.VerbNMCreate, wire.VerbNMCreate+" "+name)
}

// DeleteFile removes a file. A file with live write locks is refused with
// wire.ErrFileLocked.
func (c *Client) DeleteFile(ctx context.Context, addr, name string) error {
	return c.expectAck(ctx, addr, wire.VerbNMDelete, wire.VerbNMDelete+" "+name)
}

// CreateFolder creates a directory in the server's data tree.
func (c *Client) CreateFolder(ctx context.Context, addr, name string) error {
	return c.expectAck(ctx, addr, wire.VerbNMCreateFolder, wire.VerbNMCreateFolder+" "+name)
}

// Move renames a file into a folder, or back to the root when dest is ".".
func (c *Client) Move(ctx context.Context, addr, name, dest string) error {
	return c.expectAck(ctx, addr, wire.VerbNMMove, fmt.Sprintf("%s %s %s", wire.VerbNMMove, name, dest))
}

// CheckLocks reports whether any sentence of the file is write-locked.
func (c *Client) CheckLocks(ctx context.Context, addr, name string) (bool, error) {
	reply, err := c.command(ctx, addr, wire.VerbNMCheckLocks+" "+name)
	if err != nil {
		return false, err
	}
	switch reply {
	case wire.FileLocked:
		return true, nil
	case wire.FileUnlocked:
		return false, nil
	}
	return false, unexpectedReply(wire.VerbNMCheckLocks, reply)
}

// GetSize returns the file's byte size as the server sees it.
func (c *Client) GetSize(ctx context.Context, addr, name string) (int64, error) {
	reply, err := c.command(ctx, addr, wire.VerbNMGetSize+" "+name)
	if err != nil {
		return 0, err
	}
	rest, ok := strings.CutPrefix(reply, "SIZE ")
	if !ok {
		return 0, unexpectedReply(wire.VerbNMGetSize, reply)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return 0, unexpectedReply(wire.VerbNMGetSize, reply)
	}
	return n, nil
}

// GetStats returns size, word count, character count and last-access time.
func (c *Client) GetStats(ctx context.Context, addr, name string) (wire.Stats, error) {
	reply, err := c.command(ctx, addr, wire.VerbNMGetStats+" "+name)
	if err != nil {
		return wire.Stats{}, err
	}
	st, err := wire.ParseStats(reply)
	if err != nil {
		return wire.Stats{}, unexpectedReply(wire.VerbNMGetStats, reply)
	}
	return st, nil
}

// WriteContent replaces the file's bytes wholesale: a framed push of exactly
// len(content) bytes after the header line.
func (c *Client) WriteContent(ctx context.Context, addr, name string, content []byte) error {
	conn, err := c.dial(ctx, addr, c.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteLine("%s %s %d", wire.VerbNMWriteContent, name, len(content)); err != nil {
		return fmt.Errorf("send %s header: %w", wire.VerbNMWriteContent, err)
	}
	if err := conn.WriteRaw(content); err != nil {
		return fmt.Errorf("send %s payload: %w", wire.VerbNMWriteContent, err)
	}
	reply, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("read %s reply: %w", wire.VerbNMWriteContent, err)
	}
	return checkAck(wire.VerbNMWriteContent, reply)
}

// FetchFile reads a file's full contents from the server's client port. The
// server streams the bytes and closes; EOF marks the end.
func (c *Client) FetchFile(ctx context.Context, addr, name string) ([]byte, error) {
	conn, err := c.dial(ctx, addr, c.fetchTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.WriteLine("%s %s", wire.VerbRead, name); err != nil {
		return nil, fmt.Errorf("send %s: %w", wire.VerbRead, err)
	}
	body, err := conn.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", wire.VerbRead, err)
	}
	// A failed read comes back as a bare error token instead of content.
	if tok := strings.TrimRight(string(body), "\n"); strings.HasPrefix(tok, "ERR_") && !strings.ContainsAny(tok, " \n") {
		return nil, wire.Error(tok)
	}
	return body, nil
}

// command runs a single line exchange on a fresh connection.
func (c *Client) command(ctx context.Context, addr, line string) (string, error) {
	conn, err := c.dial(ctx, addr, c.timeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.WriteLine("%s", line); err != nil {
		return "", fmt.Errorf("send to %s: %w", addr, err)
	}
	reply, err := conn.ReadLine()
	if err != nil {
		return "", fmt.Errorf("read reply from %s: %w", addr, err)
	}
	return reply, nil
}

func (c *Client) expectAck(ctx context.Context, addr, verb, line string) error {
	reply, err := c.command(ctx, addr, line)
	if err != nil {
		return err
	}
	return checkAck(verb, reply)
}

// dial opens a deadline-bounded connection. The context can only shorten the
// deadline, never extend it.
func (c *Client) dial(ctx context.Context, addr string, timeout time.Duration) (*wire.Conn, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	d := net.Dialer{Deadline: deadline}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial storage server %s: %w", addr, err)
	}
	conn := wire.NewConn(raw)
	conn.SetDeadline(deadline)
	return conn, nil
}

func checkAck(verb, reply string) error {
	if wire.IsAck(reply, verb) {
		return nil
	}
	if wire.IsErr(reply) {
		return wire.Error(reply)
	}
	return unexpectedReply(verb, reply)
}

func unexpectedReply(verb, reply string) error {
	return fmt.Errorf("%s: unexpected reply %q", verb, reply)
}
