package wire

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// MaxLineLen bounds a single protocol line. It matches the transfer buffer
// size used by the original deployments; lines beyond it are rejected rather
// than silently truncated.
const MaxLineLen = 4096

// Conn wraps a net.Conn with buffered, line-oriented reads and writes.
//
// Reads strip the trailing newline (and any carriage return). Writes append
// the newline and flush immediately, since every protocol exchange is a
// single small line and latency matters more than throughput here.
type Conn struct {
	raw net.Conn
	r   *bufio.Reader

	// wmu serializes writers. A session's worker owns most writes, but the
	// name server's shutdown fan-out pushes on the same connection from
	// another goroutine.
	wmu sync.Mutex
	w   *bufio.Writer
}

// NewConn wraps an established network connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		raw: c,
		r:   bufio.NewReaderSize(c, MaxLineLen),
		w:   bufio.NewWriterSize(c, MaxLineLen),
	}
}

// Dial connects to addr within the given timeout and wraps the connection.
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(c), nil
}

// ReadLine reads the next '\n'-terminated line and returns it without the
// terminator. io.EOF is returned when the peer closes the connection cleanly.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			// Final unterminated line before close still counts.
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	if len(line) > MaxLineLen {
		return "", fmt.Errorf("protocol line exceeds %d bytes", MaxLineLen)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine formats a line, appends the terminator, and flushes. Concurrent
// writers emit whole lines, never interleaved fragments.
func (c *Conn) WriteLine(format string, args ...any) error {
	if len(args) > 0 {
		format = fmt.Sprintf(format, args...)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.WriteString(format); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// WriteRaw writes a byte payload verbatim and flushes. Used for framed
// content pushes that follow a header line.
func (c *Conn) WriteRaw(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(p); err != nil {
		return err
	}
	return c.w.Flush()
}

// ReadFull reads exactly len(buf) payload bytes.
func (c *Conn) ReadFull(buf []byte) error {
	_, err := io.ReadFull(c.r, buf)
	return err
}

// ReadAll drains the connection until the peer closes it. Used by readers of
// streamed file content, where end-of-stream is signalled by close.
func (c *Conn) ReadAll() ([]byte, error) {
	return io.ReadAll(c.r)
}

// SetDeadline sets the absolute read/write deadline on the underlying
// connection. A zero time clears it.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// RemoteIP returns the peer IP without the port, or "" if unavailable.
func (c *Conn) RemoteIP() string {
	host, _, err := net.SplitHostPort(c.raw.RemoteAddr().String())
	if err != nil {
		return ""
	}
	return host
}

// Close closes the underlying connection. Buffered but unflushed output is
// discarded; callers that care must WriteLine (which flushes) first.
func (c *Conn) Close() error {
	return c.raw.Close()
}
