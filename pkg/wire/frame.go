// A frame is an 8-byte big-endian unsigned length N followed by exactly N bytes of message body:
//
//	[8 bytes N][N bytes body]
//
// Stream sockets deliver partial chunks, so readers loop until N bytes arrived and writers loop until every byte was
// accepted. Each direction of a connection carries a single frame; the sender half-closes after writing.

package wire

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

const prefixSize = 8

var (
	bufferSize = flag.Int("buffer_size", defaultBufferSize,
		"Chunk size in bytes used when reading and writing socket frames.")
	maxFrameBytes = flag.Uint64("max_frame_bytes", 64<<20,
		"Largest accepted frame body (and decompressed message) in bytes.")
)

// FrameOptions controls framed I/O.
type FrameOptions struct {
	BufferSize    int    // Bytes moved per read / write call.
	MaxFrameBytes uint64 // Frames announcing more bytes are rejected before reading the body.
	Timeout       time.Duration
}

// FrameOptionsFromFlags builds frame options from the command line flags. `timeout` of zero disables deadlines.
func FrameOptionsFromFlags(timeout time.Duration) FrameOptions {
	return FrameOptions{BufferSize: *bufferSize, MaxFrameBytes: *maxFrameBytes, Timeout: timeout}
}

func (o FrameOptions) chunkSize() int {
	if o.BufferSize <= 0 {
		return defaultBufferSize
	}
	return o.BufferSize
}

// ReadFrame reads one frame from `r` and returns its body.
func ReadFrame(r io.Reader, opts FrameOptions) ([]byte, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: reading frame prefix: %w", ErrTransport, err)
	}
	size := binary.BigEndian.Uint64(prefix[:])
	if opts.MaxFrameBytes > 0 && size > opts.MaxFrameBytes {
		return nil, fmt.Errorf("%w: frame announces %d bytes, limit is %d", ErrFrameTooLarge, size, opts.MaxFrameBytes)
	}

	body := make([]byte, size)
	chunk := uint64(opts.chunkSize())
	for received := uint64(0); received < size; {
		end := min(received+chunk, size)
		read, err := io.ReadFull(r, body[received:end])
		received += uint64(read)
		if err != nil {
			return nil, fmt.Errorf("%w: frame body cut short after %d of %d bytes: %w", ErrTransport, received, size, err)
		}
	}
	return body, nil
}

// WriteFrame writes `body` to `w` as one frame.
func WriteFrame(w io.Writer, body []byte, opts FrameOptions) error {
	var prefix [prefixSize]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(body)))
	if err := writeFull(w, prefix[:]); err != nil {
		return fmt.Errorf("%w: writing frame prefix: %w", ErrTransport, err)
	}
	chunk := opts.chunkSize()
	for sent := 0; sent < len(body); sent += chunk {
		if err := writeFull(w, body[sent:min(sent+chunk, len(body))]); err != nil {
			return fmt.Errorf("%w: writing frame body after %d of %d bytes: %w", ErrTransport, sent, len(body), err)
		}
	}
	return nil
}

// writeFull retries short writes until `p` is consumed.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		written, err := w.Write(p)
		if err != nil {
			return err
		}
		if written == 0 {
			return io.ErrShortWrite
		}
		p = p[written:]
	}
	return nil
}

// Conn is a stream connection exchanging one framed message per direction.
type Conn struct {
	conn net.Conn
	opts FrameOptions
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn, opts FrameOptions) *Conn {
	return &Conn{conn: conn, opts: opts}
}

// Dial connects to a unix socket path (network "unix") or a host:port address (network "tcp").
func Dial(ctx context.Context, network, address string, opts FrameOptions) (*Conn, error) {
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return NewConn(conn, opts), nil
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) refreshDeadline() error {
	if c.opts.Timeout <= 0 {
		return nil
	}
	if err := c.conn.SetDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
		return fmt.Errorf("%w: setting deadline: %w", ErrTransport, err)
	}
	return nil
}

// ReadMessage reads one frame and decodes it into `msg`, reporting whether the body was compressed.
func (c *Conn) ReadMessage(msg any) (compressed bool, err error) {
	if err := c.refreshDeadline(); err != nil {
		return false, err
	}
	body, err := ReadFrame(c.conn, c.opts)
	if err != nil {
		return false, err
	}
	return Decode(body, msg, c.opts.MaxFrameBytes)
}

// WriteMessage encodes `msg` and writes it as one frame, then half-closes the write side.
func (c *Conn) WriteMessage(msg any, compress bool) error {
	body, err := Encode(msg, compress)
	if err != nil {
		return err
	}
	if err := c.refreshDeadline(); err != nil {
		return err
	}
	if err := WriteFrame(c.conn, body, c.opts); err != nil {
		return err
	}
	return c.CloseWrite()
}

// CloseWrite signals the peer that no more bytes follow while keeping the read side open. Connections that can't
// half-close are left untouched.
func (c *Conn) CloseWrite() error {
	halfCloser, canHalfClose := c.conn.(interface{ CloseWrite() error })
	if !canHalfClose {
		return nil
	}
	if err := halfCloser.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: half-closing connection: %w", ErrTransport, err)
	}
	return nil
}

// Close fully closes the connection.
func (c *Conn) Close() error {
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Debug("Unable to close connection.", "remote", c.conn.RemoteAddr(), "error", err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}
