// The socket transport serves exactly one framed request per connection. The accept loop is iterative and
// single-threaded: a connection is accepted, its request read, dispatched and answered, and the connection closed
// before the next one is accepted. At most one socket request is in flight at any time, and a stalled peer stalls the
// loop (unless --conn_timeout is set) but never the store. Clients wanting parallelism use the HTTP surface.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nobletooth/sica/pkg/utils"
	"github.com/nobletooth/sica/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	socketFile = flag.String("socket_file", "",
		"Filesystem path of the unix socket to serve on. If empty, --address is used instead.")
	address       = flag.String("address", "0.0.0.0:8081", "The ip:port of the socket transport.")
	listenBacklog = flag.Int("listen_backlog", 1, "Accept backlog of the socket transport listener.")
	connTimeout   = flag.Duration("conn_timeout", 0,
		"Deadline for reading a request or writing a response on the socket transport; zero blocks indefinitely.")
	compressResponses = flag.Bool("compress_responses", false,
		"Always compress socket responses, not only when the request was compressed.")
)

var socketRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sica",
	Name:      "socket_requests_total",
	Help:      "Total number of requests served over the socket transport.",
}, []string{"operation" /* add | get | remove | reset | unknown */, "outcome" /* success | failure | transport_error */})

// SocketOptions configures a SocketServer.
type SocketOptions struct {
	Network           string // "unix" or "tcp".
	Address           string // Socket file path or ip:port.
	Backlog           int
	Frame             wire.FrameOptions
	CompressResponses bool
}

// SocketOptionsFromFlags builds socket options from the command line flags.
func SocketOptionsFromFlags() SocketOptions {
	opts := SocketOptions{
		Network:           "tcp",
		Address:           *address,
		Backlog:           *listenBacklog,
		Frame:             wire.FrameOptionsFromFlags(*connTimeout),
		CompressResponses: *compressResponses,
	}
	if *socketFile != "" {
		opts.Network, opts.Address = "unix", *socketFile
	}
	return opts
}

// SocketServer runs the accept, read, dispatch, write, close cycle.
type SocketServer struct {
	dispatcher *Dispatcher
	opts       SocketOptions
	listener   net.Listener

	mu       sync.Mutex
	active   net.Conn // Connection being served, if any.
	stopping bool
}

// ListenSocket binds the socket described by `opts`. A stale socket file at the unix path is replaced, and the new
// one is made accessible to every local user.
func ListenSocket(dispatcher *Dispatcher, opts SocketOptions) (*SocketServer, error) {
	if dispatcher == nil {
		return nil, errors.New("expected a non-nil dispatcher")
	}
	if opts.Address == "" {
		return nil, errors.New("expected a non-empty socket address")
	}
	if opts.Backlog <= 0 {
		return nil, fmt.Errorf("expected a positive listen backlog, got %d", opts.Backlog)
	}
	if opts.Network == "unix" {
		if err := removeStaleSocket(opts.Address); err != nil {
			return nil, err
		}
	}
	listener, err := listen(opts.Network, opts.Address, opts.Backlog)
	if err != nil {
		return nil, err
	}
	if opts.Network == "unix" {
		if err := os.Chmod(opts.Address, 0o777); err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("failed to open up socket file permissions: %w", err)
		}
	}
	slog.Info("Listening on socket transport.", "network", opts.Network, "address", listener.Addr(),
		"backlog", opts.Backlog)
	return &SocketServer{dispatcher: dispatcher, opts: opts, listener: listener}, nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to inspect socket file %s: %w", path, err)
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("refusing to replace non-socket file %s", path)
	}
	slog.Warn("Removing stale socket file.", "path", path)
	return os.Remove(path)
}

// Addr returns the address the server listens on.
func (s *SocketServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections one at a time until `ctx` is done or the listener fails. Cancelling `ctx` also drops the
// connection being served, so a silent peer can't hold up shutdown. Transient accept failures are retried with
// exponential backoff.
func (s *SocketServer) Serve(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-stopped:
		}
	}()
	defer s.close()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = time.Second
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Socket transport stopped.", "address", s.listener.Addr())
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("socket transport stopped unexpectedly: %w", err)
			}
			delay := retry.NextBackOff()
			slog.Warn("Unable to accept socket connection, retrying.", "error", err, "delay", delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		retry.Reset()
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.serveConn(wire.NewConn(conn, s.opts.Frame))
		s.track(nil)
	}
}

// track records the connection being served. It reports false once the server is shutting down.
func (s *SocketServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping && conn != nil {
		return false
	}
	s.active = conn
	return true
}

// shutdown unblocks Accept and whatever the in-flight connection is waiting on.
func (s *SocketServer) shutdown() {
	_ = s.listener.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	if s.active != nil {
		_ = s.active.Close()
	}
}

// serveConn answers exactly one request, then closes the connection. A request that can't be read still gets a
// failure response, unless the connection itself is broken.
func (s *SocketServer) serveConn(conn *wire.Conn) {
	defer func() { _ = conn.Close() }()

	var req wire.Request
	var resp wire.Response
	operation := "unknown"
	compressed, err := conn.ReadMessage(&req)
	if err != nil {
		slog.Warn("Unable to read socket request.", "remote", conn.RemoteAddr(), "error", err)
		resp = wire.Failure("Unable to read request: %v.", err)
	} else {
		if isKnownOperation(req.Operation) {
			operation = req.Operation
		}
		resp = s.dispatcher.Dispatch(req)
	}

	if err := conn.WriteMessage(resp, compressed || s.opts.CompressResponses); err != nil {
		if errors.Is(err, wire.ErrProtocol) {
			utils.RaiseInvariant("port", "unencodable_response", "Failed to encode a socket response.",
				"operation", operation, "error", err)
		}
		slog.Warn("Unable to write socket response.", "remote", conn.RemoteAddr(), "error", err)
		socketRequests.WithLabelValues(operation, "transport_error").Inc()
		return
	}
	outcome := "failure"
	if resp.Success {
		outcome = "success"
	}
	socketRequests.WithLabelValues(operation, outcome).Inc()
	slog.Debug("Served socket request.", "operation", operation, "success", resp.Success)
}

func (s *SocketServer) close() {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("Unable to close socket listener.", "error", err)
	}
	if s.opts.Network != "unix" {
		return
	}
	if err := os.Remove(s.opts.Address); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Unable to remove socket file.", "path", s.opts.Address, "error", err)
	}
}

func isKnownOperation(operation string) bool {
	switch operation {
	case wire.OpAdd, wire.OpGet, wire.OpRemove, wire.OpReset:
		return true
	}
	return false
}

// RunSocketServer serves the socket transport configured by the command line flags until `ctx` is done.
func RunSocketServer(ctx context.Context, dispatcher *Dispatcher) error {
	server, err := ListenSocket(dispatcher, SocketOptionsFromFlags())
	if err != nil {
		return fmt.Errorf("failed to start socket transport: %w", err)
	}
	return server.Serve(ctx)
}
