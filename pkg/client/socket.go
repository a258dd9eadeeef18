package client

import (
	"context"
	"fmt"

	"github.com/nobletooth/sica/pkg/wire"
)

// Socket sends requests over the framed socket transport.
type Socket struct {
	network  string
	address  string
	opts     wire.FrameOptions
	compress bool
}

var _ Transport = (*Socket)(nil)

// NewSocket creates a socket transport for a unix socket path (network "unix") or an ip:port (network "tcp").
// If `compress` is set, requests are compressed and so are the responses.
func NewSocket(network, address string, opts wire.FrameOptions, compress bool) *Socket {
	return &Socket{network: network, address: address, opts: opts, compress: compress}
}

// RoundTrip implements Transport. Cancelling `ctx` aborts the exchange by closing the connection.
func (s *Socket) RoundTrip(ctx context.Context, req wire.Request) (wire.Response, error) {
	conn, err := wire.Dial(ctx, s.network, s.address, s.opts)
	if err != nil {
		return transportFailure(err), err
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteMessage(req, s.compress); err != nil {
		return transportFailure(err), s.wrap(ctx, err)
	}
	var resp wire.Response
	if _, err := conn.ReadMessage(&resp); err != nil {
		return transportFailure(err), s.wrap(ctx, err)
	}
	return resp, nil
}

// wrap reports a cancelled context as the cause of an I/O failure.
func (s *Socket) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", wire.ErrTransport, ctxErr)
	}
	return err
}
