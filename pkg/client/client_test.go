package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nobletooth/sica/pkg/cache"
	"github.com/nobletooth/sica/pkg/port"
	"github.com/nobletooth/sica/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFrameOptions = wire.FrameOptions{BufferSize: 64, MaxFrameBytes: 1 << 20, Timeout: 5 * time.Second}

func newTestDispatcher(t *testing.T) *port.Dispatcher {
	t.Helper()
	store, err := cache.NewStore(cache.Options{DefaultTTL: time.Minute, Encode: true, CleanInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(store.Stop)
	dispatcher, err := port.NewDispatcher(store)
	require.NoError(t, err)
	return dispatcher
}

func newSocketTransport(t *testing.T, compress bool) *Socket {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sica.sock")
	server, err := port.ListenSocket(newTestDispatcher(t), port.SocketOptions{
		Network: "unix", Address: path, Backlog: 1, Frame: testFrameOptions,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-serveErr)
	})
	return NewSocket("unix", path, testFrameOptions, compress)
}

func newHTTPTransport(t *testing.T) *HTTP {
	t.Helper()
	server := httptest.NewServer(port.NewHTTPHandler(newTestDispatcher(t), "/cache", 1<<20))
	t.Cleanup(server.Close)
	return NewHTTP(server.URL+"/cache/", server.Client())
}

func TestClient_Transports(t *testing.T) {
	for _, testCase := range []struct {
		name      string
		transport func(t *testing.T) Transport
	}{
		{name: "socket", transport: func(t *testing.T) Transport { return newSocketTransport(t, false) }},
		{name: "compressed_socket", transport: func(t *testing.T) Transport { return newSocketTransport(t, true) }},
		{name: "http", transport: func(t *testing.T) Transport { return newHTTPTransport(t) }},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			ctx := context.Background()
			c := New(testCase.transport(t))
			payload := map[string]any{"name": "another example data", "list": []any{1.0, "asd"}}

			resp, err := c.Add(ctx, AddParams{Key: "a/1", Payload: payload, TypeTag: "T", TTL: 90 * time.Second, UserID: "u"})
			require.NoError(t, err)
			assert.Equal(t, wire.Response{Success: true, Key: "a/1"}, resp)
			_, err = c.Add(ctx, AddParams{Key: "a/2", Payload: "second", TypeTag: "T", Encode: new(bool), UserID: "u"})
			require.NoError(t, err)

			resp, err = c.Get(ctx, GetParams{Key: "a/1", UserID: "u"})
			require.NoError(t, err)
			assert.Equal(t, wire.Response{Success: true, Result: []wire.Item{{Key: "a/1", Payload: payload}}}, resp)

			resp, err = c.Get(ctx, GetParams{TypeTag: "T", UserID: "u", ResetTTL: true, TTL: time.Hour})
			require.NoError(t, err)
			assert.Len(t, resp.Result, 2)

			resp, err = c.Get(ctx, GetParams{Key: "a/1"})
			require.NoError(t, err)
			assert.Equal(t, wire.Response{Success: false}, resp, "Global scope doesn't see user entries")

			resp, err = c.Reset(ctx, "a/2", 0, "u")
			require.NoError(t, err)
			assert.Equal(t, wire.Response{Success: true}, resp)
			resp, err = c.Reset(ctx, "missing", time.Minute, "u")
			require.NoError(t, err)
			assert.Equal(t, wire.Response{Success: false, Message: "Element missing is not in cache."}, resp)

			resp, err = c.Remove(ctx, "a/2", "u")
			require.NoError(t, err)
			assert.Equal(t, wire.Response{Success: true, Result: []wire.Item{{Key: "a/2", Payload: "second"}}}, resp)
			resp, err = c.Remove(ctx, "a/2", "u")
			require.NoError(t, err)
			assert.False(t, resp.Success)
		})
	}
}

func TestClient_TransportFailures(t *testing.T) {
	ctx := context.Background()
	for _, testCase := range []struct {
		name      string
		transport Transport
	}{
		{name: "socket", transport: NewSocket("unix", filepath.Join(t.TempDir(), "missing.sock"), testFrameOptions, false)},
		{name: "http", transport: NewHTTP("http://127.0.0.1:1", nil)},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			resp, err := New(testCase.transport).Get(ctx, GetParams{Key: "k"})
			assert.ErrorIs(t, err, wire.ErrTransport)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestClient_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newSocketTransport(t, false)).Add(ctx, AddParams{Key: "k", Payload: "v"})
	assert.ErrorIs(t, err, wire.ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}
