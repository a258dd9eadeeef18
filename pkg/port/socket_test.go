package port

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/nobletooth/sica/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFrameOptions = wire.FrameOptions{BufferSize: 16, MaxFrameBytes: 1 << 20, Timeout: 5 * time.Second}

// startSocketServer serves `opts` in the background until the test ends.
func startSocketServer(t *testing.T, opts SocketOptions) *SocketServer {
	t.Helper()
	server, err := ListenSocket(newTestDispatcher(t), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-serveErr)
	})
	return server
}

func exchange(t *testing.T, network, address string, req wire.Request, compress bool) (wire.Response, bool) {
	t.Helper()
	conn, err := wire.Dial(context.Background(), network, address, testFrameOptions)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.WriteMessage(req, compress))
	var resp wire.Response
	compressed, err := conn.ReadMessage(&resp)
	require.NoError(t, err)
	return resp, compressed
}

func TestSocketServer_TCP(t *testing.T) {
	server := startSocketServer(t, SocketOptions{Network: "tcp", Address: "127.0.0.1:0", Backlog: 1, Frame: testFrameOptions})
	address := server.Addr().String()

	resp, compressed := exchange(t, "tcp", address, wire.Request{Operation: wire.OpAdd, Key: "k", Payload: "v"}, false)
	assert.Equal(t, wire.Response{Success: true, Key: "k"}, resp)
	assert.False(t, compressed)

	resp, compressed = exchange(t, "tcp", address, wire.Request{Operation: wire.OpGet, Key: "k"}, true)
	assert.Equal(t, wire.Response{Success: true, Result: []wire.Item{{Key: "k", Payload: "v"}}}, resp)
	assert.True(t, compressed, "Compressed requests get compressed responses")

	resp, _ = exchange(t, "tcp", address, wire.Request{Operation: "bogus"}, false)
	assert.Equal(t, wire.Response{Success: false, Message: "bogus is not a valid operation."}, resp)
}

func TestSocketServer_Unix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sica.sock")
	server := startSocketServer(t, SocketOptions{Network: "unix", Address: path, Backlog: 1, Frame: testFrameOptions,
		CompressResponses: true})

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.ModeSocket, info.Mode().Type())
	assert.Equal(t, os.FileMode(0o777), info.Mode().Perm())

	payload := map[string]any{"name": "another example data", "list": []any{1.0, "asd"}}
	resp, _ := exchange(t, "unix", path, wire.Request{Operation: wire.OpAdd, Key: "1", Payload: payload, UserID: "1"}, false)
	require.True(t, resp.Success)
	resp, compressed := exchange(t, "unix", path, wire.Request{Operation: wire.OpRemove, Key: "1", UserID: "1"}, false)
	assert.Equal(t, wire.Response{Success: true, Result: []wire.Item{{Key: "1", Payload: payload}}}, resp)
	assert.True(t, compressed, "--compress_responses compresses every response")
	assert.Equal(t, path, server.Addr().String())
}

func TestSocketServer_MalformedRequest(t *testing.T) {
	server := startSocketServer(t, SocketOptions{Network: "tcp", Address: "127.0.0.1:0", Backlog: 1, Frame: testFrameOptions})

	for _, testCase := range []struct {
		name string
		body []byte
	}{
		{name: "garbage", body: []byte("definitely not a message")},
		{name: "empty", body: nil},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			conn, err := net.Dial("tcp", server.Addr().String())
			require.NoError(t, err)
			defer func() { _ = conn.Close() }()
			require.NoError(t, wire.WriteFrame(conn, testCase.body, testFrameOptions))

			body, err := wire.ReadFrame(conn, testFrameOptions)
			require.NoError(t, err)
			var resp wire.Response
			_, err = wire.Decode(body, &resp, testFrameOptions.MaxFrameBytes)
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Message, "Unable to read request")
		})
	}

	t.Run("truncated_frame", func(t *testing.T) {
		conn, err := net.Dial("tcp", server.Addr().String())
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()
		var prefix [8]byte
		binary.BigEndian.PutUint64(prefix[:], 100)
		_, err = conn.Write(append(prefix[:], "short"...))
		require.NoError(t, err)
		require.NoError(t, conn.(*net.TCPConn).CloseWrite())

		var resp wire.Response
		_, err = wire.NewConn(conn, testFrameOptions).ReadMessage(&resp)
		require.NoError(t, err)
		assert.False(t, resp.Success)
	})

	// The server keeps serving after bad requests.
	resp, _ := exchange(t, "tcp", server.Addr().String(), wire.Request{Operation: wire.OpGet, Key: "k"}, false)
	assert.Equal(t, wire.Response{Success: false}, resp)
}

func TestListenSocket_StaleFiles(t *testing.T) {
	dispatcher := newTestDispatcher(t)
	dir := t.TempDir()

	// A leftover socket from a previous run is replaced.
	stalePath := filepath.Join(dir, "stale.sock")
	stale, err := net.Listen("unix", stalePath)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	server, err := ListenSocket(dispatcher, SocketOptions{Network: "unix", Address: stalePath, Backlog: 1})
	require.NoError(t, err)
	server.close()
	_, err = os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err), "Closing the server removes its socket file")

	// Regular files are never removed.
	regularPath := filepath.Join(dir, "regular")
	require.NoError(t, os.WriteFile(regularPath, []byte("data"), 0o600))
	_, err = ListenSocket(dispatcher, SocketOptions{Network: "unix", Address: regularPath, Backlog: 1})
	assert.Error(t, err)
	assert.FileExists(t, regularPath)
}

func TestListenSocket_InvalidOptions(t *testing.T) {
	dispatcher := newTestDispatcher(t)
	_, err := ListenSocket(nil, SocketOptions{Network: "tcp", Address: "127.0.0.1:0", Backlog: 1})
	assert.Error(t, err)
	_, err = ListenSocket(dispatcher, SocketOptions{Network: "tcp", Backlog: 1})
	assert.Error(t, err)
	_, err = ListenSocket(dispatcher, SocketOptions{Network: "tcp", Address: "127.0.0.1:0"})
	assert.Error(t, err)
}

func TestSocketServer_ShutdownDropsSilentPeer(t *testing.T) {
	server, err := ListenSocket(newTestDispatcher(t), SocketOptions{Network: "tcp", Address: "127.0.0.1:0", Backlog: 1,
		Frame: wire.FrameOptions{BufferSize: 16, MaxFrameBytes: 1 << 20, Timeout: 0 /*blocks indefinitely*/}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	peer, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()
	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return server.active != nil
	}, time.Second, time.Millisecond, "Server should be waiting on the silent peer")

	cancel()
	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve should return once its context is cancelled")
	}
}

// flakyListener fails the first `failures` accepts with a transient error.
type flakyListener struct {
	net.Listener
	failures int
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures > 0 {
		l.failures--
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	return l.Listener.Accept()
}

func TestSocketServer_RetriesTransientAcceptErrors(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &SocketServer{
		dispatcher: newTestDispatcher(t),
		opts:       SocketOptions{Network: "tcp", Address: listener.Addr().String(), Backlog: 1, Frame: testFrameOptions},
		listener:   &flakyListener{Listener: listener, failures: 3},
	}
	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-serveErr)
	}()

	resp, _ := exchange(t, "tcp", listener.Addr().String(), wire.Request{Operation: wire.OpAdd, Key: "k", Payload: "v"}, false)
	assert.Equal(t, wire.Response{Success: true, Key: "k"}, resp)
}

func TestSocketServer_ClosedListenerFails(t *testing.T) {
	server, err := ListenSocket(newTestDispatcher(t), SocketOptions{Network: "tcp", Address: "127.0.0.1:0", Backlog: 1})
	require.NoError(t, err)
	require.NoError(t, server.listener.Close())
	assert.ErrorIs(t, server.Serve(context.Background()), net.ErrClosed)
}
