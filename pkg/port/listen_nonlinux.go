//go:build !linux

package port

import (
	"log/slog"
	"net"
)

// listen falls back to the standard listener; the accept backlog is left to the system.
func listen(network, address string, backlog int) (net.Listener, error) {
	slog.Debug("Explicit listen backlog is only supported on linux.", "backlog", backlog)
	return net.Listen(network, address)
}
