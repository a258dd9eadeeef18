// Package client offers one-shot sica clients. Every call opens a connection (or an HTTP request), performs a
// single request / response exchange and closes it; there is no pooling and no retry.

package client

import (
	"context"
	"time"

	"github.com/nobletooth/sica/pkg/wire"
)

// Transport delivers one request and returns the server response.
type Transport interface {
	RoundTrip(ctx context.Context, req wire.Request) (wire.Response, error)
}

// AddParams are the arguments of Client.Add.
type AddParams struct {
	Key     string
	Payload any
	TypeTag string
	TTL     time.Duration // Zero means the server default.
	Encode  *bool         // Nil means the server default.
	UserID  string        // Empty means the global scope.
}

// GetParams are the arguments of Client.Get. Key takes precedence over TypeTag.
type GetParams struct {
	Key      string
	TypeTag  string
	UserID   string
	ResetTTL bool
	TTL      time.Duration
}

// Client issues cache operations over a Transport.
type Client struct {
	transport Transport
}

// New is the constructor for Client.
func New(transport Transport) *Client {
	return &Client{transport: transport}
}

// Add stores a payload. The response echoes the key on success.
func (c *Client) Add(ctx context.Context, params AddParams) (wire.Response, error) {
	return c.transport.RoundTrip(ctx, wire.Request{
		Operation: wire.OpAdd,
		Key:       params.Key,
		Payload:   params.Payload,
		TypeTag:   params.TypeTag,
		TTL:       wire.FormatTTL(params.TTL),
		Compress:  params.Encode,
		UserID:    params.UserID,
	})
}

// Get looks entries up by key or type tag. An empty result means nothing matched.
func (c *Client) Get(ctx context.Context, params GetParams) (wire.Response, error) {
	return c.transport.RoundTrip(ctx, wire.Request{
		Operation: wire.OpGet,
		Key:       params.Key,
		TypeTag:   params.TypeTag,
		UserID:    params.UserID,
		ResetTTL:  params.ResetTTL,
		TTL:       wire.FormatTTL(params.TTL),
	})
}

// Remove deletes a key and returns the removed entry in the response result.
func (c *Client) Remove(ctx context.Context, key, userID string) (wire.Response, error) {
	return c.transport.RoundTrip(ctx, wire.Request{Operation: wire.OpRemove, Key: key, UserID: userID})
}

// Reset gives a key a fresh expiry; zero `ttl` means the server default.
func (c *Client) Reset(ctx context.Context, key string, ttl time.Duration, userID string) (wire.Response, error) {
	return c.transport.RoundTrip(ctx, wire.Request{
		Operation: wire.OpReset,
		Key:       key,
		TTL:       wire.FormatTTL(ttl),
		UserID:    userID,
	})
}

// transportFailure is the uniform response returned next to a transport error.
func transportFailure(err error) wire.Response {
	return wire.Failure("Request failed: %v.", err)
}
