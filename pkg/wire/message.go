// Package wire defines the messages exchanged by sica clients and servers and the length-prefixed framing that
// carries them over stream sockets.

package wire

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Operation names accepted by the dispatcher.
const (
	OpAdd    = "add"
	OpGet    = "get"
	OpRemove = "remove"
	OpReset  = "reset"
)

var (
	// ErrTransport is returned when the connection fails: dial errors, broken pipes, short frames.
	ErrTransport = errors.New("transport error")
	// ErrFrameTooLarge is returned when a frame prefix announces more bytes than allowed.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrProtocol is returned when a complete frame can't be decoded into a message.
	ErrProtocol = errors.New("protocol error")
	// ErrInvalidTTL is returned by ParseTTL for malformed or non-positive TTLs.
	ErrInvalidTTL = errors.New("invalid ttl")
)

// Request is the message a client sends. Exactly one request travels per connection.
type Request struct {
	Operation string `json:"operation"`
	Key       string `json:"key,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	TypeTag   string `json:"type_tag,omitempty"`
	// TTL is either a number of minutes or a string holding minutes or a duration like "90s". Nil means the
	// server default.
	TTL any `json:"ttl,omitempty"`
	// Compress asks the store to keep the payload in its encoded form; nil means the server default.
	Compress *bool  `json:"compress,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	ResetTTL bool   `json:"reset_ttl,omitempty"`
}

// Item is one key / payload pair of a response result.
type Item struct {
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

// Response is the message a server answers with.
type Response struct {
	Success bool   `json:"success"`
	Key     string `json:"key,omitempty"`
	Result  []Item `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// Failure builds a failed response carrying `format` as its message.
func Failure(format string, args ...any) Response {
	return Response{Success: false, Message: fmt.Sprintf(format, args...)}
}

// ParseTTL converts a TTL as found in a decoded request. Numbers are minutes; strings are either minutes or a Go
// duration. Nil yields zero, which the store treats as its default TTL. Anything else must be positive.
func ParseTTL(raw any) (time.Duration, error) {
	var ttl time.Duration
	switch value := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return fromMinutes(value)
	case int:
		ttl = time.Duration(value) * time.Minute
	case time.Duration:
		ttl = value
	case string:
		value = strings.TrimSpace(value)
		if minutes, err := strconv.ParseFloat(value, 64); err == nil {
			return fromMinutes(minutes)
		}
		var err error
		if ttl, err = time.ParseDuration(value); err != nil {
			return 0, fmt.Errorf("%w: %q is neither minutes nor a duration", ErrInvalidTTL, value)
		}
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidTTL, raw)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: must be positive, got %v", ErrInvalidTTL, raw)
	}
	return ttl, nil
}

// maxMinutes keeps minute counts within the range of time.Duration.
const maxMinutes = float64(math.MaxInt64 / int64(time.Minute))

func fromMinutes(minutes float64) (time.Duration, error) {
	if !(minutes > 0) || minutes > maxMinutes { // Also rejects NaN.
		return 0, fmt.Errorf("%w: must be a positive number of minutes, got %v", ErrInvalidTTL, minutes)
	}
	if ttl := time.Duration(minutes * float64(time.Minute)); ttl > 0 {
		return ttl, nil
	}
	return 0, fmt.Errorf("%w: %v minutes rounds down to zero", ErrInvalidTTL, minutes)
}

// FormatTTL renders a duration the way ParseTTL reads it back. Zero renders as nil, i.e. the server default.
func FormatTTL(ttl time.Duration) any {
	if ttl == 0 {
		return nil
	}
	return ttl.String()
}
