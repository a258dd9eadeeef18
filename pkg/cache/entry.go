// Entries optionally keep their payload in an encoded form. The encoding turns the JSON-like payload into a
// protobuf `google.protobuf.Value` message and stores its binary wire bytes; reading reverses it symmetrically.

package cache

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// entry is a single cached value inside a scope table.
type entry struct {
	key       string
	payload   any  // The value as given, or the encoded bytes when `encoded` is set.
	encoded   bool // If true, `payload` holds a marshalled structpb.Value.
	typeTag   string
	expiresAt time.Time
}

// Item is a key / payload pair returned by store lookups.
type Item struct {
	Key     string
	Payload any
}

// encodePayload marshals a JSON-like value (nil, bool, numbers, string, []any, map[string]any) into bytes.
func encodePayload(payload any) ([]byte, error) {
	value, err := structpb.NewValue(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	encoded, err := proto.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return encoded, nil
}

// decodePayload reverses encodePayload.
func decodePayload(encoded []byte) (any, error) {
	value := new(structpb.Value)
	if err := proto.Unmarshal(encoded, value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return value.AsInterface(), nil
}

// item materializes the entry for a caller, decoding the payload if needed.
func (e *entry) item() (Item, error) {
	if !e.encoded {
		return Item{Key: e.key, Payload: e.payload}, nil
	}
	encoded, isBytes := e.payload.([]byte)
	if !isBytes {
		return Item{}, fmt.Errorf("%w: encoded entry %q holds %T", ErrEncoding, e.key, e.payload)
	}
	payload, err := decodePayload(encoded)
	if err != nil {
		return Item{}, err
	}
	return Item{Key: e.key, Payload: payload}, nil
}
