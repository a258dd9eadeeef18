// Package port exposes the cache store to the outside world: the framed socket transport, the HTTP surface and an
// optional Redis protocol port. The socket and HTTP front ends both turn their input into a wire.Request and hand it
// to the shared Dispatcher.

package port

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nobletooth/sica/pkg/cache"
	"github.com/nobletooth/sica/pkg/wire"
)

// Dispatcher maps a request operation onto the matching cache store call.
type Dispatcher struct {
	store *cache.Store
}

// NewDispatcher creates a new Dispatcher serving `store`.
func NewDispatcher(store *cache.Store) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil cache store")
	}
	return &Dispatcher{store: store}, nil
}

// Dispatch runs `req` against the store. It never fails: errors become a response with success set to false.
func (d *Dispatcher) Dispatch(req wire.Request) wire.Response {
	scope := cache.User(req.UserID)
	switch req.Operation {
	case wire.OpAdd:
		return d.add(scope, req)
	case wire.OpGet:
		return d.get(scope, req)
	case wire.OpRemove:
		return d.remove(scope, req)
	case wire.OpReset:
		return d.reset(scope, req)
	default:
		slog.Debug("Got an unknown operation.", "operation", req.Operation)
		return wire.Failure("%s is not a valid operation.", req.Operation)
	}
}

func (d *Dispatcher) add(scope cache.Scope, req wire.Request) wire.Response {
	ttl, err := wire.ParseTTL(req.TTL)
	if err != nil {
		return wire.Failure("Unable to add %s: %v.", req.Key, err)
	}
	addReq := cache.AddRequest{Key: req.Key, Payload: req.Payload, TypeTag: req.TypeTag, TTL: ttl, Encode: req.Compress}
	if err := d.store.Add(scope, addReq); err != nil {
		return wire.Failure("Unable to add %s: %v.", req.Key, err)
	}
	return wire.Response{Success: true, Key: req.Key}
}

func (d *Dispatcher) get(scope cache.Scope, req wire.Request) wire.Response {
	ttl, err := wire.ParseTTL(req.TTL)
	if err != nil {
		return wire.Failure("Unable to get %s: %v.", lookupName(req), err)
	}
	items, err := d.store.Get(scope, cache.GetQuery{Key: req.Key, TypeTag: req.TypeTag, ResetTTL: req.ResetTTL, TTL: ttl})
	if err != nil {
		return wire.Failure("Unable to get %s: %v.", lookupName(req), err)
	}
	return wire.Response{Success: len(items) > 0, Result: toWireItems(items)}
}

func (d *Dispatcher) remove(scope cache.Scope, req wire.Request) wire.Response {
	items, err := d.store.Remove(scope, req.Key)
	if err != nil {
		return wire.Failure("Unable to remove %s: %v.", req.Key, err)
	}
	return wire.Response{Success: len(items) > 0, Result: toWireItems(items)}
}

func (d *Dispatcher) reset(scope cache.Scope, req wire.Request) wire.Response {
	ttl, err := wire.ParseTTL(req.TTL)
	if err != nil {
		return wire.Failure("Unable to reset %s: %v.", req.Key, err)
	}
	found, err := d.store.ResetTTL(scope, req.Key, ttl)
	if err != nil {
		return wire.Failure("Unable to reset %s: %v.", req.Key, err)
	}
	if !found {
		return wire.Failure("Element %s is not in cache.", req.Key)
	}
	return wire.Response{Success: true}
}

// lookupName describes what a get request looks for, for error messages.
func lookupName(req wire.Request) string {
	if req.Key == "" && req.TypeTag != "" {
		return fmt.Sprintf("type tag %s", req.TypeTag)
	}
	return req.Key
}

func toWireItems(items []cache.Item) []wire.Item {
	if len(items) == 0 {
		return nil
	}
	result := make([]wire.Item, len(items))
	for i, item := range items {
		result[i] = wire.Item{Key: item.Key, Payload: item.Payload}
	}
	return result
}
