// Package cache implements the sica storage and eviction engine.
//
// A Store keeps one global scope and one private scope per user identifier. Every entry has an absolute expiry, but
// expiry is never checked on reads: entries stay visible until the sweeper removes them, which bounds staleness by
// one clean interval. All operations and sweep passes share a single mutex.

package cache

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	defaultTtl = flag.Duration("default_ttl", 10*time.Minute,
		"TTL applied to entries added or reset without an explicit TTL.")
	defaultEncode = flag.Bool("encode", true,
		"Store payloads in their binary encoded form unless the request says otherwise.")
	maxEntries = flag.Int("max_elems", 50,
		"Reserved: the maximum number of entries per scope. Not enforced.")
	cleanInterval = flag.Duration("clean_interval", 30*time.Second,
		"How often the sweeper removes expired entries and empty user partitions.")
)

var (
	// ErrValidation is returned for malformed arguments, e.g. a negative TTL or a missing key.
	ErrValidation = errors.New("invalid request")
	// ErrEncoding is returned when a payload can't go through the binary encoding step.
	ErrEncoding = errors.New("payload encoding failed")
	// ErrStopped is returned when starting a store whose sweeper was already stopped.
	ErrStopped = errors.New("store was stopped")
)

func isValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Scope selects the partition an operation works on. The zero value is the global scope.
type Scope string

// Global is the scope shared by every caller without a user identifier.
const Global Scope = ""

// User returns the private scope of the given user. An empty identifier maps to the global scope.
func User(userID string) Scope {
	return Scope(userID)
}

func (s Scope) IsGlobal() bool {
	return s == Global
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "user:" + string(s)
}

// Options configures a Store.
type Options struct {
	DefaultTTL    time.Duration // Used when an operation doesn't carry a TTL; must be positive.
	Encode        bool          // Default for AddRequest.Encode.
	MaxEntries    int           // Reserved; kept for configuration compatibility and never enforced.
	CleanInterval time.Duration // Sweeper period; must be positive.
}

// OptionsFromFlags builds store options from the command line flags.
func OptionsFromFlags() Options {
	return Options{
		DefaultTTL:    *defaultTtl,
		Encode:        *defaultEncode,
		MaxEntries:    *maxEntries,
		CleanInterval: *cleanInterval,
	}
}

// AddRequest describes one add operation.
type AddRequest struct {
	Key     string
	Payload any
	TypeTag string
	TTL     time.Duration // Zero means the store default.
	Encode  *bool         // Nil means the store default.
}

// GetQuery selects entries either by Key or, when Key is empty, by TypeTag.
type GetQuery struct {
	Key      string
	TypeTag  string
	ResetTTL bool          // If true, every returned entry gets a fresh expiry.
	TTL      time.Duration // TTL used by ResetTTL; zero means the store default.
}

// Stats is a point-in-time summary of the store content.
type Stats struct {
	GlobalEntries  int
	UserPartitions int
	UserEntries    int
}

// Store is the in-memory cache. Construct it once with NewStore, call Start to run its sweeper and Stop before
// dropping it.
type Store struct {
	id   uuid.UUID
	opts Options
	now  func() time.Time

	mux    sync.Mutex // Guards every field below and every table.
	global *table
	users  map[ /*userID*/ string]*table
	sweeps int // Number of sweep passes so far.

	lifecycleMux  sync.Mutex
	stopped       bool
	cancelSweeper context.CancelFunc
	sweeperDone   chan struct{}
}

// NewStore is the constructor for Store.
func NewStore(opts Options) (*Store, error) {
	if opts.DefaultTTL <= 0 {
		return nil, fmt.Errorf("%w: default ttl must be positive, got %s", ErrValidation, opts.DefaultTTL)
	}
	if opts.CleanInterval <= 0 {
		return nil, fmt.Errorf("%w: clean interval must be positive, got %s", ErrValidation, opts.CleanInterval)
	}
	store := &Store{
		id:     uuid.New(),
		opts:   opts,
		now:    time.Now,
		global: newTable(),
		users:  make(map[string]*table),
	}
	slog.Info("Created cache store.", "store", store.id, "defaultTtl", opts.DefaultTTL, "encode", opts.Encode,
		"maxEntries", opts.MaxEntries, "cleanInterval", opts.CleanInterval)
	return store, nil
}

// ID returns the unique identifier of this store instance.
func (s *Store) ID() uuid.UUID {
	return s.id
}

// ttlOrDefault validates `ttl` and substitutes the store default for zero. NOTE: Caller doesn't need the lock.
func (s *Store) ttlOrDefault(ttl time.Duration) (time.Duration, error) {
	if ttl < 0 {
		return 0, fmt.Errorf("%w: ttl must be positive, got %s", ErrValidation, ttl)
	}
	if ttl == 0 {
		return s.opts.DefaultTTL, nil
	}
	return ttl, nil
}

// lookupTable returns the table of `scope` without creating it. NOTE: Caller should acquire lock.
func (s *Store) lookupTable(scope Scope) (*table, bool) {
	if scope.IsGlobal() {
		return s.global, true
	}
	tbl, exists := s.users[string(scope)]
	return tbl, exists
}

// dropIfEmpty removes an emptied user partition. NOTE: Caller should acquire lock.
func (s *Store) dropIfEmpty(scope Scope, tbl *table) {
	if !scope.IsGlobal() && tbl.len() == 0 {
		delete(s.users, string(scope))
	}
}

// Add stores the payload under `req.Key`, overwriting any previous entry with the same key in `scope`.
// It only fails on invalid arguments or when the payload can't be encoded; the previous entry is then left untouched.
func (s *Store) Add(scope Scope, req AddRequest) (err error) {
	defer func() { storeOperations.WithLabelValues("add", outcomeOf(err, true)).Inc() }()

	if req.Key == "" {
		return fmt.Errorf("%w: key is required", ErrValidation)
	}
	ttl, err := s.ttlOrDefault(req.TTL)
	if err != nil {
		return err
	}
	encode := s.opts.Encode
	if req.Encode != nil {
		encode = *req.Encode
	}
	newEntry := &entry{key: req.Key, payload: req.Payload, encoded: encode, typeTag: req.TypeTag}
	if encode { // Encoding is pure CPU work; do it before taking the lock.
		if newEntry.payload, err = encodePayload(req.Payload); err != nil {
			slog.Error("Unable to add new element to cache.", "store", s.id, "scope", scope, "key", req.Key,
				"error", err)
			return err
		}
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	newEntry.expiresAt = s.now().Add(ttl)
	tbl, exists := s.lookupTable(scope)
	if !exists {
		tbl = newTable()
		s.users[string(scope)] = tbl
	}
	tbl.put(newEntry)
	slog.Debug("Stored element in cache.", "store", s.id, "scope", scope, "key", req.Key, "encoded", encode)
	return nil
}

// touch advances the expiry of `e`. NOTE: Caller should acquire lock.
func (s *Store) touch(e *entry, ttl time.Duration) {
	e.expiresAt = s.now().Add(ttl)
}

// Get looks entries up by key or by type tag. A missing key or tag yields an empty result, not an error.
// Expired entries that the sweeper hasn't removed yet are still returned.
func (s *Store) Get(scope Scope, query GetQuery) (items []Item, err error) {
	defer func() { storeOperations.WithLabelValues("get", outcomeOf(err, len(items) > 0)).Inc() }()

	if query.Key == "" && query.TypeTag == "" {
		return nil, fmt.Errorf("%w: either key or type tag is required", ErrValidation)
	}
	var ttl time.Duration
	if query.ResetTTL {
		if ttl, err = s.ttlOrDefault(query.TTL); err != nil {
			return nil, err
		}
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	tbl, exists := s.lookupTable(scope)
	if !exists {
		return nil, nil
	}
	if query.Key != "" {
		e, found := tbl.get(query.Key)
		if !found {
			return nil, nil
		}
		item, err := e.item()
		if err != nil {
			return nil, err
		}
		if query.ResetTTL {
			s.touch(e, ttl)
		}
		return []Item{item}, nil
	}

	// Type tag lookups are a linear scan over the scope.
	if !tbl.mayHaveTag(query.TypeTag) {
		return nil, nil
	}
	for e := range tbl.entries() {
		if e.typeTag != query.TypeTag {
			continue
		}
		item, err := e.item()
		if err != nil {
			return nil, err
		}
		if query.ResetTTL {
			s.touch(e, ttl)
		}
		items = append(items, item)
	}
	return items, nil
}

// Remove deletes `key` from `scope` and returns the removed item. An empty result means nothing was removed.
func (s *Store) Remove(scope Scope, key string) (items []Item, err error) {
	defer func() { storeOperations.WithLabelValues("remove", outcomeOf(err, len(items) > 0)).Inc() }()

	if key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrValidation)
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	tbl, exists := s.lookupTable(scope)
	if !exists {
		return nil, nil
	}
	e, found := tbl.get(key)
	if !found {
		return nil, nil
	}
	item, err := e.item()
	// An entry that can't be decoded is removed anyway; it would never be readable.
	tbl.delete(key)
	s.dropIfEmpty(scope, tbl)
	if err != nil {
		return nil, err
	}
	slog.Info("Deleted element from cache.", "store", s.id, "scope", scope, "key", key)
	return []Item{item}, nil
}

// ResetTTL sets the expiry of `key` to now + ttl (or the default TTL when zero).
// It reports false when the key doesn't exist in `scope`.
func (s *Store) ResetTTL(scope Scope, key string, ttl time.Duration) (found bool, err error) {
	defer func() { storeOperations.WithLabelValues("reset", outcomeOf(err, found)).Inc() }()

	if key == "" {
		return false, fmt.Errorf("%w: key is required", ErrValidation)
	}
	if ttl, err = s.ttlOrDefault(ttl); err != nil {
		return false, err
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	tbl, exists := s.lookupTable(scope)
	if !exists {
		return false, nil
	}
	e, found := tbl.get(key)
	if !found {
		slog.Debug("Element not found in cache.", "store", s.id, "scope", scope, "key", key)
		return false, nil
	}
	s.touch(e, ttl)
	slog.Debug("Reset element ttl.", "store", s.id, "scope", scope, "key", key, "ttl", ttl)
	return true, nil
}

// Keys returns the keys of `scope` in insertion order.
func (s *Store) Keys(scope Scope) []string {
	s.mux.Lock()
	defer s.mux.Unlock()

	tbl, exists := s.lookupTable(scope)
	if !exists {
		return nil
	}
	keys := make([]string, 0, tbl.len())
	for e := range tbl.entries() {
		keys = append(keys, e.key)
	}
	return keys
}

// Stats summarizes the store content.
func (s *Store) Stats() Stats {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.statsLocked()
}

// statsLocked is Stats for callers already holding the lock.
func (s *Store) statsLocked() Stats {
	stats := Stats{GlobalEntries: s.global.len(), UserPartitions: len(s.users)}
	for _, tbl := range s.users {
		stats.UserEntries += tbl.len()
	}
	return stats
}
