// The sweeper is a background goroutine owned by the Store. Every clean interval it takes the store lock once and
// removes every expired entry of the global scope and of each user partition, dropping partitions left empty.
// A pass holds the lock for its whole duration, so no operation observes a partially swept store.

package cache

import (
	"context"
	"log/slog"
	"time"
)

// statusLogEvery controls how often a sweep reports the store status at info level instead of debug.
const statusLogEvery = 10

// sweepResult summarizes one sweep pass.
type sweepResult struct {
	globalEvicted     int
	userEvicted       int
	removedPartitions int
}

// Start launches the sweeper. It runs until `ctx` is cancelled or Stop is called.
func (s *Store) Start(ctx context.Context) error {
	s.lifecycleMux.Lock()
	defer s.lifecycleMux.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.cancelSweeper != nil {
		slog.Warn("Cache sweeper is already running.", "store", s.id)
		return nil
	}
	sweeperCtx, cancel := context.WithCancel(ctx)
	s.cancelSweeper = cancel
	s.sweeperDone = make(chan struct{})
	go s.sweeper(sweeperCtx, s.opts.CleanInterval, s.sweeperDone)
	slog.Info("Scheduled cache sweeper.", "store", s.id, "interval", s.opts.CleanInterval)
	return nil
}

// Stop stops the sweeper and waits for an in-flight pass to finish. Stop is safe to call multiple times.
func (s *Store) Stop() {
	s.lifecycleMux.Lock()
	defer s.lifecycleMux.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.cancelSweeper != nil {
		s.cancelSweeper()
		<-s.sweeperDone
	}
	slog.Info("Stopped cache store.", "store", s.id)
}

// sweeper periodically calls sweep until `ctx` is done.
func (s *Store) sweeper(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one eviction pass under the store lock.
func (s *Store) sweep() sweepResult {
	started := time.Now()
	s.mux.Lock()
	defer s.mux.Unlock()
	defer func() { sweepDuration.Observe(time.Since(started).Seconds()) }()

	now := s.now()
	result := sweepResult{globalEvicted: s.global.deleteExpired(now)}
	for userID, tbl := range s.users {
		result.userEvicted += tbl.deleteExpired(now)
		if tbl.len() == 0 {
			delete(s.users, userID)
			result.removedPartitions++
		}
	}

	sweepPasses.Inc()
	sweepEvictedEntries.WithLabelValues("global").Add(float64(result.globalEvicted))
	sweepEvictedEntries.WithLabelValues("user").Add(float64(result.userEvicted))
	sweepRemovedPartitions.Add(float64(result.removedPartitions))

	s.sweeps++
	level := slog.LevelDebug
	if s.sweeps%statusLogEvery == 0 {
		level = slog.LevelInfo
	}
	stats := s.statsLocked()
	slog.Log(context.Background(), level, "Swept cache store.", "store", s.id, "pass", s.sweeps,
		"globalEvicted", result.globalEvicted, "userEvicted", result.userEvicted,
		"removedPartitions", result.removedPartitions, "globalEntries", stats.GlobalEntries,
		"userPartitions", stats.UserPartitions, "userEntries", stats.UserEntries)
	return result
}
