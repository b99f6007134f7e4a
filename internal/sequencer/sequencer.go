// Package sequencer serializes mutations per group. Two mutations on the same
// group never interleave; mutations on different groups proceed in parallel.
// Reads never touch the sequencer.
package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/metrics"
)

// DefaultTimeout bounds the acquisition wait before group_busy is surfaced.
const DefaultTimeout = 5 * time.Second

type groupLock struct {
	sem  chan struct{}
	refs int
}

// Sequencer hands out per-group exclusive sections. The zero value is not
// usable; construct with New.
type Sequencer struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*groupLock
}

// New creates a Sequencer with the given acquisition timeout. A non-positive
// timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Sequencer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sequencer{
		timeout: timeout,
		locks:   make(map[string]*groupLock),
	}
}

// Acquire enters the exclusive section for groupID, blocking while another
// mutation for the same group is in flight. It fails with a group_busy
// Conflict if the section cannot be entered within the timeout, or if ctx is
// cancelled while waiting. The returned release function is idempotent and
// must be called once the mutation has committed (or failed).
func (s *Sequencer) Acquire(ctx context.Context, groupID string) (release func(), err error) {
	s.mu.Lock()
	l, ok := s.locks[groupID]
	if !ok {
		l = &groupLock{sem: make(chan struct{}, 1)}
		s.locks[groupID] = l
	}
	l.refs++
	s.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		metrics.LockWait.Observe(time.Since(start).Seconds())
	case <-timer.C:
		s.unref(groupID, l)
		metrics.LockTimeouts.Inc()
		return nil, apperr.Conflict(apperr.CodeGroupBusy,
			"group %s is busy, could not acquire within %s", groupID, s.timeout)
	case <-ctx.Done():
		s.unref(groupID, l)
		return nil, apperr.Conflict(apperr.CodeGroupBusy,
			"group %s acquisition cancelled: %v", groupID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.unref(groupID, l)
		})
	}, nil
}

// unref drops one reference to the group's lock entry and frees it when the
// last waiter is gone, so idle groups don't accumulate entries.
func (s *Sequencer) unref(groupID string, l *groupLock) {
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, groupID)
	}
	s.mu.Unlock()
}
