package breaker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pipeheal/pipeheal/pkg/types"
)

// Config tunes one breaker. The executor derives it from the playbook,
// falling back to process-wide defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Zero disables the breaker for this key.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays OPEN before admitting a
	// half-open probe.
	OpenTimeout time.Duration
}

// Fabric holds all circuit breakers. Breakers are created lazily on
// first reference and live until an operator reset; the map itself is
// guarded separately from each breaker's own lock so a slow key never
// blocks the rest.
type Fabric struct {
	mu       sync.RWMutex
	breakers map[string]*state

	now func() time.Time
}

type state struct {
	mu sync.Mutex

	state               types.BreakerState
	consecutiveFailures int
	openedAt            time.Time
	lastOutcomeAt       time.Time
	probeInFlight       bool
}

// NewFabric creates an empty breaker fabric
func NewFabric() *Fabric {
	return &Fabric{
		breakers: make(map[string]*state),
		now:      time.Now,
	}
}

// Key builds the canonical breaker key for an error type and resource
func Key(errorType, resourceID string) string {
	if resourceID == "" {
		resourceID = "global"
	}
	return fmt.Sprintf("%s:%s", errorType, resourceID)
}

// Allow reports whether a recovery attempt may proceed for this key.
// A denied call must not run the action and must not record an outcome.
// An allowed call in HALF_OPEN is the single admitted probe.
func (f *Fabric) Allow(key string, cfg Config) (bool, types.BreakerStatus) {
	if cfg.FailureThreshold <= 0 {
		return true, types.BreakerStatus{Key: key, State: types.BreakerClosed}
	}

	s := f.getOrCreate(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := f.now()
	switch s.state {
	case types.BreakerClosed:
		return true, s.status(key)
	case types.BreakerOpen:
		if now.Sub(s.openedAt) < cfg.OpenTimeout {
			return false, s.status(key)
		}
		// timeout elapsed: admit exactly one probe
		s.state = types.BreakerHalfOpen
		s.probeInFlight = true
		return true, s.status(key)
	case types.BreakerHalfOpen:
		if s.probeInFlight {
			return false, s.status(key)
		}
		s.probeInFlight = true
		return true, s.status(key)
	default:
		s.state = types.BreakerClosed
		return true, s.status(key)
	}
}

// RecordSuccess records a successful recovery outcome. Any success
// closes the breaker and clears the failure streak.
func (f *Fabric) RecordSuccess(key string) types.BreakerStatus {
	s := f.getOrCreate(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = types.BreakerClosed
	s.consecutiveFailures = 0
	s.openedAt = time.Time{}
	s.probeInFlight = false
	s.lastOutcomeAt = f.now()
	return s.status(key)
}

// RecordFailure records a failed recovery outcome. A failed half-open
// probe reopens the breaker immediately; in CLOSED the streak has to
// reach the threshold first.
func (f *Fabric) RecordFailure(key string, cfg Config) types.BreakerStatus {
	s := f.getOrCreate(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := f.now()
	s.lastOutcomeAt = now
	s.consecutiveFailures++

	switch s.state {
	case types.BreakerHalfOpen:
		s.state = types.BreakerOpen
		s.openedAt = now
		s.probeInFlight = false
	case types.BreakerClosed:
		if cfg.FailureThreshold > 0 && s.consecutiveFailures >= cfg.FailureThreshold {
			s.state = types.BreakerOpen
			s.openedAt = now
		}
	}
	return s.status(key)
}

// Reset forces a breaker back to CLOSED with cleared counters.
// Resetting an unknown key creates it in the CLOSED state, so any
// number of resets is equivalent to one.
func (f *Fabric) Reset(key string) types.BreakerStatus {
	s := f.getOrCreate(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = types.BreakerClosed
	s.consecutiveFailures = 0
	s.openedAt = time.Time{}
	s.probeInFlight = false
	return s.status(key)
}

// Snapshot returns the current status for one key. Unknown keys read as
// CLOSED without being created.
func (f *Fabric) Snapshot(key string) types.BreakerStatus {
	f.mu.RLock()
	s := f.breakers[key]
	f.mu.RUnlock()

	if s == nil {
		return types.BreakerStatus{Key: key, State: types.BreakerClosed}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status(key)
}

// SnapshotAll returns the status of every breaker, sorted by key
func (f *Fabric) SnapshotAll() []types.BreakerStatus {
	f.mu.RLock()
	keys := make([]string, 0, len(f.breakers))
	for key := range f.breakers {
		keys = append(keys, key)
	}
	f.mu.RUnlock()

	sort.Strings(keys)

	statuses := make([]types.BreakerStatus, 0, len(keys))
	for _, key := range keys {
		statuses = append(statuses, f.Snapshot(key))
	}
	return statuses
}

func (f *Fabric) getOrCreate(key string) *state {
	f.mu.RLock()
	s := f.breakers[key]
	f.mu.RUnlock()
	if s != nil {
		return s
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s = f.breakers[key]; s != nil {
		return s
	}
	s = &state{state: types.BreakerClosed}
	f.breakers[key] = s
	return s
}

// status must be called with s.mu held
func (s *state) status(key string) types.BreakerStatus {
	return types.BreakerStatus{
		Key:                 key,
		State:               s.state,
		ConsecutiveFailures: s.consecutiveFailures,
		OpenedAt:            s.openedAt,
		LastOutcomeAt:       s.lastOutcomeAt,
	}
}
