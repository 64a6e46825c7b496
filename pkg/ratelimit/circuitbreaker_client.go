package ratelimit

import (
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/handikong/lobcore/pkg/wal"
	"github.com/sony/gobreaker/v2"
)

type Rule struct {
	// MaxRequests caps how many probe requests Half-Open lets through before
	// deciding whether to close or re-open; the library treats 0 as 1.
	MaxRequests uint32

	// Interval is the Closed-state counting window.
	Interval time.Duration

	// BucketPeriod enables a rolling window when >0 (each bucket covers this
	// long); <=0 uses a single fixed window instead.
	BucketPeriod time.Duration

	// Timeout is how long Open lasts before the breaker moves to Half-Open.
	Timeout time.Duration

	// Either trip condition alone is enough to open the breaker.
	TripConsecutiveFailures uint32  // consecutive-failure threshold, typically 10-50
	TripFailureRate         float64 // failure-rate threshold in [0,1], e.g. 0.5
	TripMinRequests         uint32  // minimum sample size before TripFailureRate applies, e.g. 20
}

type Manager struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[struct{}]

	defaultRule Rule
	rules       map[string]Rule
}

func NewManager(defaultRule Rule, perMethod map[string]Rule) *Manager {

	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	return &Manager{
		m:           make(map[string]*gobreaker.CircuitBreaker[struct{}], 64),
		defaultRule: defaultRule,
		rules:       perMethod,
	}
}

func (m *Manager) Get(method string) *gobreaker.CircuitBreaker[struct{}] {
	m.mu.RLock()
	cb := m.m[method]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	// Slow path: construct and cache it under the write lock.
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb = m.m[method]; cb != nil {
		return cb
	}

	rule, ok := m.rules[method]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         method,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,

		ReadyToTrip: func(c gobreaker.Counts) bool {
			// Consecutive-failure threshold first: the simpler, more direct signal.
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			// Failure-rate threshold: better suited to bursty traffic.
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				failRate := float64(c.TotalFailures) / float64(c.Requests)
				return failRate >= rule.TripFailureRate
			}
			return false
		},

		IsSuccessful: func(err error) bool {
			return isSuccessfulForBreaker(err)
		},
	}

	cb = gobreaker.NewCircuitBreaker[struct{}](st)
	m.m[method] = cb
	return cb
}

// isSuccessfulForBreaker decides which WAL append/flush errors count
// against the breaker. A corrupt-record error means the writer produced a
// malformed payload — a caller bug, not an unhealthy disk — so it does not
// trip the breaker. Anything touching the filesystem (ENOSPC, EIO,
// permission loss) does, since that is exactly the condition the breaker
// exists to shed load against.
func isSuccessfulForBreaker(err error) bool {
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, wal.ErrPayloadTooLarge),
		errors.Is(err, wal.ErrCorruptHeader),
		errors.Is(err, wal.ErrCorruptPayload),
		errors.Is(err, wal.ErrChecksumMismatch):
		return true
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return false
	}

	return false
}
