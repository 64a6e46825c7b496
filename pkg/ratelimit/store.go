package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/handikong/lobcore/pkg/metrics"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen int64 // unix nano
}

// Store is a per-key token bucket limiter, keyed by whatever a caller finds
// natural to throttle independently — one entry per symbol for order
// ingress, one per (symbol, userID) for a tighter per-trader cap. Idle keys
// are reclaimed by StartJanitor instead of accumulating forever.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	rate    rate.Limit
	burst   int
	ttl     time.Duration

	// service/method label metrics.RateLimitBlockTotal for every key this
	// Store manages, so a caller can't forget to report a block.
	service string
	method  string
}

func NewStore(r rate.Limit, burst int, ttl time.Duration) *Store {
	return NewNamedStore("lob-engine", "submit", r, burst, ttl)
}

// NewNamedStore is NewStore with explicit metric labels, for a binary that
// runs more than one independently-throttled Store (e.g. order ingress vs.
// cancel ingress) and needs RateLimitBlockTotal to tell them apart.
func NewNamedStore(service, method string, r rate.Limit, burst int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{
		entries: make(map[string]*entry, 1024),
		rate:    r,
		burst:   burst,
		ttl:     ttl,
		service: service,
		method:  method,
	}
}

func (s *Store) getOrCreate(key string, now int64) *entry {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.rate, s.burst), lastSeen: now}
		s.entries[key] = e
		s.mu.Unlock()
		return e
	}
	atomic.StoreInt64(&e.lastSeen, now)
	s.mu.Unlock()
	return e
}

// Allow reports whether key may proceed right now, incrementing
// RateLimitBlockTotal(reason="ingress") itself on a block.
func (s *Store) Allow(key string) bool {
	ok := s.getOrCreate(key, time.Now().UnixNano()).limiter.Allow()
	if !ok {
		metrics.RateLimitBlockTotal.WithLabelValues(s.service, s.method, "ingress").Inc()
	}
	return ok
}

// Wait blocks until key's bucket has a token or ctx is done, incrementing
// RateLimitBlockTotal(reason="ctx_done") only when ctx itself cuts the wait
// short rather than on every wait.
func (s *Store) Wait(ctx context.Context, key string) error {
	err := s.getOrCreate(key, time.Now().UnixNano()).limiter.Wait(ctx)
	if err != nil {
		metrics.RateLimitBlockTotal.WithLabelValues(s.service, s.method, "ctx_done").Inc()
	}
	return err
}

// Len reports the number of distinct keys currently tracked, useful as a
// sanity check that StartJanitor is actually reclaiming idle entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

func (s *Store) cleanup() {
	cut := time.Now().Add(-s.ttl).UnixNano()

	s.mu.Lock()
	for k, e := range s.entries {
		if atomic.LoadInt64(&e.lastSeen) < cut {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}
