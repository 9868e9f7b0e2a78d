package signal

import (
	"sync"
	"time"

	"github.com/ametov/parley/internal/domain"
)

// PeerRateLimiter bounds resource-creating requests per peer with a sliding
// window, so one connection cannot flood the engine with transport or
// producer churn. A limit of zero disables it.
type PeerRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
}

func NewPeerRateLimiter(limit int, interval time.Duration) *PeerRateLimiter {
	return &PeerRateLimiter{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *PeerRateLimiter) Allow(pid domain.PeerID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	// Drop attempts that fell out of the window.
	attempts := rl.history[pid]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[pid] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[pid] = fresh
	return true
}

// Forget drops the peer's history when its connection goes away.
func (rl *PeerRateLimiter) Forget(pid domain.PeerID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, pid)
}
