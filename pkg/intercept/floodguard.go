package intercept

import (
	"sync"
	"time"

	"dominicbreuker/gamenet/pkg/peer"

	"golang.org/x/time/rate"
)

// maxTrackedPeers bounds the limiter table; the table is reset when full.
const maxTrackedPeers = 65536

// FloodGuard intercepts datagrams from peers exceeding a per-peer packet
// rate. Attach it first so floods never reach later observers.
type FloodGuard struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[peer.Address]*rate.Limiter
	dropped  uint64
}

// NewFloodGuard allows perSecond datagrams per peer with the given burst.
func NewFloodGuard(perSecond float64, burst int) *FloodGuard {
	return &FloodGuard{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[peer.Address]*rate.Limiter),
	}
}

// Observe is the intercept.Observer.
func (g *FloodGuard) Observe(ev *Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[ev.From]
	if !ok {
		if len(g.limiters) >= maxTrackedPeers {
			g.limiters = make(map[peer.Address]*rate.Limiter)
		}
		l = rate.NewLimiter(g.limit, g.burst)
		g.limiters[ev.From] = l
	}

	if !l.AllowN(g.now(), 1) {
		ev.Intercepted = true
		g.dropped++
	}
}

// Dropped returns the number of datagrams intercepted so far.
func (g *FloodGuard) Dropped() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
