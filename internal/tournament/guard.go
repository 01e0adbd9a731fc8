package tournament

import (
	"strings"
	"sync"
	"time"
)

// reportWindow is how long a report blocks the opponent's own report of
// the same match.
const reportWindow = 10 * time.Second

// ReportGuard suppresses duplicate result reports. When a report is
// accepted, the opponent's tag is blocked for the window; a report from
// that tag inside the window is treated as the second half of a double
// submission. This is a soft mechanism: two reports landing on the same
// tick can both pass, and the loser of that race just retries.
type ReportGuard struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

// NewReportGuard creates a guard with the standard window.
func NewReportGuard() *ReportGuard {
	return &ReportGuard{
		window: reportWindow,
		now:    time.Now,
		recent: make(map[string]time.Time),
	}
}

// Block records a report attempt against tag.
func (g *ReportGuard) Block(tag string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent[strings.ToLower(tag)] = g.now()
}

// Blocked reports whether tag is inside the suppression window. Expired
// entries are pruned lazily here.
func (g *ReportGuard) Blocked(tag string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, at := range g.recent {
		if now.Sub(at) >= g.window {
			delete(g.recent, key)
		}
	}

	_, ok := g.recent[strings.ToLower(tag)]
	return ok
}
