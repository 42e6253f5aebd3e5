package health

import (
	"context"
	"sync"
	"time"
)

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner executes readiness checks with a per-run timeout and
// caches the combined result briefly so probe storms do not hammer
// the dependencies.
type ProbeRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu       sync.Mutex
	cachedAt time.Time
	cachedOK bool
	cached   []CheckResult
}

func NewProbeRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Since(p.cachedAt) < p.cacheTTL {
		return p.cachedOK, p.cached
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ok := true
	results := make([]CheckResult, 0, len(p.checkers))
	for _, c := range p.checkers {
		res := c.Check(ctx)
		if !res.Healthy {
			ok = false
		}
		results = append(results, res)
	}

	p.cachedAt = time.Now()
	p.cachedOK = ok
	p.cached = results
	return ok, results
}
