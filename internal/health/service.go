package health

import (
	"context"
	"sync"
	"time"
)

// Target is one provider endpoint this service depends on.
type Target struct {
	Name    string // "vision" | "speech" | "remote_gpu"
	BaseURL string
}

// Result is the last known outcome of probing a Target.
type Result struct {
	Target    string
	Status    Status
	RTTMillis int
	CheckedAt time.Time
}

// Service holds the most recently probed Result for every configured
// Target, refreshed by a Scheduler in the background.
type Service struct {
	prober Prober

	mu      sync.RWMutex
	results map[string]Result
}

func NewService(prober Prober) *Service {
	return &Service{prober: prober, results: make(map[string]Result)}
}

// Check probes t immediately and stores the result.
func (s *Service) Check(ctx context.Context, t Target) Result {
	status, rtt := s.prober.Probe(ctx, t.BaseURL)
	res := Result{Target: t.Name, Status: status, RTTMillis: rtt, CheckedAt: time.Now()}
	s.mu.Lock()
	s.results[t.Name] = res
	s.mu.Unlock()
	return res
}

// Status returns the last cached Result for a target name, and whether one
// exists yet.
func (s *Service) Status(name string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[name]
	return r, ok
}

// Snapshot returns every cached Result.
func (s *Service) Snapshot() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	return out
}
