package health

import (
	"context"
	"sync"
	"time"
)

// SchedulerConfig mirrors the reference repo's ticker+worker-pool shape,
// narrowed to a handful of provider targets instead of a camera fleet.
type SchedulerConfig struct {
	Interval   time.Duration
	Targets    []Target
	PoolSize   int
}

type Scheduler struct {
	config  SchedulerConfig
	service *Service
	quit    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig, svc *Service) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 3
	}
	return &Scheduler{config: cfg, service: svc, quit: make(chan struct{})}
}

// Start launches the recurring probe loop. Call Stop to shut it down.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	jobs := make(chan Target, len(s.config.Targets))
	for i := 0; i < s.config.PoolSize; i++ {
		s.wg.Add(1)
		go s.worker(jobs)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.dispatch(jobs)
	for {
		select {
		case <-ticker.C:
			s.dispatch(jobs)
		case <-s.quit:
			close(jobs)
			return
		}
	}
}

func (s *Scheduler) dispatch(jobs chan<- Target) {
	for _, t := range s.config.Targets {
		select {
		case jobs <- t:
		default:
			// A slow previous round is still draining; skip this target
			// until the next tick rather than blocking the dispatch loop.
		}
	}
}

func (s *Scheduler) worker(jobs <-chan Target) {
	defer s.wg.Done()
	for t := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		s.service.Check(ctx, t)
		cancel()
	}
}
