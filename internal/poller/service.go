package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Service repeats the cycle of one resource on a fixed interval. The first
// cycle of the first Serve is forced; a supervisor restart resumes normal
// change detection.
type Service struct {
	resource Resource
	interval time.Duration
	poll     func(ctx context.Context, force bool) Outcome
	started  atomic.Bool
}

// TrainingInfoService polls training info every interval.
func (p *Poller) TrainingInfoService(interval time.Duration) *Service {
	return &Service{resource: TrainingInfo, interval: interval, poll: p.PollTrainingInfo}
}

// ActivitiesService polls the activity list every interval.
func (p *Poller) ActivitiesService(interval time.Duration) *Service {
	return &Service{resource: Activities, interval: interval, poll: p.PollActivities}
}

// Serve runs cycles until ctx is cancelled. It satisfies suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	force := !s.started.Swap(true)

	for {
		s.poll(ctx, force)
		force = false

		select {
		case <-time.After(s.interval):
			// continue
		case <-ctx.Done():
			log.Info().Str("resource", string(s.resource)).Msg("poll loop shutting down gracefully")
			return ctx.Err()
		}
	}
}

func (s *Service) String() string {
	return "poll-" + string(s.resource)
}
