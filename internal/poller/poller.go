package poller

import (
	"context"
	"fmt"
	"sync"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/chinmina/xert-bridge/internal/fingerprint"
	"github.com/chinmina/xert-bridge/internal/webhook"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Authenticator supplies a valid bearer token for the current cycle.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
}

// Fetcher reads the upstream resources.
type Fetcher interface {
	TrainingInfo(ctx context.Context, token string) (map[string]any, error)
	Activities(ctx context.Context, token string, lookbackDays int) (map[string]any, error)
	ActivityDetail(ctx context.Context, token string, path string) (map[string]any, error)
}

// Notifier delivers a changed payload downstream.
type Notifier interface {
	Deliver(ctx context.Context, eventType string, payload map[string]any) error
}

// Resource identifies one of the independently polled data sets.
type Resource string

const (
	TrainingInfo Resource = "training_info"
	Activities   Resource = "activities"
)

func (r Resource) eventType() string {
	if r == Activities {
		return webhook.EventActivityList
	}
	return webhook.EventTrainingInfo
}

// State is the last payload delivered for a resource, with its fingerprint.
// The zero value means nothing has been delivered yet.
type State struct {
	Fingerprint string
	Payload     map[string]any
}

// Outcome describes how a single cycle ended.
type Outcome string

const (
	OutcomeSkipped        Outcome = "skipped"
	OutcomeUnchanged      Outcome = "unchanged"
	OutcomeDelivered      Outcome = "delivered"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
)

var (
	metricsOnce sync.Once
	cycles      metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/xert-bridge/internal/poller")

		var err error
		cycles, err = meter.Int64Counter(
			"poller.cycles",
			metric.WithDescription("Completed poll cycles by resource and outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Poller runs poll cycles for both resources. Each resource keeps its own
// state; a cycle only notifies when the fetched payload differs from the last
// one delivered, or when forced.
type Poller struct {
	auth     Authenticator
	api      Fetcher
	notifier Notifier

	lookbackDays int
	details      *rate.Limiter

	mu     sync.Mutex
	states map[Resource]State
}

func New(auth Authenticator, api Fetcher, notifier Notifier, cfg config.PollConfig) *Poller {
	initMetrics()

	limit := rate.Inf
	if cfg.DetailRateLimit > 0 {
		limit = rate.Limit(cfg.DetailRateLimit)
	}

	return &Poller{
		auth:         auth,
		api:          api,
		notifier:     notifier,
		lookbackDays: cfg.LookbackDays,
		details:      rate.NewLimiter(limit, 1),
		states:       map[Resource]State{},
	}
}

// State returns the last delivered state of r.
func (p *Poller) State(r Resource) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[r]
}

func (p *Poller) setState(r Resource, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[r] = s
}

// PollTrainingInfo runs one training info cycle.
func (p *Poller) PollTrainingInfo(ctx context.Context, force bool) Outcome {
	return p.cycle(ctx, TrainingInfo, force, func(ctx context.Context, token string) (map[string]any, error) {
		return p.api.TrainingInfo(ctx, token)
	})
}

// PollActivities runs one activity list cycle, enriching the most recent
// activities with their details before comparing.
func (p *Poller) PollActivities(ctx context.Context, force bool) Outcome {
	return p.cycle(ctx, Activities, force, func(ctx context.Context, token string) (map[string]any, error) {
		list, err := p.api.Activities(ctx, token, p.lookbackDays)
		if err != nil {
			return nil, err
		}
		return p.enrich(ctx, token, list)
	})
}

type fetchFunc func(ctx context.Context, token string) (map[string]any, error)

func (p *Poller) cycle(ctx context.Context, r Resource, force bool, fetch fetchFunc) (outcome Outcome) {
	tracer := otel.Tracer("github.com/chinmina/xert-bridge/internal/poller")
	ctx, span := tracer.Start(ctx, "poll_"+string(r))
	defer span.End()

	logger := log.With().Str("resource", string(r)).Bool("forced", force).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic during %s poll: %v", r, rec)
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll panicked")
			logger.Error().Interface("panic", rec).Msg("poll cycle panicked, recovered")
			outcome = OutcomeSkipped
		}

		span.SetAttributes(attribute.String("poll.outcome", string(outcome)))
		cycles.Add(ctx, 1, metric.WithAttributes(
			attribute.String("resource", string(r)),
			attribute.String("outcome", string(outcome)),
		))
	}()

	token, err := p.auth.Token(ctx)
	if err != nil {
		return p.fail(span, logger, err, "no valid token, skipping poll")
	}

	payload, err := fetch(ctx, token)
	if err != nil {
		return p.fail(span, logger, err, "fetch failed, skipping poll")
	}

	fp := fingerprint.Compute(payload)
	span.SetAttributes(attribute.String("poll.fingerprint", fp))

	if !force && fp == p.State(r).Fingerprint {
		logger.Debug().Str("fingerprint", fp).Msg("no change detected")
		span.SetStatus(codes.Ok, "unchanged")
		return OutcomeUnchanged
	}

	if err := p.notifier.Deliver(ctx, r.eventType(), payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		logger.Error().Err(err).Msg("webhook delivery failed")
		return OutcomeDeliveryFailed
	}

	p.setState(r, State{Fingerprint: fp, Payload: payload})

	logger.Info().Str("fingerprint", fp).Msg("change delivered")
	span.SetStatus(codes.Ok, "delivered")

	return OutcomeDelivered
}

func (p *Poller) fail(span trace.Span, logger zerolog.Logger, err error, msg string) Outcome {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	logger.Warn().Err(err).Msg(msg)
	return OutcomeSkipped
}
