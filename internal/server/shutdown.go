package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type hookDefinition struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks runs cleanup steps once the poll services have stopped.
// Hooks run in registration order and a failing hook does not prevent the
// remaining hooks from running.
type ShutdownHooks struct {
	hooks []hookDefinition
}

// AddContext registers a hook that honours the shutdown deadline. Nil hooks
// are ignored with a warning.
func (s *ShutdownHooks) AddContext(name string, hook func(context.Context) error) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	log.Debug().Str("hook", name).Msg("adding shutdown hook")
	s.hooks = append(s.hooks, hookDefinition{name: name, fn: hook})
}

// AddFunc registers a hook that cannot fail, such as releasing idle
// connections.
func (s *ShutdownHooks) AddFunc(name string, hook func()) {
	if hook == nil {
		log.Warn().Str("hook", name).Msg("attempted to add nil shutdown hook; ignoring")
		return
	}

	s.AddContext(name, func(context.Context) error {
		hook()
		return nil
	})
}

// Len is the number of registered hooks.
func (s *ShutdownHooks) Len() int {
	return len(s.hooks)
}

// Execute runs every hook with ctx and returns the failures joined together,
// each prefixed with its hook name.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	l := log.Ctx(ctx)

	var errs []error
	for _, hook := range s.hooks {
		hookLog := l.With().Str("hook", hook.name).Logger()
		start := time.Now()

		hookLog.Info().Msg("shutdown started")
		if err := hook.fn(ctx); err != nil {
			hookLog.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("shutdown failed")
			errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
			continue
		}
		hookLog.Info().Dur("elapsed", time.Since(start)).Msg("shutdown complete")
	}

	return errors.Join(errs...)
}

// ExecuteWithTimeout runs the hooks on a fresh context bounded by timeout.
// The caller's root context is usually already cancelled at this point.
func (s *ShutdownHooks) ExecuteWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.Execute(ctx)
}
