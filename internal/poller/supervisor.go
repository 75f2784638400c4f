package poller

import (
	"time"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
)

// NewSupervisor returns a supervisor running both poll services. A service
// that exits unexpectedly is restarted with suture's default backoff;
// shutdown waits up to shutdownTimeout for each service to return.
func NewSupervisor(p *Poller, cfg config.PollConfig, shutdownTimeout time.Duration) *suture.Supervisor {
	sup := suture.New("xert-bridge", suture.Spec{
		EventHook: eventHook,
		Timeout:   shutdownTimeout,
	})

	sup.Add(p.TrainingInfoService(cfg.TrainingInfoInterval()))
	sup.Add(p.ActivitiesService(cfg.ActivitiesInterval()))

	return sup
}

func eventHook(e suture.Event) {
	level := zerolog.InfoLevel
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeStopTimeout:
		level = zerolog.ErrorLevel
	case suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
		level = zerolog.WarnLevel
	}

	log.WithLevel(level).
		Str("component", "supervisor").
		Fields(e.Map()).
		Msg(e.String())
}
