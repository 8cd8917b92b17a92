package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StartOverdueSweep runs SweepOverdue on the given cron schedule until the
// returned cron is stopped.
func StartOverdueSweep(ctx context.Context, spec string, svc ApplicationService, log zerolog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		res, err := svc.SweepOverdue(runCtx)
		if err != nil {
			log.Error().Err(err).Msg("overdue sweep failed")
			return
		}
		log.Debug().Int("overdue", len(res.Overdue)).Msg("overdue sweep finished")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid overdue sweep schedule %q: %w", spec, err)
	}

	c.Start()
	log.Info().Str("schedule", spec).Msg("overdue sweep scheduled")
	return c, nil
}
