package schema

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically forces a full Cache.Refresh even absent an explicit
// invalidation — a defense against a cache that missed its pubsub broadcast
// (e.g. an instance that was partitioned from Redis during a migration).
type Sweeper struct {
	cron *cron.Cron
}

// StartSweep schedules a periodic refresh at the given cron spec (e.g.
// "@every 5m"). Call Stop to shut it down during graceful termination.
func StartSweep(cache *Cache, spec string) (*Sweeper, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := cache.Refresh(context.Background()); err != nil {
			log.Warn().Err(err).Msg("schema: periodic sweep refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return &Sweeper{cron: c}, nil
}

// Stop halts the sweeper, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
