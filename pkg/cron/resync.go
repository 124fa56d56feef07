package cron

import (
	"context"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/rs/zerolog"
)

// Syncer exposes the continuity status and a way to force a save.
type Syncer interface {
	CloudStatus() state.CloudStatus
	Sync(ctx context.Context) error
}

// ResyncJob forces a save whenever the last one missed the remote tier.
// Healthy and unconfigured remotes are left alone.
func ResyncJob(s Syncer, logger zerolog.Logger) JobFunc {
	return func(ctx context.Context) error {
		if s.CloudStatus() != state.CloudError {
			return nil
		}
		logger.Info().Msg("Remote tier out of sync, forcing a save")
		return s.Sync(ctx)
	}
}
