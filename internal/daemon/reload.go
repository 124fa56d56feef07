package daemon

import (
	"github.com/kskip310/luminous/internal/config"
)

// applyConfig takes a reloaded config. The remote tier and the log level
// change in place; everything else is picked up on restart.
func (d *Daemon) applyConfig(next *config.Config) {
	d.configMu.Lock()
	prev := d.config
	merged := *prev
	merged.Remote = next.Remote
	merged.Logging.Level = next.Logging.Level
	d.config = &merged
	d.configMu.Unlock()

	if next.Remote != prev.Remote {
		d.logger.AddSecret(next.Remote.Token)
		d.core.Store.SetRemote(newRemote(next.Remote))
		d.log.Info().
			Bool("configured", d.core.Store.RemoteConfigured()).
			Msg("Remote tier reconfigured")
	}

	if next.Logging.Level != prev.Logging.Level {
		if err := d.logger.SetLevel(next.Logging.Level); err != nil {
			d.log.Warn().Err(err).Msg("Log level not changed")
		} else {
			d.log.Info().Str("level", next.Logging.Level).Msg("Log level changed")
		}
	}

	if restartRequired(prev, next) {
		d.log.Warn().Msg("Config changes to identity, model, gateway or tools take effect after restart")
	}
}

func restartRequired(prev, next *config.Config) bool {
	return prev.Identity != next.Identity ||
		prev.DataDir != next.DataDir ||
		prev.Model != next.Model ||
		prev.Gateway != next.Gateway ||
		prev.Tools != next.Tools ||
		prev.Memory != next.Memory ||
		prev.Sync != next.Sync
}
