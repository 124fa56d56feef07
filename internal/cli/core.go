package cli

import (
	"fmt"

	"github.com/kskip310/luminous/internal/config"
	"github.com/kskip310/luminous/internal/daemon"
	"github.com/spf13/cobra"
)

// openCore opens the storage stack for an offline command. The returned
// cleanup closes it along with the command logger.
func (o *rootOptions) openCore(cmd *cobra.Command) (*config.Config, *daemon.Core, func(), error) {
	cfg, _, err := o.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := o.commandLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	core, err := daemon.OpenCore(cfg, log.Component("cli"))
	if err != nil {
		log.Close()
		return nil, nil, nil, err
	}
	return cfg, core, func() {
		core.Close()
		log.Close()
	}, nil
}

// identityOrDefault picks the --identity flag, falling back to the
// configured identity.
func identityOrDefault(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.Identity
}
