package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kskip310/luminous/internal/config"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		force    bool
		identity string
		provider string
		apiKey   string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Write a configuration file with defaults and a freshly generated gateway
shared secret. Credentials can be given as flags or later through LUMINOUS_*
environment variables, e.g. LUMINOUS_MODEL_API_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(opts.cfgFile)
			path := loader.GetConfigPath()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := config.DefaultConfig()
			cfg.Identity = identity
			if provider != "" {
				cfg.Model.Provider = provider
			}
			cfg.Model.APIKey = apiKey

			secret, err := gonanoid.New(32)
			if err != nil {
				return fmt.Errorf("failed to generate shared secret: %w", err)
			}
			cfg.Gateway.SharedSecret = secret

			if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
				return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
			}
			if err := loader.Save(cfg); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration saved to: %s\n", path)
			fmt.Fprintf(out, "Gateway shared secret: %s\n", secret)
			fmt.Fprintln(out, "Start the agent with: luminous worker")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&identity, "identity", "default", "identity whose session the worker loads")
	cmd.Flags().StringVar(&provider, "provider", "", "model provider (gemini, anthropic, openai)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "model provider API key")
	return cmd
}
