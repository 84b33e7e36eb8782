package cli

import (
	"github.com/spf13/cobra"

	"github.com/nikhil/eavenchat/internal/config"
	"github.com/nikhil/eavenchat/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
}

// NewRootCommand creates the root command of the chat server.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "eaven",
		Short:         "Eaven chat server",
		Long:          "Channel messaging for the Eaven dashboard: direct, group and project conversations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func (o *RootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadFile(o.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New("eaven-chat", logger.Options{Env: cfg.Env, Level: cfg.LogLevel})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
