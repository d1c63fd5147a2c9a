package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"perfd/internal/app"
)

type serveOptions struct {
	configPath string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := serveOptions{
		configPath: "perfd.yaml",
	}

	root := &cobra.Command{
		Use:   "perfd",
		Short: "Adaptive performance monitoring and routing engine",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to engine config file")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		resolveConfigPath(cmd.Flags(), &opts)
	}

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the performance engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return app.Serve(ctx, app.ServeConfig{
				ConfigPath: opts.configPath,
				Logger:     logger,
			})
		},
	}

	return cmd
}

func newValidateCmd(logger *zap.Logger, opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate engine configuration without starting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ValidateConfig(cmd.Context(), opts.configPath, logger)
		},
	}

	return cmd
}

// resolveConfigPath lets PERFD_CONFIG supply the config path when the
// flag was not set explicitly.
func resolveConfigPath(flags *pflag.FlagSet, opts *serveOptions) {
	if flag := flags.Lookup("config"); flag != nil && flag.Changed {
		return
	}
	if env := os.Getenv("PERFD_CONFIG"); env != "" {
		opts.configPath = env
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
