package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xpanvictor/liverelay/internal/app"
	"github.com/xpanvictor/liverelay/internal/config"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE:  runServe,
	}
}

// loadSettings binds changed flags over env, config file and defaults.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	v := viper.New()
	for _, name := range []string{"host", "port", "debug"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	}
	return config.Load(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	cfg, err := loadSettings(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := Logger.New(cfg.Debug)
	logger.Infof("Starting liverelay %s in %s mode", version, cfg.Env)

	a, err := app.NewApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if code := a.Run(ctx); code != 0 {
		return &exitCodeError{code: code}
	}
	logger.Info("Shutdown system")
	return nil
}
