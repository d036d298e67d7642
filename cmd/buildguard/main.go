package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"buildguard-desktop/internal/bootstrap"
	"buildguard-desktop/internal/config"
	"buildguard-desktop/internal/events"
	"buildguard-desktop/internal/logging"
)

var (
	configFile string
	logLevel   string
	verbose    bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "buildguard",
	Short: "Headless BuildGuard client",
	Long:  `Runs BuildGuard exports and follows backend event streams without the desktop window, using the profiles saved by the desktop app.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if _, err := logging.Init(cfg.LogLevel, verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $BUILDGUARD_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Human-readable development logging")

	rootCmd.AddCommand(newExportCmd(), newWatchCmd(), newHistoryCmd())
}

// withServices opens the services for one command run and closes them after.
// ctx is cancelled on SIGINT or SIGTERM.
func withServices(emitter events.Emitter, run func(ctx context.Context, s *bootstrap.Services) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer zap.L().Sync()

	services, err := bootstrap.Open(ctx, cfg, emitter)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			zap.S().Warnf("Error during shutdown: %v", err)
		}
	}()

	return run(ctx, services)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
