package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmcdole/zimshelf/internal/app"
	"github.com/mmcdole/zimshelf/internal/config"
	"github.com/mmcdole/zimshelf/internal/logging"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
	logFile io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zimshelf",
	Short: "Offline ZIM library index",
	Long: `zimshelf keeps an index of ZIM archives from the online catalog and from
library directories on this device.

Example usage:
  zimshelf refresh             # Pull the remote catalog
  zimshelf scan                # Find ZIM files in the library directories
  zimshelf list --on-device    # List archives stored locally
  zimshelf browse              # Interactive browser
  zimshelf watch               # Rescan whenever library directories change`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
			logFile = nil
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBrowse(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/zimshelf/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initConfig loads configuration and sets up the file logger.
func initConfig() error {
	// A failed previous run skips PersistentPostRun
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	var err error
	cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "DEBUG"
	}

	logger, logFile, err = logging.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = logging.NullLogger()
	}
	slog.SetDefault(logger)

	logger.Debug("configuration loaded", "data_dir", cfg.Library.DataDir, "dirs", cfg.Library.Dirs)
	return nil
}

// openApp opens the library with the loaded configuration.
func openApp() (*app.App, error) {
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}
	return a, nil
}

// signalContext is cancelled on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
