// Command tootrank ranks a Mastodon home timeline by what you engage with.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ibeckermayer/tootrank/internal/config"
	"github.com/ibeckermayer/tootrank/internal/logging"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:           "tootrank",
		Short:         "On-device ranking and recommendations for your Mastodon timeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			level := cfg.Log.Level
			if logLevel != "" {
				level = logLevel
			}
			logger = logging.Init(level, "tootrank")
			return nil
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(
		loginCmd,
		logoutCmd,
		timelineCmd,
		recommendCmd,
		recalcCmd,
		pruneCmd,
		likeCmd,
		repostCmd,
		commentCmd,
		scoreCmd,
		viewCmd,
		runCmd,
		openCmd,
	)
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist yet.
func loadConfig() (*config.Config, error) {
	var (
		c   *config.Config
		err error
	)
	if configPath != "" {
		c, err = config.LoadFrom(configPath)
	} else {
		c, err = config.Load()
	}
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return c, err
}
