package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EverCrawl/game/internal/logger"
	"github.com/EverCrawl/game/internal/shutdown"
	"github.com/EverCrawl/game/ws"
)

var (
	configFile string
	listenAddr string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "evercrawl",
	Short:         "Run the EverCrawl game server",
	Long:          "Accept WebSocket clients, authenticate them and run the fixed-rate game loop until interrupted.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log := logger.NewStdout("evercrawl", cfg.Log.Format, cfg.Log.Level)

		server, err := ws.New(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		sig, stop := shutdown.Notify(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.Run(sig.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "config.toml", "Configuration file (TOML)")
	rootCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address, overrides server.address")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level, overrides log.level")
}

// loadConfig reads the configuration file and applies flag overrides. A
// missing default file falls back to built-in defaults; a missing file named
// with --config is an error.
func loadConfig(cmd *cobra.Command) (*ws.Config, error) {
	cfg, err := ws.LoadConfig(configFile)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = ws.DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}

	if listenAddr != "" {
		cfg.Server.Address = listenAddr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "evercrawl: panic: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "evercrawl: %v\n", err)
		os.Exit(1)
	}
}
