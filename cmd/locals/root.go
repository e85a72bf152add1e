package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shbozz/locals/internal/config"
	"github.com/shbozz/locals/internal/logger"
	"github.com/shbozz/locals/internal/retry"
	"github.com/shbozz/locals/internal/store"
)

var (
	cfg        config.Config
	configPath string

	flagRoom     string
	flagNick     string
	flagDataDir  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:          "locals",
	Short:        "Serverless group chat for the local network",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("room") {
			loaded.Room = flagRoom
		}
		if flags.Changed("nick") {
			loaded.Nick = flagNick
		}
		if flags.Changed("data-dir") {
			loaded.DataDir = flagDataDir
		}
		if flags.Changed("log-level") {
			loaded.LogLevel = flagLogLevel
		}
		cfg = loaded

		if err := logger.Init(cfg.LogFile, cfg.LogLevel); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVarP(&flagRoom, "room", "r", "", "Room to join")
	flags.StringVarP(&flagNick, "nick", "n", "", "Username shown to other peers")
	flags.StringVarP(&flagDataDir, "data-dir", "d", ".", "Directory for room databases and identities")
	flags.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func storeOptions(c config.StoreConfig) store.Options {
	opts := store.DefaultOptions()
	if c.OpenRetryBackoff > 0 {
		opts.OpenRetry = retry.Once(c.OpenRetryBackoff)
	}
	if c.WriteRetryBackoff > 0 {
		opts.WriteRetry = retry.Once(c.WriteRetryBackoff)
	}
	if c.ClosePoll > 0 {
		opts.ClosePoll = c.ClosePoll
	}
	opts.CloseWait = c.CloseWait
	return opts
}
