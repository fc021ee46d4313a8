package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/doughnut/pkg/doughnut"
	"github.com/cuemby/doughnut/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "doughnutd",
	Short:   "Doughnut - a decentralized content-addressed block store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("doughnutd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a Doughnut node",
	Long: `Run starts a single Doughnut node: it loads (or creates, on first
run) this node's signing identity and certificate authority state,
joins the configured overlay, and serves the Dock RPC surface until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		var cfg doughnut.Config
		var err error
		if configPath != "" {
			cfg, err = doughnut.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		} else {
			cfg = doughnut.DefaultConfig()
		}

		if v, _ := cmd.Flags().GetString("node-id"); v != "" {
			cfg.NodeID = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
			cfg.ListenAddr = v
		}
		if v, _ := cmd.Flags().GetString("passphrase"); v != "" {
			cfg.Passphrase = v
		}

		logger := log.WithComponent("doughnutd")
		logger.Info().Str("node_id", cfg.NodeID).Str("listen_addr", cfg.ListenAddr).Msg("starting node")

		node, err := doughnut.New(cfg)
		if err != nil {
			return fmt.Errorf("start node: %w", err)
		}
		defer node.Close()

		logger.Info().Str("addr", node.Addr().String()).Msg("dock listener up")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "", "Path to a YAML config file")
	runCmd.Flags().String("node-id", "", "Override the configured node ID")
	runCmd.Flags().String("data-dir", "", "Override the configured data directory")
	runCmd.Flags().String("listen-addr", "", "Override the configured Dock listen address")
	runCmd.Flags().String("passphrase", "", "Override the configured identity passphrase")
}
