// lander runs the autonomous landing-page experiment engine.
//
// Usage:
//
//	lander serve                       page, beacons, admin API, /metrics
//	lander cycle                       run one cycle (cron entry point)
//	lander start --content hero.json   start an experiment from a champion
//	lander stop                        stop the running experiment
//	lander variants [--include-killed] print the running variants
//	lander events [--limit n]          print the audit log
//	lander publish                     republish the snapshot
//	lander mcp                         operator tools over MCP stdio
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/lander/landing"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "lander",
	Short: "Autonomous A/B testing for a landing page",
	Long: "lander splits visitors across landing-page variants, promotes winners,\n" +
		"retires losers and generates new challengers on a daily cycle.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		setupLogger(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", env("LANDER_CONFIG", ""), "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(variantsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger installs a JSON slog handler. Only serve logs to stdout; the
// other commands print JSON or speak MCP there.
func setupLogger(cmd *cobra.Command) {
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := os.Stdout
	if cmd.Name() != serveCmd.Name() {
		out = os.Stderr
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl})))
}

func loadConfig() (*landing.Config, error) {
	cfg, err := landing.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func openEngine(opts ...landing.Option) (*landing.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return landing.New(cfg, append([]landing.Option{landing.WithLogger(slog.Default())}, opts...)...)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
