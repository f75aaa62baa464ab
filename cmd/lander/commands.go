package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/lander/landing"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one engine cycle and print the report",
	Long: "Runs analyze, promote, kill, generate, publish and notify once.\n" +
		"Meant for cron. A cycle already in flight elsewhere is not an error.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.RunCycle(cmd.Context())
		if errors.Is(err, landing.ErrCycleBusy) {
			slog.Info("cycle skipped, another runner holds the lease")
			return printJSON(cmd, res)
		}
		if perr := printJSON(cmd, res); perr != nil && err == nil {
			err = perr
		}
		return err
	},
}

var (
	startContent string
	startElement string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an experiment from a champion content file",
	Long: "Reads a flat JSON object of copy fields, e.g.\n" +
		`  {"subtitle": "Deploy in one click", "cta": "Start free"}` + "\n" +
		"and starts an experiment with it as the only variant.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := os.ReadFile(startContent)
		if err != nil {
			return err
		}
		var champion landing.Content
		if err := champion.UnmarshalJSON(data); err != nil {
			return fmt.Errorf("%s: %w", startContent, err)
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		exp, err := e.StartExperiment(cmd.Context(), startElement, champion)
		if err != nil {
			return err
		}
		return printJSON(cmd, exp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running experiment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		exp, err := e.StopExperiment(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, exp)
	},
}

var includeKilled bool

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "Print the running experiment's variants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		rep, err := e.Variants(cmd.Context(), includeKilled)
		if err != nil {
			return err
		}
		return printJSON(cmd, rep)
	},
}

var (
	eventsExperiment string
	eventsLimit      int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the audit log, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		events, err := e.Events(cmd.Context(), eventsExperiment, eventsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, events)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Republish the snapshot from the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()
		snap, err := e.Publish(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, snap)
	},
}

func init() {
	startCmd.Flags().StringVar(&startContent, "content", "", "champion content JSON file")
	startCmd.Flags().StringVar(&startElement, "element", "", "page element under test (default from config)")
	startCmd.MarkFlagRequired("content")

	variantsCmd.Flags().BoolVar(&includeKilled, "include-killed", false, "include retired variants")

	eventsCmd.Flags().StringVar(&eventsExperiment, "experiment", "", "restrict to one experiment id")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "max events")
}
