package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rodruizronald/smart-calendar/internal/announce"
	"github.com/rodruizronald/smart-calendar/internal/decision"
)

var (
	decideStart   string
	decideETA     time.Duration
	decideNow     string
	decideEpsilon time.Duration
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Run the departure decision offline",
	Long: `Decide whether to leave for an event starting at --start when the trip
takes --eta. No network access is needed.

Examples:
  smart-calendar decide --start 2024-05-01T10:00:00+02:00 --eta 25m
  smart-calendar decide --start 2024-05-01T10:00:00Z --eta 1h --now 2024-05-01T09:10:00Z`,
	RunE: runDecide,
}

func init() {
	decideCmd.Flags().StringVar(&decideStart, "start", "", "Event start, RFC3339")
	decideCmd.Flags().DurationVar(&decideETA, "eta", 0, "Travel time")
	decideCmd.Flags().StringVar(&decideNow, "now", "", "Current time, RFC3339 (default now)")
	decideCmd.Flags().DurationVar(&decideEpsilon, "epsilon", 0, "Window around the start that means leave now")
	_ = decideCmd.MarkFlagRequired("start")
	rootCmd.AddCommand(decideCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	start, err := time.Parse(time.RFC3339, decideStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	now := time.Now()
	if decideNow != "" {
		if now, err = time.Parse(time.RFC3339, decideNow); err != nil {
			return fmt.Errorf("invalid --now: %w", err)
		}
	}
	if decideETA < 0 {
		return fmt.Errorf("invalid --eta: %s is negative", decideETA)
	}

	r := decision.Decide(now, start, decideETA, decideEpsilon)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, r)
	fmt.Fprintln(out, announce.ForResult(r).Text())
	return nil
}
