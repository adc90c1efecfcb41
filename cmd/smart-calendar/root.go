package main

import (
	"github.com/rodruizronald/smart-calendar/internal/config"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "smart-calendar",
	Short: "Tells you when to leave for your next calendar event",
	Long: `smart-calendar locates the device, finds the next event on your Google
Calendar and estimates the travel time to it. It then announces whether
there is time left, you should leave now, or you are already late.

Commands:
  run       Run the device loop
  auth      Inspect or reset the stored authorization
  decide    Run the departure decision offline
  version   Display version information`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default "+config.DefaultConfigPath+")")
}

// loadConfig loads the file named by --config, or the default one.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
