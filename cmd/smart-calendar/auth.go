package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rodruizronald/smart-calendar/internal/tokenstore"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Inspect or reset the stored authorization",
	Long: `The device keeps one OAuth2 refresh token. While it is stored, the run
command refreshes access tokens without asking for a user code.

Commands:
  status    Show whether a refresh token is stored
  reset     Erase the refresh token to force a new authorization`,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a refresh token is stored",
	RunE:  runAuthStatus,
}

var authResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase the stored refresh token",
	RunE:  runAuthReset,
}

func init() {
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authResetCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	tok, err := tokenstore.NewFileStore(cfg.TokenPath()).Read()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tok == nil {
		fmt.Fprintln(out, "Not authorized. The next run will ask for a user code.")
		return nil
	}
	fmt.Fprintln(out, "Authorized.")
	if !tok.SavedAt.IsZero() {
		fmt.Fprintf(out, "Refresh token saved %s\n", tok.SavedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "Token file: %s\n", cfg.TokenPath())
	return nil
}

func runAuthReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := tokenstore.NewFileStore(cfg.TokenPath()).Erase(); err != nil {
		return fmt.Errorf("failed to erase token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Refresh token erased. The next run will ask for a user code.")
	return nil
}
