package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "prefsim",
	Short: "Simulate persona preferences over a table of posts",
	Long: "prefsim asks a language model, role-playing a persona, whether it would like each post\n" +
		"in a CSV or Excel table and writes the table back with a Preference column.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (overrides global and project config)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
