package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goosewin/prefsim/internal/backend"
	_ "github.com/goosewin/prefsim/internal/backend/claude"
	_ "github.com/goosewin/prefsim/internal/backend/openai"
	_ "github.com/goosewin/prefsim/internal/backend/stub"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available prediction backends",
	Args:  cobra.NoArgs,
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	names := backend.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "No backends registered")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tREADY\tMODELS")
	fmt.Fprintln(writer, "----\t-----\t------")

	for _, name := range names {
		ready := "no"
		if instance, err := backend.New(name, backend.Options{APIKey: apiKeyForListing()}); err == nil {
			if err := instance.Check(); err == nil {
				ready = "yes"
			}
		}
		models, _ := backend.Models(name)
		label := name
		if name == backend.DefaultName() {
			label += " (default)"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", label, ready, strings.Join(models, ", "))
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Usage: prefsim run --backend <name> --input <file> --output <file>")
	return nil
}
