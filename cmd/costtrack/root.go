package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/costtrack/pkg/cli"
	"mercator-hq/costtrack/pkg/config"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "costtrack",
	Short: "Costtrack - monthly cost tracking for cloud resources",
	Long: `Costtrack keeps a monthly price estimate for every resource and for every
scope that owns it: service project links, services, service settings,
projects and customers.

It consumes resource lifecycle events, prices each resource's consumption
against the price list and propagates the projected monthly cost up the
ownership tree. A scheduled evaluator rolls estimates into new months and
raises alerts when a scope crosses its threshold or limit.

Exit codes:
  0  success
  1  invalid input or failed verification
  2  I/O or storage error
  3  partial result`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code matching the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, csv)")
}

// printResult writes data to the command's output in the --output format.
func printResult(cmd *cobra.Command, data any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}
