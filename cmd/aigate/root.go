package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"garagehq/aigate/pkg/cli"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "aigate",
	Short: "aigate - per-tenant rate limits and monthly quotas for AI calls",
	Long: `aigate decides whether a tenant may make an AI call right now.

Each admission runs two checks in order:
  - a fixed-window rate limit per tenant (default 10 calls per 60s)
  - the tenant's monthly quota, counted per calendar month (YYYY-MM)

Denials carry a distinct reason: rate_limited or quota_exceeded.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, csv)")
}

// formatter returns the formatter selected by --output.
func formatter() (cli.Formatter, error) {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, cli.NewConfigError("--output", err.Error())
	}
	return cli.NewFormatter(format), nil
}
