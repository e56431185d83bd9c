// Package main is the GoChat server entry point.
//
// Start the server:
//
//	gochat serve --config gochat.yaml
//
// Every setting can also come from the environment (SERVER_PORT,
// ALLOWED_ORIGINS, DB_PATH, SESSION_SECRET, ...).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set through -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gochat",
		Short:         "Real-time presence and chat-room server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GOCHAT_CONFIG"), "path to YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the chat server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "gochat %s (%s)\n", version, commit)
			},
		},
	)
	return root
}
