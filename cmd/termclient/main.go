// Command termclient opens a remote shell in a project workspace through
// the terminal gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "termclient --project <name>",
		Short: "Open a terminal in a project workspace",
		Long: "Connects to the terminal gateway and attaches this terminal to a fresh shell\n" +
			"running in the project's directory. When the connection drops, press r to\n" +
			"reconnect (a new shell is started) or q to quit.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.project == "" {
				return fmt.Errorf("--project is required")
			}
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.server, "server", "s", envOr("TERMINAL_SERVER", "http://localhost:3001"), "gateway base URL")
	flags.StringVarP(&opts.project, "project", "p", "", "project to open")
	flags.StringVar(&opts.token, "token", os.Getenv("TERMINAL_TOKEN"), "access token (default $TERMINAL_TOKEN)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
