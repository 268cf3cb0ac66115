// Command uploadctl pushes documents to a valuation desk server and runs
// text extraction on them.
package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/valuedesk/backend/internal/client"
	"github.com/valuedesk/backend/internal/logger"
)

type rootFlags struct {
	api      string
	token    string
	timeout  time.Duration
	logLevel string
}

func (f *rootFlags) client() *client.Client {
	return client.NewClient(f.api, f.token, f.timeout)
}

// logger writes diagnostics to stderr so stdout stays parseable.
func (f *rootFlags) logger(cmd *cobra.Command) *slog.Logger {
	opts := logger.HandlerOptions{SlogOpts: &slog.HandlerOptions{Level: logger.ParseLevel(f.logLevel)}}
	return slog.New(opts.NewHandler(cmd.ErrOrStderr()))
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Upload and extract valuation documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.api, "api", envOr("VALUATION_DESK_API", "http://localhost:8090/api"), "API base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("VALUATION_DESK_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "per-request timeout")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(newPushCmd(flags), newOCRCmd(flags), newHealthCmd(flags))
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
