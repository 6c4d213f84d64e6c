package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dirigent-io/dirigent/pkg/version"
)

// Exit codes: 1 for user errors (bad input, 4xx responses), 2 for system
// errors (connection failures, 5xx responses).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error   { return &exitError{code: 1, err: err} }
func systemError(err error) error { return &exitError{code: 2, err: err} }

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "dirigent",
		Short:         "Multi-agent SDLC workflow orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level",
		getEnv("DIRIGENT_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newStatusCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCancelCmd(),
		newRollbackCmd(),
		newSkipCmd(),
		newPoolsCmd(),
		newMetricsCmd(),
		newVersionCmd(),
	)
	return root
}

func configureLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dirigent version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.Full())
		},
	}
}
