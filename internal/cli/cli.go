// Package cli declares the talkingbot command tree. Command behavior lives
// behind Handlers so the tree can be exercised without audio or network.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// BinaryName is the root command name.
const BinaryName = "talkingbot"

// Options carries flags shared by every subcommand.
type Options struct {
	ConfigPath string
	// Lines is the number of log lines the logs command asks for; 0 means all retained.
	Lines int
}

// Handlers implements each subcommand.
type Handlers interface {
	Run(ctx context.Context, opts Options) error
	Serve(ctx context.Context, opts Options) error
	Forward(ctx context.Context, opts Options, command string) error
	Status(ctx context.Context, opts Options) error
	Logs(ctx context.Context, opts Options) error
	Tools(ctx context.Context, opts Options) error
	Devices(ctx context.Context, opts Options) error
	Doctor(ctx context.Context, opts Options) error
	Version(ctx context.Context) error
}

// UsageError marks argument and flag mistakes; callers exit with status 2.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// IsUsageError reports whether err came from bad arguments rather than a failed command.
func IsUsageError(err error) bool {
	var usage *UsageError
	if errors.As(err, &usage) {
		return true
	}
	return err != nil && strings.HasPrefix(err.Error(), "unknown command")
}

// NewRootCommand builds the command tree bound to h.
func NewRootCommand(h Handlers, version string) *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   BinaryName,
		Short: "Realtime voice conversations from the terminal",
		Long: `talkingbot holds a spoken conversation with a realtime speech model.

It streams the microphone to the model, plays the spoken reply, lets the user
interrupt the model by talking over it, and runs tools the model asks for.
Use "run" for a foreground conversation, or "serve" plus "start"/"stop" to
control a background daemon.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "",
		"config file path (default: $XDG_CONFIG_HOME/talkingbot/config.jsonc)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Hold one conversation in the foreground until it ends or Ctrl-C",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return h.Run(cmd.Context(), *opts)
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run the control daemon; conversations are started with \"start\"",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return h.Serve(cmd.Context(), *opts)
			},
		},
		forwardCommand(h, opts, "start", "Start a conversation on the running daemon"),
		forwardCommand(h, opts, "stop", "Stop the daemon's live conversation"),
		&cobra.Command{
			Use:   "status",
			Short: "Print the daemon's conversation state",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return h.Status(cmd.Context(), *opts)
			},
		},
		logsCommand(h, opts),
		&cobra.Command{
			Use:   "tools",
			Short: "List the tools offered to the model",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return h.Tools(cmd.Context(), *opts)
			},
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List available input devices",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return h.Devices(cmd.Context(), *opts)
			},
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Run configuration and environment checks",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return h.Doctor(cmd.Context(), *opts)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return h.Version(cmd.Context())
			},
		},
	)
	return root
}

func forwardCommand(h Handlers, opts *Options, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.Forward(cmd.Context(), *opts, name)
		},
	}
}

func logsCommand(h Handlers, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent conversation events from the daemon",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Lines < 0 {
				return &UsageError{Err: fmt.Errorf("--lines must be >= 0, got %d", opts.Lines)}
			}
			return h.Logs(cmd.Context(), *opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Lines, "lines", "n", 50, "number of lines to print (0 for all retained)")
	return cmd
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &UsageError{Err: fmt.Errorf("unexpected arguments after command %q: %s", cmd.Name(), strings.Join(args, " "))}
	}
	return nil
}
