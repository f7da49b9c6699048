package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-bridge/internal/bus"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/service/common"
	"github.com/oshokin/alarm-bridge/internal/service/ctl"
	"github.com/oshokin/alarm-bridge/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// serverAddress overrides the observer address from config.
	serverAddress string
	// onFire is the command run for every alerting alarm by watch.
	onFire string

	// rootCmd represents the base command of the control tool.
	rootCmd = &cobra.Command{
		Use:   "alarm-ctl",
		Short: "Control an alarm observer and follow its events.",
		Long: `Talks to a running alarm-observer over gRPC.

The observer address comes from ServerAddress in the configuration file and can
be overridden with --server. Alarm actions (schedule, cancel, dismiss, snooze,
pause, resume) require an observer whose alarm source accepts them.`,
		SilenceUsage: true,
	}
)

// withClient runs fn with a connected client and a signal-aware context.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, client *common.Client) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client, err := ctl.Connect(ctx, &ctl.Options{
		ConfigPath:    configPath,
		ServerAddress: serverAddress,
	})
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	return fn(ctx, client)
}

// simpleCommand builds a subcommand without arguments.
func simpleCommand(use, short string, run func(context.Context, *common.Client, *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(ctx context.Context, client *common.Client) error {
				return run(ctx, client, cmd)
			})
		},
	}
}

// actionCommand builds a subcommand applying action to one alarm id.
func actionCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, client *common.Client) error {
				return ctl.Act(ctx, client, cmd.OutOrStdout(), action, args[0])
			})
		},
	}
}

// Execute runs the alarm-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().
		StringVarP(&serverAddress, "server", "s", "", "observer address, overrides configuration")

	rootCmd.AddCommand(
		simpleCommand("status", "Print whether the observer is observing.",
			func(ctx context.Context, client *common.Client, cmd *cobra.Command) error {
				return ctl.Status(ctx, client, cmd.OutOrStdout())
			}),
		simpleCommand("start", "Start observing the alarm source.",
			func(ctx context.Context, client *common.Client, cmd *cobra.Command) error {
				return ctl.Start(ctx, client, cmd.OutOrStdout())
			}),
		simpleCommand("stop", "Stop observing the alarm source.",
			func(ctx context.Context, client *common.Client, cmd *cobra.Command) error {
				return ctl.Stop(ctx, client, cmd.OutOrStdout())
			}),
		simpleCommand("list", "List the alarms held by the alarm source.",
			func(ctx context.Context, client *common.Client, cmd *cobra.Command) error {
				return ctl.List(ctx, client, cmd.OutOrStdout())
			}),
		&cobra.Command{
			Use:   "schedule <RFC3339 time | duration>",
			Short: "Schedule an alarm at a time or after a duration.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, func(ctx context.Context, client *common.Client) error {
					return ctl.Schedule(ctx, client, cmd.OutOrStdout(), args[0])
				})
			},
		},
		actionCommand(ctl.ActionCancel, "Cancel an alarm that has not started alerting."),
		actionCommand(ctl.ActionDismiss, "Dismiss an alerting alarm."),
		actionCommand(ctl.ActionSnooze, "Snooze an alerting alarm."),
		actionCommand(ctl.ActionPause, "Pause a scheduled alarm."),
		actionCommand(ctl.ActionResume, "Resume a paused alarm."),
		watchCommand(),
	)
}

// watchCommand follows the event stream.
func watchCommand() *cobra.Command {
	watch := &cobra.Command{
		Use:   "watch [kind...]",
		Short: "Print alarm events as they happen.",
		Long: fmt.Sprintf(`Prints alarm events until interrupted, reconnecting when the observer goes away.

Kinds filter the stream: %v. With --on-fire the given shell command runs for
every alarm that starts alerting, with ALARM_ID and ALARM_STATE in its environment.`, bus.Kinds()),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make([]bus.Kind, 0, len(args))

			for _, arg := range args {
				kind, err := bus.ParseKind(arg)
				if err != nil {
					return err
				}

				kinds = append(kinds, kind)
			}

			return withClient(cmd, func(ctx context.Context, client *common.Client) error {
				return ctl.Watch(ctx, client, cmd.OutOrStdout(), ctl.WatchOptions{
					Kinds:  kinds,
					OnFire: onFire,
				})
			})
		},
	}

	watch.Flags().StringVar(&onFire, "on-fire", "", "shell command to run when an alarm fires")

	return watch
}
