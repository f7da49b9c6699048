package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oshokin/alarm-bridge/internal/config"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/service/common"
)

// Options selects the observer to talk to.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides server address from config when specified.
	ServerAddress string
}

// Actions accepted by Act.
const (
	ActionCancel  = "cancel"
	ActionDismiss = "dismiss"
	ActionSnooze  = "snooze"
	ActionPause   = "pause"
	ActionResume  = "resume"
)

// errUnknownAction is returned by Act for unsupported actions.
var errUnknownAction = errors.New("unknown action")

// Connect loads settings and dials the observer. When the settings file is
// missing the defaults are used.
func Connect(ctx context.Context, opts *Options) (*common.Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.DebugKV(ctx, "Using default settings", "error", err)

		cfg = config.Default()
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Failed to detect actor", "error", err)
	}

	return common.Dial(ctx, serverAddress,
		common.WithCallTimeout(cfg.Timeout),
		common.WithActor(actor),
	)
}

// Status prints whether the observer session is running.
func Status(ctx context.Context, client *common.Client, out io.Writer) error {
	observing, err := client.IsObserving(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, observingText(observing))

	return err
}

// Start starts observation and prints the resulting status.
func Start(ctx context.Context, client *common.Client, out io.Writer) error {
	observing, err := client.StartObserving(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, observingText(observing))

	return err
}

// Stop stops observation and prints the resulting status.
func Stop(ctx context.Context, client *common.Client, out io.Writer) error {
	observing, err := client.StopObserving(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, observingText(observing))

	return err
}

// List prints the alarms held by the authority as a table.
func List(ctx context.Context, client *common.Client, out io.Writer) error {
	alarms, err := client.ListAlarms(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATE\tFIRE DATE")

	for _, a := range alarms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.State, formatFireDate(a.FireDate))
	}

	return w.Flush()
}

// Schedule registers an alarm. when is an RFC 3339 instant or a duration from now.
func Schedule(ctx context.Context, client *common.Client, out io.Writer, when string) error {
	var (
		a   domain.Alarm
		err error
	)

	if fireDate, parseErr := time.Parse(time.RFC3339, when); parseErr == nil {
		a, err = client.ScheduleAt(ctx, fireDate)
	} else if d, parseErr := time.ParseDuration(when); parseErr == nil && d > 0 {
		a, err = client.ScheduleIn(ctx, d)
	} else {
		return fmt.Errorf("%q is neither an RFC 3339 time nor a positive duration", when)
	}

	if err != nil {
		return err
	}

	return printAlarm(out, a)
}

// Act applies a user action to one alarm and prints its new state.
func Act(ctx context.Context, client *common.Client, out io.Writer, action, id string) error {
	var call func(context.Context, string) (domain.Alarm, error)

	switch strings.ToLower(action) {
	case ActionCancel:
		call = client.Cancel
	case ActionDismiss:
		call = client.Stop
	case ActionSnooze:
		call = client.Snooze
	case ActionPause:
		call = client.Pause
	case ActionResume:
		call = client.Resume
	default:
		return fmt.Errorf("%w %q", errUnknownAction, action)
	}

	a, err := call(ctx, id)
	if err != nil {
		return err
	}

	return printAlarm(out, a)
}

// printAlarm writes one alarm on a line.
func printAlarm(out io.Writer, a domain.Alarm) error {
	_, err := fmt.Fprintf(out, "%s %s %s\n", a.ID, a.State, formatFireDate(a.FireDate))

	return err
}

// observingText renders the session status.
func observingText(observing bool) string {
	if observing {
		return "observing"
	}

	return "stopped"
}

// formatFireDate renders an optional fire date.
func formatFireDate(fireDate *time.Time) string {
	if fireDate == nil {
		return "-"
	}

	return fireDate.Local().Format(time.RFC3339)
}
