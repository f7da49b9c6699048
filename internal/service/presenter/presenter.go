// Package presenter hands alerting alarms to a user supplied command, the
// minimal presentation host of alarm-ctl watch.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Environment variables passed to the command.
const (
	EnvAlarmID    = "ALARM_ID"
	EnvAlarmState = "ALARM_STATE"
)

// ErrUnsupportedOS indicates the current OS has no known shell.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// errEmptyCommand is returned when no command is configured.
var errEmptyCommand = errors.New("command must be provided")

// Present runs command through the platform shell with the alarm id and state
// in its environment and waits for it to finish:
// - Linux/macOS: `sh -c <command>`
// - Windows:     `cmd.exe /C <command>`
func Present(ctx context.Context, command, alarmID, state string) error {
	if strings.TrimSpace(command) == "" {
		return errEmptyCommand
	}

	cmd, err := shellCommand(ctx, command)
	if err != nil {
		return err
	}

	cmd.Env = append(os.Environ(),
		EnvAlarmID+"="+alarmID,
		EnvAlarmState+"="+state,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %q: %w: %s", command, err, strings.TrimSpace(string(output)))
	}

	return nil
}

// shellCommand wraps command in the platform shell.
func shellCommand(ctx context.Context, command string) (*exec.Cmd, error) {
	osName := strings.ToLower(runtime.GOOS)

	switch {
	case strings.Contains(osName, "linux") || strings.Contains(osName, "darwin"):
		return exec.CommandContext(ctx, "sh", "-c", command), nil
	case strings.Contains(osName, "windows"):
		return exec.CommandContext(ctx, "cmd.exe", "/C", command), nil
	default:
		return nil, fmt.Errorf("unsupported operating system: %s: %w", runtime.GOOS, ErrUnsupportedOS)
	}
}
