package logger

import "context"

// Reporter receives failures that must not interrupt the caller,
// for example skipped observation ticks or failed subscriber deliveries.
type Reporter interface {
	Report(ctx context.Context, err error)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, err error)

// Report calls f(ctx, err).
func (f ReporterFunc) Report(ctx context.Context, err error) {
	f(ctx, err)
}

// LogReporter writes reported failures to the context logger at error level.
type LogReporter struct{}

// Report implements Reporter.
func (LogReporter) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}

	ErrorKV(ctx, "Operation failed", "error", err)
}
