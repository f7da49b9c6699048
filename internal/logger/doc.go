// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and the leveled KV helpers used across services.
//
// The observation session, the event bus and the bridges take a context and
// extract the logger from it, so every line carries the component name.
// Failures that must not stop the caller go through a Reporter.
package logger
