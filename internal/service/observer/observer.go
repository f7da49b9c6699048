package observer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/oshokin/alarm-bridge/internal/api/grpc/bridge"
	"github.com/oshokin/alarm-bridge/internal/api/websocket"
	"github.com/oshokin/alarm-bridge/internal/bus"
	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/logger"
	"github.com/oshokin/alarm-bridge/internal/session"
)

// Options controls the alarm-observer process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// WebsocketAddress overrides the websocket listen address from config.
	WebsocketAddress string
	// NoAutoStart leaves the session stopped until a client asks to observe.
	NoAutoStart bool
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// startRetryInterval is the pause between attempts to start observing.
const startRetryInterval = time.Second

// shutdownTimeout bounds the websocket server shutdown.
const shutdownTimeout = 5 * time.Second

// Run starts the observer and blocks until ctx is canceled or serving fails.
//
//nolint:funlen // Wiring reads best in one place.
func Run(ctx context.Context, opts *Options) error {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	configureLogger(settings)

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "alarm-observer")

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	src, err := openSource(ctx, settings.Source)
	if err != nil {
		return fmt.Errorf("open alarm source: %w", err)
	}

	defer func() {
		if err := src.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close alarm source", "error", err)
		}
	}()

	if src.run != nil {
		go src.run(ctx)
	}

	relays, err := openRelays(ctx, settings.Relays, settings.Timeout)
	if err != nil {
		return err
	}

	// Relay clients close after the bus has drained into them.
	defer closeRelays(ctx, relays)

	// The bus outlives ctx so Shutdown can drain it.
	events := bus.New(context.WithoutCancel(ctx),
		bus.WithMaxAttempts(settings.Bus.MaxAttempts),
		bus.WithRetryBackoff(settings.Bus.RetryBackoff),
		bus.WithPendingWarning(settings.Bus.PendingWarning),
	)

	defer func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := events.Shutdown(drainCtx); err != nil {
			logger.WarnKV(ctx, "Event bus did not drain", "error", err)
		}
	}()

	for _, r := range relays {
		if _, err = events.Subscribe(r.handler, r.kinds...); err != nil {
			return fmt.Errorf("attach %s relay: %w", r.name, err)
		}
	}

	sess, err := session.New(src.reader, events,
		session.WithPollInterval(settings.Session.PollInterval),
		session.WithForcePolling(settings.Session.ForcePolling),
		session.WithSourceTimeout(settings.Session.SourceTimeout),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	defer sess.Stop()

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer()
	bridge.Register(grpcServer, bridge.NewServer(sess, events, src.controller))

	websocketAddress := settings.WebsocketAddress
	if opts.WebsocketAddress != "" {
		websocketAddress = opts.WebsocketAddress
	}

	var httpServer *http.Server

	if websocketAddress != "" {
		httpServer, err = serveWebsocket(ctx, websocketAddress, websocket.NewHandler(ctx, events))
		if err != nil {
			_ = lis.Close()
			return err
		}
	}

	logger.InfoKV(ctx, "Alarm observer listening",
		"listen_address", listenAddress,
		"websocket_address", websocketAddress,
		"source", settings.Source.Kind,
		"relays", len(relays))

	if !opts.NoAutoStart {
		startCtx, cancelStart := context.WithCancel(ctx)
		started := make(chan struct{})

		go func() {
			defer close(started)

			startObserving(startCtx, sess, startRetryInterval)
		}()

		// The session must not be started after the deferred Stop.
		defer func() {
			cancelStart()
			<-started
		}()
	}

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down servers")

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			_ = httpServer.Shutdown(shutdownCtx)

			cancel()
		}

		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Alarm observer stopped")

	return nil
}

// startObserving keeps trying to start the session until the source answers
// or ctx is canceled.
func startObserving(ctx context.Context, sess *session.Session, interval time.Duration) {
	attempt := func() bool {
		if err := sess.Start(ctx); err != nil {
			logger.WarnKV(ctx, "Alarm source not ready, retrying", "error", err, "retry_in", interval)
			return false
		}

		return true
	}

	if attempt() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if attempt() {
				return
			}
		}
	}
}

// serveWebsocket starts the websocket event stream in the background.
func serveWebsocket(ctx context.Context, address string, handler *websocket.Handler) (*http.Server, error) {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	server := &http.Server{
		Handler:           handler.Mux(),
		ReadHeaderTimeout: shutdownTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorKV(ctx, "Websocket server failed", "error", err)
		}
	}()

	return server, nil
}

// configureLogger applies the configured level and format to the global logger.
func configureLogger(settings *config.Config) {
	level, ok := logger.ParseLogLevel(settings.LogLevel)
	if !ok {
		return
	}

	logger.SetLevel(level)

	if settings.LogFormat == logger.FormatJSON {
		logger.SetLogger(logger.NewWithFormat(logger.FormatJSON, nil))
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	// Parse the address to extract port.
	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
