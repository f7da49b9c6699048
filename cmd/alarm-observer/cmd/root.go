package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-bridge/internal/config"
	"github.com/oshokin/alarm-bridge/internal/service/observer"
	"github.com/oshokin/alarm-bridge/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// websocketAddress overrides the websocket listen address.
	websocketAddress string
	// noAutoStart keeps the session stopped until a client starts it.
	noAutoStart bool

	// rootCmd represents the base command for running the observer.
	rootCmd = &cobra.Command{
		Use:   "alarm-observer [listen-address]",
		Short: "Observe an alarm source and stream its changes.",
		Long: `Starts the alarm observer: it watches the configured alarm source, turns every
difference between successive snapshots into events and streams them to clients.

Events are served over gRPC on the port of ServerAddress from the configuration
file (or on the listen address given as argument), over websocket when a
websocket address is configured, and to the configured Redis stream and MQTT relays.
Observation starts automatically and is retried until the source answers.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &observer.Options{
				ConfigPath:       configPath,
				ListenAddress:    listenAddress,
				WebsocketAddress: websocketAddress,
				NoAutoStart:      noAutoStart,
			}

			return observer.Run(ctx, options)
		},
	}
)

// Execute runs the alarm-observer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&websocketAddress, "websocket", "w", "", "websocket listen address, overrides configuration")
	rootCmd.Flags().BoolVar(&noAutoStart, "no-autostart", false, "wait for a client to start observing")
}
