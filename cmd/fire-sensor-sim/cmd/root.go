package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firewatch/fire-relay/internal/config"
	"github.com/firewatch/fire-relay/internal/service/sensorsim"
	"github.com/firewatch/fire-relay/internal/version"
)

var (
	// sensorID identifies the simulated sensor node.
	sensorID string
	// smokeLevel is the reported smoke reading.
	smokeLevel float64
	// message switches the datagram to a terminal user message.
	message string
	// count is how many copies to send.
	count int
	// interval is the pause between copies.
	interval time.Duration

	// rootCmd represents the base command for simulating a field sensor.
	rootCmd = &cobra.Command{
		Use:   "fire-sensor-sim [target-address]",
		Short: "Send simulated smoke sensor datagrams to a relay server.",
		Long: `Sends simulated smoke sensor datagrams to a running relay server.

By default a FIRE_ALERT datagram is sent, which triggers the alarm on the relay
exactly as a real ESP8266 sensor would. Passing --message instead sends a
USER_MESSAGE datagram, which is forwarded to admin dashboards without
triggering the alarm.
Target address defaults to localhost on the standard sensor port.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			target := fmt.Sprintf("127.0.0.1:%d", config.DefaultSensorUDPPort)
			if len(args) > 0 {
				target = args[0]
			}

			return sensorsim.Run(ctx, &sensorsim.Options{
				TargetAddress: target,
				SensorID:      sensorID,
				SmokeLevel:    smokeLevel,
				Message:       message,
				Count:         count,
				Interval:      interval,
			})
		},
	}
)

// Execute runs the fire-sensor-sim CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&sensorID, "sensor-id", "s", "sim-sensor-1", "sensor node identifier")
	rootCmd.Flags().Float64VarP(&smokeLevel, "smoke-level", "l", 75, "reported smoke level")
	rootCmd.Flags().StringVarP(&message, "message", "m", "", "send a USER_MESSAGE with this text instead of a fire alert")
	rootCmd.Flags().IntVarP(&count, "count", "n", 1, "number of datagram copies to send")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "pause between datagram copies")
}
