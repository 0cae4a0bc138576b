package sensorsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/firewatch/fire-relay/internal/domain/emergency"
	"github.com/firewatch/fire-relay/internal/logger"
)

// Options configures a simulated sensor transmission.
type Options struct {
	// TargetAddress is the relay's UDP endpoint, host:port.
	TargetAddress string

	// SensorID identifies the simulated sensor node.
	SensorID string

	// SmokeLevel is the reported reading of a fire alert datagram.
	SmokeLevel float64

	// Message turns the datagram into a terminal USER_MESSAGE instead of
	// a FIRE_ALERT when non-empty.
	Message string

	// Count is how many copies of the datagram to send.
	Count int

	// Interval is the pause between copies.
	Interval time.Duration
}

// writeTimeout bounds a single datagram send.
const writeTimeout = 5 * time.Second

// Run sends the configured datagram to the relay, repeating per Options.Count.
// Real sensor firmware resends alerts on a timer, so sending several copies is
// the closest simulation of field behavior.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "fire-sensor-sim")

	payload := map[string]any{
		"type":        emergency.SensorTypeFireAlert,
		"sensor_id":   opts.SensorID,
		"smoke_level": opts.SmokeLevel,
	}
	if opts.Message != "" {
		payload = map[string]any{
			"type":      emergency.SensorTypeUserMessage,
			"sensor_id": opts.SensorID,
			"text":      opts.Message,
		}
	}

	datagram, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode datagram: %w", err)
	}

	conn, err := net.Dial("udp", opts.TargetAddress)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}

	defer func() {
		_ = conn.Close()
	}()

	count := opts.Count
	if count < 1 {
		count = 1
	}

	for i := 0; i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}

		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}

		if _, err := conn.Write(datagram); err != nil {
			return fmt.Errorf("send datagram: %w", err)
		}

		logger.InfoKV(ctx, "Datagram sent",
			"target", opts.TargetAddress, "type", payload["type"], "attempt", i+1)
	}

	return nil
}
