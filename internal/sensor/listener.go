package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/firewatch/fire-relay/internal/domain/emergency"
	"github.com/firewatch/fire-relay/internal/logger"
)

// maxDatagramSize bounds one sensor datagram. Sensor payloads are tiny JSON
// objects, anything larger is garbage.
const maxDatagramSize = 2048

// Alarm is the subset of the relay hub the bridge feeds into. Both methods
// are thread-safe submissions that schedule work onto the hub without making
// the receive loop wait for completion.
type Alarm interface {
	SensorFireAlert(event *emergency.SensorEvent)
	SensorUserMessage(event *emergency.SensorEvent)
}

// Listener receives fire-sensor datagrams over UDP on a dedicated goroutine.
// It must never block the hub and must keep listening for the process
// lifetime regardless of malformed input or transient socket errors.
type Listener struct {
	conn  net.PacketConn
	alarm Alarm
}

// NewListener binds the UDP port and returns a ready-to-run listener.
func NewListener(ctx context.Context, port int, alarm Alarm) (*Listener, error) {
	lc := net.ListenConfig{}

	conn, err := lc.ListenPacket(ctx, "udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on UDP port %d: %w", port, err)
	}

	return &Listener{
		conn:  conn,
		alarm: alarm,
	}, nil
}

// LocalAddr returns the bound UDP address.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Run blocks on datagram receipt until the context is canceled. Malformed
// payloads and transient socket errors are logged and the loop continues.
func (l *Listener) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "sensor-listener")

	// Closing the socket is the only way to interrupt a blocking read.
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	logger.InfoKV(ctx, "UDP sensor listener started", "addr", l.conn.LocalAddr())

	buf := make([]byte, maxDatagramSize)

	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Info(ctx, "UDP sensor listener stopped")

				return nil
			}

			logger.ErrorKV(ctx, "UDP receive failed", "error", err)

			continue
		}

		l.handleDatagram(ctx, addr, buf[:n])
	}
}

// handleDatagram decodes one datagram and dispatches it by its type
// discriminator. Unknown types are silently ignored.
func (l *Listener) handleDatagram(ctx context.Context, addr net.Addr, data []byte) {
	event, err := emergency.ParseSensorEvent(data)
	if err != nil {
		logger.WarnKV(ctx, "Discarding malformed sensor datagram", "addr", addr, "error", err)

		return
	}

	switch event.Type {
	case emergency.SensorTypeFireAlert:
		logger.WarnKV(ctx, "Fire alert received", "addr", addr, "sensor_id", event.SensorID)
		l.alarm.SensorFireAlert(event)
	case emergency.SensorTypeUserMessage:
		logger.InfoKV(ctx, "User message received", "addr", addr)
		l.alarm.SensorUserMessage(event)
	default:
		logger.DebugKV(ctx, "Ignoring unknown sensor datagram type", "type", event.Type)
	}
}
