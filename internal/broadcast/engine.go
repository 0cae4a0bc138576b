package broadcast

import (
	"context"

	"github.com/firewatch/fire-relay/internal/logger"
	"github.com/firewatch/fire-relay/internal/registry"
)

// DeliveryReport summarizes one fan-out attempt.
type DeliveryReport struct {
	// Attempted is the number of connections delivery was tried on.
	Attempted int
	// Succeeded is the number of connections that accepted the message.
	Succeeded int
	// FailedHandles lists the connections whose send failed. Every handle in
	// here has already been unregistered: a send failure is treated as an
	// implicit disconnect.
	FailedHandles []registry.Handle
}

// Failed returns the number of failed deliveries.
func (r DeliveryReport) Failed() int {
	return len(r.FailedHandles)
}

// Engine fans a message out to a connection set with per-recipient failure
// isolation: one failed send never aborts delivery to the rest, and there is
// no rollback across the set. Like the registry it is owned by the relay hub
// goroutine.
type Engine struct {
	// reg is the registry failed connections are pruned from.
	reg *registry.Registry
}

// NewEngine returns an engine pruning failed connections from the given registry.
func NewEngine(reg *registry.Registry) *Engine {
	return &Engine{reg: reg}
}

// ToClients delivers the message to every live client connection.
func (e *Engine) ToClients(ctx context.Context, message any) DeliveryReport {
	return e.deliver(ctx, e.reg.Clients(), message)
}

// ToAdmins delivers the message to every live admin connection.
func (e *Engine) ToAdmins(ctx context.Context, message any) DeliveryReport {
	return e.deliver(ctx, e.reg.Admins(), message)
}

// deliver attempts delivery to each connection in the snapshot independently.
// Broadcasting to zero listeners is a valid outcome, not an error, but it is
// noteworthy enough to log.
func (e *Engine) deliver(ctx context.Context, conns map[registry.Handle]registry.Conn, message any) DeliveryReport {
	report := DeliveryReport{Attempted: len(conns)}

	if len(conns) == 0 {
		logger.Warn(ctx, "Broadcasting to zero connections")

		return report
	}

	for handle, conn := range conns {
		if err := conn.WriteJSON(message); err != nil {
			logger.WarnKV(ctx, "Broadcast delivery failed", "handle", handle, "error", err)
			report.FailedHandles = append(report.FailedHandles, handle)

			continue
		}

		report.Succeeded++
	}

	// A failed send means the connection is gone. Drop it and everything
	// derived from its identity so state does not outlive the socket.
	for _, handle := range report.FailedHandles {
		if conn, ok := e.reg.Conn(handle); ok {
			_ = conn.Close()
		}

		e.reg.Unregister(handle)
	}

	return report
}
