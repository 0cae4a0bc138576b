package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firewatch/fire-relay/internal/broadcast"
	"github.com/firewatch/fire-relay/internal/domain/emergency"
	"github.com/firewatch/fire-relay/internal/logger"
	"github.com/firewatch/fire-relay/internal/push"
	"github.com/firewatch/fire-relay/internal/registry"
)

// taskQueueSize bounds the hub task queue. Submissions block instead of
// dropping work when the hub is momentarily busy.
const taskQueueSize = 256

// welcomeText greets clients right after the websocket handshake.
const welcomeText = "Connected to Fire Emergency System"

// errStatusUnavailable is returned when a status query outlives its context.
var errStatusUnavailable = errors.New("status snapshot unavailable")

// Service is the relay hub. One goroutine (started by Run) owns the registry,
// the broadcast engine and the alarm state; no two pieces of that logic ever
// run in parallel. All exported methods without a Schedule prefix are
// hub-context operations and must only be invoked from scheduled tasks.
type Service struct {
	reg    *registry.Registry
	engine *broadcast.Engine
	push   push.Dispatcher

	// alarm is the process-wide emergency flag, mutated only on the hub.
	alarm emergency.AlarmState

	// tasks carries work submitted from other goroutines onto the hub.
	tasks chan func()

	// ctx carries the hub logger into scheduled work.
	ctx context.Context

	// now and launch are indirections for tests.
	now    func() time.Time
	launch func(func())
}

// NewService wires the hub from its collaborators.
func NewService(ctx context.Context, reg *registry.Registry, engine *broadcast.Engine, dispatcher push.Dispatcher) *Service {
	return &Service{
		reg:    reg,
		engine: engine,
		push:   dispatcher,
		tasks:  make(chan func(), taskQueueSize),
		ctx:    logger.WithName(ctx, "relay-hub"),
		now:    time.Now,
		launch: func(task func()) { go task() },
	}
}

// Run drains the task queue until the context is canceled. Everything touching
// shared state runs here.
func (s *Service) Run(ctx context.Context) error {
	logger.Info(s.ctx, "Relay hub started")

	for {
		select {
		case <-ctx.Done():
			logger.Info(s.ctx, "Relay hub stopped")

			return nil
		case task := <-s.tasks:
			task()
		}
	}
}

// Schedule submits work onto the hub goroutine. It is safe to call from any
// goroutine and queues (blocking if necessary) rather than dropping work.
func (s *Service) Schedule(task func()) {
	s.tasks <- task
}

// ----------------------------------------------------------------------------
// Thread-safe facade, used by the HTTP surface and the sensor bridge.
// ----------------------------------------------------------------------------

// ScheduleManualTrigger queues an admin-initiated alarm trigger.
func (s *Service) ScheduleManualTrigger() {
	s.Schedule(func() { s.TriggerManualAlarm(s.ctx) })
}

// ScheduleAlarmClear queues an alarm clearance.
func (s *Service) ScheduleAlarmClear() {
	s.Schedule(func() { s.ClearActiveAlarm(s.ctx) })
}

// ScheduleAdminMessage queues an announcement from the HTTP admin surface.
func (s *Service) ScheduleAdminMessage(message, from string) {
	s.Schedule(func() { s.SendAdminMessage(s.ctx, message, from) })
}

// SensorFireAlert queues a sensor-originated alarm trigger.
// It implements the sensor bridge's alarm interface.
func (s *Service) SensorFireAlert(event *emergency.SensorEvent) {
	s.Schedule(func() { s.HandleSensorAlert(s.ctx, event) })
}

// SensorUserMessage queues an informational terminal message for admins.
func (s *Service) SensorUserMessage(event *emergency.SensorEvent) {
	s.Schedule(func() { s.NotifyUserMessage(s.ctx, event) })
}

// Status returns a snapshot of the live system state. The query itself runs on
// the hub so it observes a consistent view.
func (s *Service) Status(ctx context.Context) (emergency.StatusSnapshot, error) {
	reply := make(chan emergency.StatusSnapshot, 1)

	s.Schedule(func() { reply <- s.snapshot() })

	select {
	case <-ctx.Done():
		return emergency.StatusSnapshot{}, fmt.Errorf("%w: %w", errStatusUnavailable, ctx.Err())
	case snapshot := <-reply:
		return snapshot, nil
	}
}

// ----------------------------------------------------------------------------
// Hub-context operations.
// ----------------------------------------------------------------------------

// ConnectClient registers a client connection and greets it.
func (s *Service) ConnectClient(ctx context.Context, conn registry.Conn) (registry.Handle, error) {
	handle := s.reg.RegisterClient(conn)

	welcome := emergency.ConnectedMessage{
		Type:     emergency.TypeConnected,
		ClientID: string(handle),
		Message:  welcomeText,
	}
	if err := conn.WriteJSON(welcome); err != nil {
		s.reg.Unregister(handle)
		_ = conn.Close()

		return "", fmt.Errorf("greet client: %w", err)
	}

	logger.InfoKV(ctx, "Client connected", "handle", handle, "total_clients", s.reg.ClientCount())

	return handle, nil
}

// DisconnectClient removes a client connection and publishes the reduced
// state to admin dashboards.
func (s *Service) DisconnectClient(ctx context.Context, handle registry.Handle) {
	// Resolve the display name before unregistering wipes the binding.
	name := "<unregistered>"
	if id, ok := s.reg.IdentityOf(handle); ok {
		if bound, ok := s.reg.DisplayName(id); ok {
			name = bound
		}
	}

	s.reg.Unregister(handle)
	logger.InfoKV(ctx, "Client disconnected",
		"handle", handle, "name", name, "total_clients", s.reg.ClientCount())

	s.publishAdminStatus(ctx)
}

// HandleClientMessage processes one raw message from a client socket.
// Malformed input is logged and discarded, the connection stays open.
func (s *Service) HandleClientMessage(ctx context.Context, handle registry.Handle, data []byte) {
	var envelope emergency.ClientEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.WarnKV(ctx, "Discarding malformed client message", "handle", handle, "error", err)

		return
	}

	switch envelope.Type {
	case emergency.TypeRegisterName:
		s.registerClientName(ctx, handle, envelope.Name, envelope.FCMToken)
	case emergency.TypeStatusUpdate:
		s.updateClientStatus(ctx, handle, envelope.Status)
	default:
		logger.DebugKV(ctx, "Ignoring unknown client message type", "type", envelope.Type)
	}
}

// registerClientName binds the connection to its stable identity so user
// state survives reconnects with the same (name, token) pair.
func (s *Service) registerClientName(ctx context.Context, handle registry.Handle, name, token string) {
	id := emergency.ResolveIdentity(name, token)
	s.reg.BindIdentity(handle, id, name, token)

	logger.InfoKV(ctx, "Client registered", "name", name, "stable_id", id)

	s.publishAdminStatus(ctx)
}

// updateClientStatus stores the status label and forwards it to admins.
func (s *Service) updateClientStatus(ctx context.Context, handle registry.Handle, status string) {
	id, record, ok := s.reg.SetStatus(handle, status, s.now())
	if !ok {
		logger.WarnKV(ctx, "Status update from unregistered client", "handle", handle)

		return
	}

	logger.InfoKV(ctx, "Status update", "name", record.Name, "status", status)

	s.engine.ToAdmins(ctx, emergency.UserStatusMessage{
		Type:      emergency.TypeUserStatus,
		ClientID:  id,
		Status:    record.Status,
		Name:      record.Name,
		Timestamp: record.Timestamp,
	})
}

// ConnectAdmin registers an admin connection and sends it the current state.
func (s *Service) ConnectAdmin(ctx context.Context, conn registry.Conn) (registry.Handle, error) {
	handle := s.reg.RegisterAdmin(conn)

	if err := conn.WriteJSON(s.adminStatusMessage()); err != nil {
		s.reg.Unregister(handle)
		_ = conn.Close()

		return "", fmt.Errorf("send initial status: %w", err)
	}

	logger.InfoKV(ctx, "Admin connected", "handle", handle)

	return handle, nil
}

// DisconnectAdmin removes an admin connection.
func (s *Service) DisconnectAdmin(ctx context.Context, handle registry.Handle) {
	s.reg.Unregister(handle)
	logger.InfoKV(ctx, "Admin disconnected", "handle", handle)
}

// HandleAdminMessage processes one raw message from an admin socket.
func (s *Service) HandleAdminMessage(ctx context.Context, handle registry.Handle, data []byte) {
	var envelope emergency.AdminEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.WarnKV(ctx, "Discarding malformed admin message", "handle", handle, "error", err)

		return
	}

	switch envelope.Type {
	case emergency.TypeBroadcast:
		s.BroadcastToClients(ctx, envelope.Message, string(handle), envelope.MapData, envelope.MapFilename)
	case emergency.TypeTriggerAlarm:
		s.TriggerManualAlarm(ctx)
	case emergency.TypeClearAlarm:
		s.ClearActiveAlarm(ctx)
	default:
		logger.DebugKV(ctx, "Ignoring unknown admin message type", "type", envelope.Type)
	}
}

// SendAdminMessage fans an announcement from the HTTP admin surface out to
// every client. Unlike socket broadcasts it carries the admin_message wire
// type and no map attachment.
func (s *Service) SendAdminMessage(ctx context.Context, message, from string) {
	report := s.engine.ToClients(ctx, emergency.AdminTextMessage{
		Type:      emergency.TypeAdminMessage,
		Message:   message,
		From:      from,
		Timestamp: emergency.Timestamp(s.now()),
	})

	logger.InfoKV(ctx, "Admin message delivered",
		"from", from, "succeeded", report.Succeeded, "failed", report.Failed())
}

// BroadcastToClients fans an admin-socket announcement out to every client.
func (s *Service) BroadcastToClients(ctx context.Context, message, from, mapData, mapFilename string) {
	report := s.engine.ToClients(ctx, emergency.BroadcastMessage{
		Type:        emergency.TypeBroadcast,
		Message:     message,
		From:        from,
		Timestamp:   emergency.Timestamp(s.now()),
		MapData:     mapData,
		MapFilename: mapFilename,
	})

	logger.InfoKV(ctx, "Admin broadcast delivered",
		"from", from, "succeeded", report.Succeeded, "failed", report.Failed())
}

// TriggerManualAlarm activates the alarm on admin request. The manual path is
// deliberately not idempotence-guarded: every invocation re-broadcasts and
// re-pushes even while the alarm is already active. Do not unify this with the
// guarded sensor path without a product decision.
func (s *Service) TriggerManualAlarm(ctx context.Context) {
	s.alarm.Activate(s.now())
	logger.Warn(ctx, "Manual alarm triggered by admin")

	s.engine.ToClients(ctx, emergency.FireAlertMessage{
		Type:      emergency.TypeFireAlert,
		Source:    emergency.SourceManual,
		Message:   "FIRE EMERGENCY - EVACUATE IMMEDIATELY",
		Timestamp: emergency.Timestamp(s.now()),
	})

	s.engine.ToAdmins(ctx, emergency.AdminFireAlertMessage{
		Type:      emergency.TypeFireAlert,
		AlertData: map[string]any{"source": string(emergency.SourceManual)},
		Timestamp: emergency.Timestamp(s.now()),
	})

	s.dispatchPush(ctx, push.Notification{
		Title: "FIRE ALERT",
		Body:  "Evacuate immediately! Open the app for details.",
		Data: map[string]string{
			"type":    emergency.TypeFireAlert,
			"message": "FIRE EMERGENCY - EVACUATE IMMEDIATELY",
		},
	})
}

// HandleSensorAlert activates the alarm from a sensor datagram. Unlike the
// manual path it is guarded: duplicate FIRE_ALERT datagrams during an ongoing
// emergency must not re-broadcast or re-push.
func (s *Service) HandleSensorAlert(ctx context.Context, event *emergency.SensorEvent) {
	if s.alarm.Active {
		logger.DebugKV(ctx, "Alarm already active, ignoring sensor alert", "sensor_id", event.SensorID)

		return
	}

	s.alarm.Activate(s.now())
	logger.WarnKV(ctx, "Fire alert from sensor", "sensor_id", event.SensorID, "smoke_level", event.SmokeLevel)

	s.engine.ToClients(ctx, emergency.FireAlertMessage{
		Type:      emergency.TypeFireAlert,
		Source:    emergency.SourceSensor,
		Message:   "FIRE DETECTED - EVACUATE IMMEDIATELY",
		Timestamp: emergency.Timestamp(s.now()),
	})

	s.engine.ToAdmins(ctx, emergency.AdminFireAlertMessage{
		Type:      emergency.TypeFireAlert,
		AlertData: event.Payload,
		Timestamp: emergency.Timestamp(s.now()),
	})

	s.dispatchPush(ctx, push.Notification{
		Title: "FIRE DETECTED BY SENSOR",
		Body:  fmt.Sprintf("Evacuate now! Smoke detected at %s.", event.SensorID),
		Data: map[string]string{
			"type":    emergency.TypeFireAlert,
			"message": "FIRE DETECTED - EVACUATE IMMEDIATELY",
		},
	})
}

// ClearActiveAlarm deactivates the alarm and notifies all channels.
// Like the manual trigger it fires unconditionally.
func (s *Service) ClearActiveAlarm(ctx context.Context) {
	s.alarm.Clear(s.now())
	logger.Info(ctx, "Alarm cleared")

	s.engine.ToClients(ctx, emergency.ClearAlertMessage{
		Type:      emergency.TypeClearAlert,
		Message:   "ALL CLEAR - Emergency has been resolved.",
		From:      "System",
		Timestamp: emergency.Timestamp(s.now()),
	})

	s.dispatchPush(ctx, push.Notification{
		Title: "ALL CLEAR",
		Body:  "The emergency has been resolved. You may return to normal activities.",
		Data:  map[string]string{"type": emergency.TypeClearAlert},
	})

	s.engine.ToAdmins(ctx, emergency.AlertClearedMessage{
		Type:      emergency.TypeAlertCleared,
		Timestamp: emergency.Timestamp(s.now()),
	})
}

// NotifyUserMessage forwards a terminal message to admin dashboards.
func (s *Service) NotifyUserMessage(ctx context.Context, event *emergency.SensorEvent) {
	logger.InfoKV(ctx, "User message from terminal", "sensor_id", event.SensorID)

	s.engine.ToAdmins(ctx, emergency.NewUserMessage{
		Type:      emergency.TypeNewUserMessage,
		Data:      event.Payload,
		Timestamp: emergency.Timestamp(s.now()),
	})
}

// publishAdminStatus refreshes every admin dashboard with the live state.
func (s *Service) publishAdminStatus(ctx context.Context) {
	s.engine.ToAdmins(ctx, s.adminStatusMessage())
}

func (s *Service) adminStatusMessage() emergency.AdminStatusMessage {
	return emergency.AdminStatusMessage{
		Type:             emergency.TypeStatusUpdate,
		AlertActive:      s.alarm.Active,
		ConnectedClients: s.reg.ClientCount(),
		UserStatus:       s.reg.StatusSnapshot(),
	}
}

func (s *Service) snapshot() emergency.StatusSnapshot {
	return emergency.StatusSnapshot{
		AlertActive:      s.alarm.Active,
		ConnectedClients: s.reg.ClientCount(),
		ConnectedAdmins:  s.reg.AdminCount(),
		UserStatus:       s.reg.StatusSnapshot(),
	}
}

// dispatchPush snapshots the token set on the hub and hands the gateway call
// to another goroutine so gateway latency cannot stall message processing.
// Push delivery is best-effort, a total gateway failure is logged and swallowed.
func (s *Service) dispatchPush(ctx context.Context, n push.Notification) {
	tokens := s.reg.PushTokens()

	s.launch(func() {
		if err := s.push.Dispatch(ctx, tokens, n); err != nil {
			logger.ErrorKV(ctx, "Push dispatch failed", "title", n.Title, "error", err)
		}
	})
}
