package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/firewatch/fire-relay/internal/broadcast"
	"github.com/firewatch/fire-relay/internal/domain/emergency"
	"github.com/firewatch/fire-relay/internal/logger"
	"github.com/firewatch/fire-relay/internal/push"
	"github.com/firewatch/fire-relay/internal/registry"
)

var errConnBroken = errors.New("connection broken")

// fakeConn records everything written to it.
type fakeConn struct {
	mu      sync.Mutex
	written []any
	fail    bool
	closed  bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail {
		return errConnBroken
	}

	c.written = append(c.written, v)

	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

// writtenOfType returns all recorded messages of one payload type.
func writtenOfType[T any](c *fakeConn) []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []T

	for _, v := range c.written {
		if typed, ok := v.(T); ok {
			result = append(result, typed)
		}
	}

	return result
}

// dispatchCall is one recorded push dispatch.
type dispatchCall struct {
	tokens []string
	n      push.Notification
}

// recordingDispatcher captures push dispatches.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (d *recordingDispatcher) Dispatch(_ context.Context, tokens []string, n push.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, dispatchCall{tokens: tokens, n: n})

	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.calls)
}

func (d *recordingDispatcher) call(i int) dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls[i]
}

// newTestService builds a hub with an inline push launcher and a fixed clock
// so tests observe dispatches synchronously.
func newTestService(t *testing.T) (*Service, *registry.Registry, *recordingDispatcher) {
	t.Helper()

	reg := registry.New()
	dispatcher := &recordingDispatcher{}
	svc := NewService(context.Background(), reg, broadcast.NewEngine(reg), dispatcher)

	svc.launch = func(task func()) { task() }
	svc.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

	return svc, reg, dispatcher
}

// TestService_ClientRegistrationFlow walks the scenario of a client
// registering, reporting its status and the admin dashboard following along.
func TestService_ClientRegistrationFlow(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	handle, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	welcomes := writtenOfType[emergency.ConnectedMessage](client)
	require.Len(t, welcomes, 1)
	require.Equal(t, emergency.TypeConnected, welcomes[0].Type)
	require.Equal(t, string(handle), welcomes[0].ClientID)

	admin := &fakeConn{}
	_, err = svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	initial := writtenOfType[emergency.AdminStatusMessage](admin)
	require.Len(t, initial, 1)
	require.Equal(t, 1, initial[0].ConnectedClients)
	require.False(t, initial[0].AlertActive)

	svc.HandleClientMessage(ctx, handle, []byte(`{"type":"register_name","name":"Alice","fcm_token":"TOK1"}`))

	updates := writtenOfType[emergency.AdminStatusMessage](admin)
	require.Len(t, updates, 2)

	svc.HandleClientMessage(ctx, handle, []byte(`{"type":"status_update","status":"safe"}`))

	statuses := writtenOfType[emergency.UserStatusMessage](admin)
	require.Len(t, statuses, 1)
	require.Equal(t, emergency.ResolveIdentity("Alice", "TOK1"), statuses[0].ClientID)
	require.Equal(t, "safe", statuses[0].Status)
	require.Equal(t, "Alice", statuses[0].Name)
}

// TestService_StatusFromUnregisteredClient asserts a status update before
// register_name is discarded.
func TestService_StatusFromUnregisteredClient(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	handle, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	admin := &fakeConn{}
	_, err = svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	svc.HandleClientMessage(ctx, handle, []byte(`{"type":"status_update","status":"safe"}`))

	require.Empty(t, writtenOfType[emergency.UserStatusMessage](admin))
}

// TestService_MalformedClientMessage asserts bad JSON is logged and discarded
// without closing the connection.
func TestService_MalformedClientMessage(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	handle, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	svc.HandleClientMessage(ctx, handle, []byte("{not json"))

	require.Equal(t, 1, reg.ClientCount())
}

// TestService_DisconnectPrunesStateAndNotifiesAdmins asserts the unregister
// side effects: derived state is gone and admins see the reduced count.
func TestService_DisconnectPrunesStateAndNotifiesAdmins(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	handle, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	admin := &fakeConn{}
	_, err = svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	svc.HandleClientMessage(ctx, handle, []byte(`{"type":"register_name","name":"Alice","fcm_token":"TOK1"}`))
	svc.HandleClientMessage(ctx, handle, []byte(`{"type":"status_update","status":"safe"}`))

	svc.DisconnectClient(ctx, handle)

	require.Zero(t, reg.ClientCount())
	require.Empty(t, reg.PushTokens())

	updates := writtenOfType[emergency.AdminStatusMessage](admin)
	last := updates[len(updates)-1]
	require.Zero(t, last.ConnectedClients)
	require.Empty(t, last.UserStatus)
}

// TestService_DisconnectLogsDisplayName asserts the disconnect log carries the
// registered display name, resolved before the unregister wipes the binding.
func TestService_DisconnectLogsDisplayName(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	client := &fakeConn{}
	handle, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	svc.HandleClientMessage(ctx, handle, []byte(`{"type":"register_name","name":"Alice","fcm_token":"TOK1"}`))

	svc.DisconnectClient(ctx, handle)

	entries := logs.FilterMessage("Client disconnected").All()
	require.Len(t, entries, 1)
	require.Equal(t, "Alice", entries[0].ContextMap()["name"])
}

// TestService_ReconnectRestoresIdentity asserts the same (name, token) pair
// resolves to the same identity after a reconnect while the cleared status
// does not come back.
func TestService_ReconnectRestoresIdentity(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newTestService(t)
	ctx := context.Background()

	first := &fakeConn{}
	firstHandle, err := svc.ConnectClient(ctx, first)
	require.NoError(t, err)

	svc.HandleClientMessage(ctx, firstHandle, []byte(`{"type":"register_name","name":"Alice","fcm_token":"TOK1"}`))
	svc.HandleClientMessage(ctx, firstHandle, []byte(`{"type":"status_update","status":"safe"}`))

	firstID, ok := reg.IdentityOf(firstHandle)
	require.True(t, ok)

	svc.DisconnectClient(ctx, firstHandle)

	second := &fakeConn{}
	secondHandle, err := svc.ConnectClient(ctx, second)
	require.NoError(t, err)
	require.NotEqual(t, firstHandle, secondHandle)

	svc.HandleClientMessage(ctx, secondHandle, []byte(`{"type":"register_name","name":"Alice","fcm_token":"TOK1"}`))

	secondID, ok := reg.IdentityOf(secondHandle)
	require.True(t, ok)
	require.Equal(t, firstID, secondID)

	// The status was pruned on disconnect and must not resurface.
	require.Empty(t, reg.StatusSnapshot())
}

// TestService_SensorTriggerIdempotent asserts two consecutive FIRE_ALERT
// events while active produce exactly one broadcast and one push dispatch.
func TestService_SensorTriggerIdempotent(t *testing.T) {
	t.Parallel()

	svc, _, dispatcher := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	handle, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	svc.HandleClientMessage(ctx, handle, []byte(`{"type":"register_name","name":"Alice","fcm_token":"TOK1"}`))

	admin := &fakeConn{}
	_, err = svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	event, err := emergency.ParseSensorEvent([]byte(`{"type":"FIRE_ALERT","smoke_level":85,"sensor_id":"S-7"}`))
	require.NoError(t, err)

	svc.HandleSensorAlert(ctx, event)
	svc.HandleSensorAlert(ctx, event)

	alerts := writtenOfType[emergency.FireAlertMessage](client)
	require.Len(t, alerts, 1)
	require.Equal(t, emergency.SourceSensor, alerts[0].Source)

	adminAlerts := writtenOfType[emergency.AdminFireAlertMessage](admin)
	require.Len(t, adminAlerts, 1)
	require.Equal(t, "S-7", adminAlerts[0].AlertData["sensor_id"])

	require.Equal(t, 1, dispatcher.count())
	require.Equal(t, []string{"TOK1"}, dispatcher.call(0).tokens)
}

// TestService_ManualTriggerNotGuarded asserts the manual path fires every
// time it is invoked, even while already active. This asymmetry with the
// sensor path is intended current behavior.
func TestService_ManualTriggerNotGuarded(t *testing.T) {
	t.Parallel()

	svc, _, dispatcher := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	_, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	svc.TriggerManualAlarm(ctx)
	svc.TriggerManualAlarm(ctx)

	alerts := writtenOfType[emergency.FireAlertMessage](client)
	require.Len(t, alerts, 2)
	require.Equal(t, emergency.SourceManual, alerts[0].Source)
	require.Equal(t, 2, dispatcher.count())
}

// TestService_SensorAfterManualIsIgnored asserts the guard also applies when
// the alarm was activated manually.
func TestService_SensorAfterManualIsIgnored(t *testing.T) {
	t.Parallel()

	svc, _, dispatcher := newTestService(t)
	ctx := context.Background()

	svc.TriggerManualAlarm(ctx)

	event, err := emergency.ParseSensorEvent([]byte(`{"type":"FIRE_ALERT","smoke_level":60,"sensor_id":"S-2"}`))
	require.NoError(t, err)

	svc.HandleSensorAlert(ctx, event)

	require.Equal(t, 1, dispatcher.count())
}

// TestService_ClearAlarm asserts the clear path notifies all three channels
// and works with zero connected clients.
func TestService_ClearAlarm(t *testing.T) {
	t.Parallel()

	svc, _, dispatcher := newTestService(t)
	ctx := context.Background()

	admin := &fakeConn{}
	_, err := svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	svc.TriggerManualAlarm(ctx)
	require.True(t, svc.alarm.Active)

	// Zero clients connected: the client broadcast attempts nothing, no error
	// is raised and the push dispatch still happens.
	svc.ClearActiveAlarm(ctx)

	require.False(t, svc.alarm.Active)

	cleared := writtenOfType[emergency.AlertClearedMessage](admin)
	require.Len(t, cleared, 1)

	require.Equal(t, 2, dispatcher.count())
	require.Equal(t, emergency.TypeClearAlert, dispatcher.call(1).n.Data["type"])
}

// TestService_AdminBroadcastMessage asserts admin socket broadcasts reach
// clients with the sender handle and optional map attachment.
func TestService_AdminBroadcastMessage(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	_, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	admin := &fakeConn{}
	adminHandle, err := svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	svc.HandleAdminMessage(ctx, adminHandle,
		[]byte(`{"type":"broadcast","message":"Use the east staircase","map_data":"base64-map","map_filename":"floor2.png"}`))

	broadcasts := writtenOfType[emergency.BroadcastMessage](client)
	require.Len(t, broadcasts, 1)
	require.Equal(t, "Use the east staircase", broadcasts[0].Message)
	require.Equal(t, string(adminHandle), broadcasts[0].From)
	require.Equal(t, "base64-map", broadcasts[0].MapData)
	require.Equal(t, "floor2.png", broadcasts[0].MapFilename)
}

// TestService_HTTPAnnouncementCarriesAdminMessageType asserts the two
// announcement paths keep their distinct wire types: the HTTP surface emits
// admin_message, the admin socket emits broadcast.
func TestService_HTTPAnnouncementCarriesAdminMessageType(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	client := &fakeConn{}
	_, err := svc.ConnectClient(ctx, client)
	require.NoError(t, err)

	admin := &fakeConn{}
	adminHandle, err := svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	svc.SendAdminMessage(ctx, "Assembly point B", "admin_chief")
	svc.HandleAdminMessage(ctx, adminHandle, []byte(`{"type":"broadcast","message":"Use the east staircase"}`))

	announcements := writtenOfType[emergency.AdminTextMessage](client)
	require.Len(t, announcements, 1)
	require.Equal(t, emergency.TypeAdminMessage, announcements[0].Type)
	require.Equal(t, "Assembly point B", announcements[0].Message)
	require.Equal(t, "admin_chief", announcements[0].From)

	broadcasts := writtenOfType[emergency.BroadcastMessage](client)
	require.Len(t, broadcasts, 1)
	require.Equal(t, emergency.TypeBroadcast, broadcasts[0].Type)
}

// TestService_UserMessageForwardedToAdmins asserts terminal messages reach
// admin dashboards as informational events.
func TestService_UserMessageForwardedToAdmins(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	admin := &fakeConn{}
	_, err := svc.ConnectAdmin(ctx, admin)
	require.NoError(t, err)

	event, err := emergency.ParseSensorEvent([]byte(`{"type":"USER_MESSAGE","text":"trapped on floor 2","sensor_id":"T-1"}`))
	require.NoError(t, err)

	svc.NotifyUserMessage(ctx, event)

	forwarded := writtenOfType[emergency.NewUserMessage](admin)
	require.Len(t, forwarded, 1)
	require.Equal(t, "trapped on floor 2", forwarded[0].Data["text"])
}

// TestService_GreetFailureUnregisters asserts a client whose welcome write
// fails is not left in the live set.
func TestService_GreetFailureUnregisters(t *testing.T) {
	t.Parallel()

	svc, reg, _ := newTestService(t)
	ctx := context.Background()

	broken := &fakeConn{fail: true}
	_, err := svc.ConnectClient(ctx, broken)

	require.Error(t, err)
	require.Zero(t, reg.ClientCount())
	require.True(t, broken.closed)
}

// TestService_RunSchedulesAndStatus drives the hub through its task queue:
// scheduled triggers execute on the hub goroutine and Status observes them.
func TestService_RunSchedulesAndStatus(t *testing.T) {
	t.Parallel()

	svc, _, dispatcher := newTestService(t)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- svc.Run(runCtx) }()

	svc.ScheduleManualTrigger()

	require.Eventually(t, func() bool {
		return dispatcher.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	statusCtx, cancelStatus := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelStatus()

	snapshot, err := svc.Status(statusCtx)
	require.NoError(t, err)
	require.True(t, snapshot.AlertActive)
	require.Zero(t, snapshot.ConnectedClients)

	svc.ScheduleAlarmClear()

	require.Eventually(t, func() bool {
		snapshot, err := svc.Status(statusCtx)

		return err == nil && !snapshot.AlertActive
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
}
