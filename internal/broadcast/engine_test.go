package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/firewatch/fire-relay/internal/registry"
)

var errSendFailed = errors.New("send failed")

// fakeConn records written messages and can be told to fail.
type fakeConn struct {
	written []any
	fail    bool
	closed  bool
}

func (c *fakeConn) WriteJSON(v any) error {
	if c.fail {
		return errSendFailed
	}

	c.written = append(c.written, v)

	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true

	return nil
}

// TestEngine_EmptySet asserts broadcasting to zero listeners reports zero
// attempts and raises no error.
func TestEngine_EmptySet(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	engine := NewEngine(reg)

	report := engine.ToClients(context.Background(), "hello")

	require.Zero(t, report.Attempted)
	require.Zero(t, report.Succeeded)
	require.Zero(t, report.Failed())
}

// TestEngine_PartialFailure asserts that with N of M connections failing the
// report counts succeeded = M - N and exactly the N failed handles are
// removed from the registry.
func TestEngine_PartialFailure(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	engine := NewEngine(reg)

	healthy := &fakeConn{}
	broken := &fakeConn{fail: true}

	reg.RegisterClient(healthy)
	brokenHandle := reg.RegisterClient(broken)
	reg.RegisterClient(&fakeConn{})

	report := engine.ToClients(context.Background(), "evacuate")

	require.Equal(t, 3, report.Attempted)
	require.Equal(t, 2, report.Succeeded)
	require.Equal(t, []registry.Handle{brokenHandle}, report.FailedHandles)
	require.Equal(t, 2, reg.ClientCount())
	require.True(t, broken.closed)

	// Subsequent broadcasts never attempt delivery to removed handles.
	report = engine.ToClients(context.Background(), "again")
	require.Equal(t, 2, report.Attempted)
	require.Equal(t, 2, report.Succeeded)
}

// TestEngine_FailureIsolation asserts one failing admin connection does not
// stop delivery to the others.
func TestEngine_FailureIsolation(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	engine := NewEngine(reg)

	first := &fakeConn{}
	second := &fakeConn{fail: true}
	third := &fakeConn{}

	reg.RegisterAdmin(first)
	reg.RegisterAdmin(second)
	reg.RegisterAdmin(third)

	report := engine.ToAdmins(context.Background(), "status")

	require.Equal(t, 2, report.Succeeded)
	require.Len(t, first.written, 1)
	require.Len(t, third.written, 1)
	require.Equal(t, 2, reg.AdminCount())
}
