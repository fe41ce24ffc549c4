// ABOUTME: Tests for the connection registry
// ABOUTME: Verifies group fan-out, dashboard routing, and dead-connection pruning

package registry

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []any
	failed bool
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("broken pipe")
	}
	c.frames = append(c.frames, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newTestRegistry() *Registry {
	return New(slog.Default())
}

func TestSendToSessionReachesWholeGroup(t *testing.T) {
	r := newTestRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	r.Register("session-1", "agent-1", a)
	r.Register("session-1", "agent-1", b)
	other := &fakeConn{}
	r.Register("session-2", "agent-1", other)

	sent := r.SendToSession("session-1", map[string]string{"type": "message"})
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, a.frameCount())
	assert.Equal(t, 1, b.frameCount())
	assert.Equal(t, 0, other.frameCount())
}

func TestSendToUnknownSessionIsNoop(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, 0, r.SendToSession("nobody-home", map[string]string{"type": "message"}))
}

func TestDashboardRouting(t *testing.T) {
	r := newTestRegistry()
	dash := &fakeConn{}
	widget := &fakeConn{}
	otherDash := &fakeConn{}
	r.Register("dashboard_abc", "agent-1", dash)
	r.Register("session-1", "agent-1", widget)
	r.Register("dashboard_xyz", "agent-2", otherDash)

	sent := r.BroadcastToAgent("agent-1", map[string]string{"type": "handoff_requested"})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, dash.frameCount())
	assert.Equal(t, 0, widget.frameCount())
	assert.Equal(t, 0, otherDash.frameCount())

	// No listeners is fine
	assert.Equal(t, 0, r.BroadcastToAgent("agent-3", map[string]string{"type": "x"}))
}

func TestDeadConnectionIsPrunedNotFatal(t *testing.T) {
	r := newTestRegistry()
	dead := &fakeConn{failed: true}
	alive := &fakeConn{}
	r.Register("session-1", "agent-1", dead)
	r.Register("session-1", "agent-1", alive)

	sent := r.SendToSession("session-1", map[string]string{"type": "message"})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, alive.frameCount())
	assert.True(t, dead.closed)

	// The dead connection is gone; the group keeps working
	sent = r.SendToSession("session-1", map[string]string{"type": "message"})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, r.SessionConnections())
}

func TestUnregisterRemovesFromAllGroups(t *testing.T) {
	r := newTestRegistry()
	dash := &fakeConn{}
	r.Register("dashboard_abc", "agent-1", dash)
	require.Equal(t, 1, r.DashboardConnections())

	r.Unregister(dash)
	assert.Equal(t, 0, r.DashboardConnections())
	assert.Equal(t, 0, r.BroadcastToAgent("agent-1", map[string]string{"type": "x"}))

	// Unregistering twice is harmless
	r.Unregister(dash)
}

func TestConnectionCounts(t *testing.T) {
	r := newTestRegistry()
	r.Register("session-1", "agent-1", &fakeConn{})
	r.Register("session-2", "agent-1", &fakeConn{})
	r.Register("dashboard_abc", "agent-1", &fakeConn{})

	assert.Equal(t, 2, r.SessionConnections())
	assert.Equal(t, 1, r.DashboardConnections())
}

func TestConcurrentRegisterAndSend(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			r.Register("session-1", "agent-1", c)
			r.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			r.SendToSession("session-1", map[string]string{"type": "message"})
		}()
	}
	wg.Wait()
}
