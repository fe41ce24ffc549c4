// ABOUTME: In-memory connection registry - session groups and per-agent dashboard fan-out
// ABOUTME: A send failure removes only the dead connection; the rest of the group still receives

package registry

import (
	"log/slog"
	"strings"
	"sync"
)

// DashboardSessionPrefix marks a connection as an operator dashboard
// listener rather than a customer widget.
const DashboardSessionPrefix = "dashboard_"

// Conn is the minimal writable connection the registry manages. The
// server wraps gorilla websockets to satisfy it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// IsDashboardSession reports whether a session id identifies a dashboard
// listener.
func IsDashboardSession(sessionID string) bool {
	return strings.HasPrefix(sessionID, DashboardSessionPrefix)
}

type member struct {
	conn      Conn
	sessionID string
	agentID   string
	dashboard bool
}

// Registry tracks live connections by session and, for dashboard
// listeners, by tenant agent. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string][]*member // session id -> connections
	dashboards map[string][]*member // agent id -> dashboard connections
	members    map[Conn]*member     // reverse index for unregister
	logger     *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string][]*member),
		dashboards: make(map[string][]*member),
		members:    make(map[Conn]*member),
		logger:     logger.With("component", "registry"),
	}
}

// Register adds a connection to its session group. Connections whose
// session id carries the dashboard prefix also join the agent's
// dashboard group and receive tenant-wide broadcasts.
func (r *Registry) Register(sessionID, agentID string, conn Conn) {
	m := &member{
		conn:      conn,
		sessionID: sessionID,
		agentID:   agentID,
		dashboard: IsDashboardSession(sessionID),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = append(r.sessions[sessionID], m)
	r.members[conn] = m
	if m.dashboard {
		r.dashboards[agentID] = append(r.dashboards[agentID], m)
	}

	r.logger.Info("connection registered",
		"session_id", sessionID,
		"agent_id", agentID,
		"dashboard", m.dashboard,
		"session_conns", len(r.sessions[sessionID]),
	)
}

// Unregister removes a connection from every group it belongs to.
// Unknown connections are ignored.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(conn)
}

func (r *Registry) removeLocked(conn Conn) {
	m, ok := r.members[conn]
	if !ok {
		return
	}
	delete(r.members, conn)

	r.sessions[m.sessionID] = dropMember(r.sessions[m.sessionID], conn)
	if len(r.sessions[m.sessionID]) == 0 {
		delete(r.sessions, m.sessionID)
	}
	if m.dashboard {
		r.dashboards[m.agentID] = dropMember(r.dashboards[m.agentID], conn)
		if len(r.dashboards[m.agentID]) == 0 {
			delete(r.dashboards, m.agentID)
		}
	}

	r.logger.Info("connection unregistered",
		"session_id", m.sessionID,
		"agent_id", m.agentID,
		"dashboard", m.dashboard,
	)
}

func dropMember(members []*member, conn Conn) []*member {
	for i, m := range members {
		if m.conn == conn {
			return append(members[:i], members[i+1:]...)
		}
	}
	return members
}

// SendToSession delivers a frame to every connection in a session group
// and returns how many received it. A connection that fails to write is
// closed and removed without affecting the rest of the group.
func (r *Registry) SendToSession(sessionID string, v any) int {
	return r.deliver(r.snapshot(func() []*member { return r.sessions[sessionID] }), v)
}

// BroadcastToAgent delivers a frame to every dashboard connection for a
// tenant agent. With no listeners it is a no-op, not an error.
func (r *Registry) BroadcastToAgent(agentID string, v any) int {
	members := r.snapshot(func() []*member { return r.dashboards[agentID] })
	if len(members) == 0 {
		r.logger.Debug("no dashboard listeners", "agent_id", agentID)
		return 0
	}
	return r.deliver(members, v)
}

func (r *Registry) snapshot(pick func() []*member) []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := pick()
	out := make([]*member, len(src))
	copy(out, src)
	return out
}

func (r *Registry) deliver(members []*member, v any) int {
	sent := 0
	var dead []*member
	for _, m := range members {
		if err := m.conn.WriteJSON(v); err != nil {
			r.logger.Warn("dropping dead connection",
				"session_id", m.sessionID,
				"agent_id", m.agentID,
				"error", err,
			)
			dead = append(dead, m)
			continue
		}
		sent++
	}

	if len(dead) > 0 {
		r.mu.Lock()
		for _, m := range dead {
			r.removeLocked(m.conn)
		}
		r.mu.Unlock()
		for _, m := range dead {
			m.conn.Close()
		}
	}
	return sent
}

// SessionConnections returns the number of live widget connections.
func (r *Registry) SessionConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.members {
		if !m.dashboard {
			n++
		}
	}
	return n
}

// DashboardConnections returns the number of live dashboard connections.
func (r *Registry) DashboardConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.members {
		if m.dashboard {
			n++
		}
	}
	return n
}
