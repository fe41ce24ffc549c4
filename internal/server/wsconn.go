// ABOUTME: Write-safe wrapper around gorilla websocket connections
// ABOUTME: Registry broadcasts and the relay loop share a socket; gorilla allows one writer at a time

package server

import (
	"sync"

	"github.com/gorilla/websocket"
)

// wsClient serializes writes to a websocket connection. Reads stay
// unguarded; only the relay loop reads.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

func (c *wsClient) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsClient) ReadJSON(v any) error {
	return c.conn.ReadJSON(v)
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}
