// Package lkd provides a persistent WebSocket client for the bus backend
// daemon (LKD). LKD holds the catalogue of field-bound objects; the client
// reads and writes object values, executes action documents and surfaces
// value-change notifications pushed by the daemon.
package lkd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives broadcast notifications from the bus backend.
type Handler struct {
	// OnValueChanged is invoked for every value-change notification on an
	// object with a registered callback hook.
	OnValueChanged func(objectID string, value any)
}

// reply carries the outcome of a request/response exchange.
type reply struct {
	value any
	err   error
}

// Client maintains a persistent WebSocket connection to a bus backend
// instance. It automatically reconnects on failure and serialises all writes.
type Client struct {
	url     string
	handler Handler

	// conn is the active connection; nil when disconnected.
	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex // serialises writes to conn

	// pending request/response exchanges: id → chan reply
	pending sync.Map

	idSeq atomic.Int64

	reconnectDelay time.Duration
	requestTimeout time.Duration
}

// NewClient creates a Client targeting the given WebSocket URL.
func NewClient(url string, h Handler) *Client {
	return &Client{
		url:            url,
		handler:        h,
		reconnectDelay: 5 * time.Second,
		requestTimeout: 10 * time.Second,
	}
}

// Run connects and reconnects until ctx is cancelled.
// Call this in a dedicated goroutine.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connect(ctx); err != nil && ctx.Err() == nil {
			log.Printf("lkd: %v, retrying in %s", err, c.reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// IsConnected reports whether a connection is currently active.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	log.Printf("lkd: connected to %s", c.url)

	defer func() {
		conn.Close()
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()

		// Fail all in-flight requests.
		c.pending.Range(func(k, v any) bool {
			v.(chan reply) <- reply{err: fmt.Errorf("lkd: connection lost")}
			c.pending.Delete(k)
			return true
		})

		log.Printf("lkd: disconnected from %s", c.url)
	}()

	for {
		if ctx.Err() != nil {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(raw)
	}
}

// inbound is the superset of all messages sent by the bus backend.
type inbound struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Object  string `json:"object,omitempty"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

func (c *Client) dispatch(raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("lkd: bad message: %v", err)
		return
	}

	switch msg.Type {
	case "value", "ack":
		if ch, ok := c.pending.LoadAndDelete(msg.ID); ok {
			ch.(chan reply) <- reply{value: msg.Value}
		}

	case "error":
		if msg.ID != "" {
			if ch, ok := c.pending.LoadAndDelete(msg.ID); ok {
				ch.(chan reply) <- reply{err: fmt.Errorf("lkd: %s", msg.Message)}
			}
			return
		}
		log.Printf("lkd: daemon error: %s", msg.Message)

	case "changed":
		if c.handler.OnValueChanged != nil {
			c.handler.OnValueChanged(msg.Object, msg.Value)
		}
	}
}

func (c *Client) send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected to bus backend")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) nextID() string {
	return fmt.Sprintf("r%d", c.idSeq.Add(1))
}

// request performs one request/response exchange with the daemon.
func (c *Client) request(msg map[string]any) (any, error) {
	id := c.nextID()
	msg["id"] = id
	ch := make(chan reply, 1)
	c.pending.Store(id, ch)

	if err := c.send(msg); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.value, res.err
	case <-time.After(c.requestTimeout):
		c.pending.Delete(id)
		return nil, fmt.Errorf("timeout waiting for %s response", msg["type"])
	}
}

// GetValue reads the current value of the object with the given id.
func (c *Client) GetValue(objectID string) (any, error) {
	return c.request(map[string]any{
		"type":   "getvalue",
		"object": objectID,
	})
}

// SetValue writes a new value to the object with the given id.
func (c *Client) SetValue(objectID string, value any) error {
	_, err := c.request(map[string]any{
		"type":   "setvalue",
		"object": objectID,
		"value":  value,
	})
	return err
}

// ExecuteAction submits an action document for execution by the daemon.
// The document is an opaque tree understood by the daemon; the engine
// synthesizes email/SMS/shell actions this way.
func (c *Client) ExecuteAction(doc map[string]any) error {
	_, err := c.request(map[string]any{
		"type":   "execute",
		"action": doc,
	})
	return err
}
