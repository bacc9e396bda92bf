// Package wsgw is the WebSocket gateway adapter: a duplex bridge that
// streams post-core Observations out to connected clients (via the
// EgressHub) and publishes client-sent Observations onto the Bus.
package wsgw

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/egress"
	"github.com/gatewright/gatewright/internal/obs"
)

// sendBuffer bounds each client's outbound queue; a client that cannot keep
// up loses the newest frames, same lossy-newest policy as the Bus itself.
const sendBuffer = 64

// Client is one connected WebSocket peer.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	sessionKey string // empty = receive all sessions
}

// Hub manages WebSocket clients and bridges them to the Bus and EgressHub.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	bus        *bus.Bus
	unregister func()
	closed     bool
}

// NewHub creates a Hub publishing inbound frames to b and registers it on
// the egress hub for outbound dispatch.
func NewHub(b *bus.Bus, eg *egress.Hub) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     b,
	}
	h.unregister = eg.Register("ws_gateway", "", h.dispatch)
	return h
}

// dispatch fans one Observation out to every matching client. Frames to a
// client with a full send buffer are dropped.
func (h *Hub) dispatch(o obs.Observation) {
	data, err := o.MarshalJSON()
	if err != nil {
		slog.Error("wsgw: marshal observation", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.sessionKey != "" && c.sessionKey != o.SessionKey {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection. The optional
// ?session_key= query parameter filters the outbound stream to one session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("wsgw: accept", "error", err)
		return
	}

	c := &Client{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		sessionKey: r.URL.Query().Get("session_key"),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) writeLoop(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// readLoop decodes inbound frames as wire Observations and publishes them.
// Malformed frames are logged at debug level and skipped; a full bus is silent (the
// drop is counted on the Bus).
func (h *Hub) readLoop(ctx context.Context, c *Client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		o, err := obs.DecodeJSON(data)
		if err != nil {
			slog.Debug("wsgw: bad inbound frame", "error", err)
			continue
		}
		h.bus.PublishNowait(o)
	}
}

// Close unregisters from the egress hub and disconnects every client.
func (h *Hub) Close() {
	if h.unregister != nil {
		h.unregister()
	}
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}
