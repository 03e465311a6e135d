package websocket

import (
	"context"
	"net/http"

	"assetflow/internal/policy"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one connected dashboard session.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	actor policy.Actor
}

type envelope struct {
	audience []uint
	payload  []byte
}

// Hub fans workflow events out to the connected clients allowed to see them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Broadcast queues payload for admins and the listed users. It never blocks; a saturated hub drops the message.
func (h *Hub) Broadcast(audience []uint, payload []byte) {
	select {
	case h.broadcast <- envelope{audience: audience, payload: payload}:
	default:
		h.log.Warn("websocket hub busy, dropping live update")
	}
}

// Run owns the client map. It returns when ctx is cancelled, closing every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return nil
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", zap.Uint("user_id", client.actor.ID))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Debug("websocket client disconnected", zap.Uint("user_id", client.actor.ID))
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.wants(msg.audience) {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

func (c *Client) wants(audience []uint) bool {
	if c.actor.Role == policy.RoleAdmin {
		return true
	}
	for _, id := range audience {
		if id == c.actor.ID {
			return true
		}
	}
	return false
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	for {
		// clients never send anything meaningful; reading detects disconnects
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// ServeWs upgrades an authenticated request. Browsers cannot set headers on websocket
// handshakes, so the token comes from the query string.
func ServeWs(hub *Hub, c *gin.Context, authenticate func(token string) (policy.Actor, error)) {
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString, _ = c.Cookie("access_token")
	}
	if tokenString == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	actor, err := authenticate(tokenString)
	if err != nil {
		hub.log.Debug("websocket connection rejected", zap.Error(err))
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), actor: actor}
	select {
	case hub.register <- client:
	case <-hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
