package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"livequiz/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	disconnectWait = 5 * time.Second
)

// WSOptions tunes per-connection limits.
type WSOptions struct {
	SendBuffer int
	RateLimit  float64 // inbound messages per second
	Burst      int
}

func (o WSOptions) withDefaults() WSOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	return o
}

type WSHandler struct {
	gateway  *Gateway
	auth     Authenticator
	log      *zap.Logger
	opts     WSOptions
	upgrader websocket.Upgrader
}

func NewWSHandler(gateway *Gateway, auth Authenticator, log *zap.Logger, opts WSOptions) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		gateway: gateway,
		auth:    auth,
		log:     log,
		opts:    opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// client is the Conn behind one websocket. Outbound frames go through send
// and are written by a single writer goroutine.
type client struct {
	id   string
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *client) ID() string { return c.id }

func (c *client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS authenticates the request, upgrades it and pumps messages between
// the socket and the gateway until either side goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	actor, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &client{id: uuid.NewString(), send: make(chan []byte, h.opts.SendBuffer)}
	peer := NewPeer(c, actor)
	log := h.log.With(zap.String("conn", c.id), zap.String("actor", actor.ID), zap.String("role", string(actor.Role)))
	log.Debug("ws connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, c, log)
	}()

	h.readPump(r.Context(), conn, peer, log)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), disconnectWait)
	h.gateway.Disconnect(ctx, peer)
	cancel()

	c.close()
	<-writerDone
	log.Debug("ws disconnected")
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, peer *Peer, log *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.opts.RateLimit), h.opts.Burst)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("ws read error", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			h.gateway.fail(peer, "", domain.Invalidf("rate limit exceeded, slow down"))
			continue
		}
		h.gateway.Handle(ctx, peer, raw)
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, c *client, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("ws write error", zap.Error(err))
				// Unblock the reader so the connection is torn down.
				_ = conn.Close()
				drain(c.send)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(c.send)
				return
			}
		}
	}
}

// drain consumes queued frames until the channel is closed so senders never
// observe a full buffer for a dead socket.
func drain(ch <-chan []byte) {
	go func() {
		for range ch {
		}
	}()
}
