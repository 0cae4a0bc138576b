package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/firewatch/fire-relay/internal/logger"
	"github.com/firewatch/fire-relay/internal/registry"
)

// Hub is the relay surface the socket endpoints depend on. Schedule is the
// only thread-safe entry point; the remaining operations are hub-context and
// must be invoked from scheduled tasks.
type Hub interface {
	Schedule(task func())

	ConnectClient(ctx context.Context, conn registry.Conn) (registry.Handle, error)
	DisconnectClient(ctx context.Context, handle registry.Handle)
	HandleClientMessage(ctx context.Context, handle registry.Handle, data []byte)

	ConnectAdmin(ctx context.Context, conn registry.Conn) (registry.Handle, error)
	DisconnectAdmin(ctx context.Context, handle registry.Handle)
	HandleAdminMessage(ctx context.Context, handle registry.Handle, data []byte)
}

// Handler upgrades HTTP requests to client and admin sockets and pumps their
// messages onto the hub. Socket writes all happen on the hub goroutine, the
// per-connection goroutine here only reads.
type Handler struct {
	hub      Hub
	upgrader websocket.Upgrader
	ctx      context.Context
}

// NewHandler returns a socket handler feeding the given hub.
func NewHandler(ctx context.Context, hub Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The deployment is a trusted local network, mirror the
			// permissive CORS policy of the HTTP surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx: logger.WithName(ctx, "ws"),
	}
}

// connector is the hub-context connect operation of one role.
type connector func(ctx context.Context, conn registry.Conn) (registry.Handle, error)

// HandleClient serves the /ws/client endpoint.
func (h *Handler) HandleClient(c *gin.Context) {
	h.serve(c, h.hub.ConnectClient, h.hub.HandleClientMessage, h.hub.DisconnectClient)
}

// HandleAdmin serves the /ws/admin endpoint.
func (h *Handler) HandleAdmin(c *gin.Context) {
	h.serve(c, h.hub.ConnectAdmin, h.hub.HandleAdminMessage, h.hub.DisconnectAdmin)
}

// serve runs one socket lifecycle: upgrade, register on the hub, pump inbound
// messages onto the hub, unregister when the read loop ends for any reason.
func (h *Handler) serve(
	c *gin.Context,
	connect connector,
	handleMessage func(ctx context.Context, handle registry.Handle, data []byte),
	disconnect func(ctx context.Context, handle registry.Handle),
) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WarnKV(h.ctx, "WebSocket upgrade failed", "error", err)

		return
	}

	conn.SetReadLimit(maxMessageSize)
	wrapped := &socketConn{conn: conn}

	type connectResult struct {
		handle registry.Handle
		err    error
	}

	result := make(chan connectResult, 1)

	h.hub.Schedule(func() {
		handle, err := connect(h.ctx, wrapped)
		result <- connectResult{handle: handle, err: err}
	})

	registered := <-result
	if registered.err != nil {
		logger.WarnKV(h.ctx, "Socket registration failed", "error", registered.err)

		return
	}

	handle := registered.handle

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		// ReadMessage hands out a fresh buffer per frame, the closure can
		// keep it safely.
		h.hub.Schedule(func() { handleMessage(h.ctx, handle, data) })
	}

	h.hub.Schedule(func() { disconnect(h.ctx, handle) })
	_ = conn.Close()
}
