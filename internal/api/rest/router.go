package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/firewatch/fire-relay/internal/domain/emergency"
	"github.com/firewatch/fire-relay/internal/logger"
)

var (
	// errMissingService is returned when no relay service is provided.
	errMissingService = errors.New("relay service dependency required")
	// errMissingSockets is returned when no socket handler is provided.
	errMissingSockets = errors.New("socket handler dependency required")
)

// RelayService is the thread-safe relay facade the HTTP surface consumes.
// Every operation routes through the hub's scheduling mechanism.
type RelayService interface {
	Status(ctx context.Context) (emergency.StatusSnapshot, error)
	ScheduleManualTrigger()
	ScheduleAlarmClear()
	ScheduleAdminMessage(message, from string)
}

// SocketHandler serves the websocket endpoints mounted on the same router.
type SocketHandler interface {
	HandleClient(c *gin.Context)
	HandleAdmin(c *gin.Context)
}

// Dependencies carries everything the router needs.
type Dependencies struct {
	Service RelayService
	Sockets SocketHandler
	// AdminCredentials maps admin usernames to passwords for the login check.
	AdminCredentials map[string]string
	// StaticDir is served under /static/. Empty disables static serving.
	StaticDir string
}

// NewRouter builds the HTTP handler: admin API, PWA subscription stub,
// websocket endpoints and static pages, all behind a permissive CORS policy.
func NewRouter(ctx context.Context, deps Dependencies) (*gin.Engine, error) {
	if deps.Service == nil {
		return nil, errMissingService
	}

	if deps.Sockets == nil {
		return nil, errMissingSockets
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		service:     deps.Service,
		credentials: deps.AdminCredentials,
		ctx:         logger.WithName(ctx, "http"),
	}

	router.GET("/ws/client", deps.Sockets.HandleClient)
	router.GET("/ws/admin", deps.Sockets.HandleAdmin)

	router.POST("/api/admin/login", handler.handleLogin)
	router.POST("/api/admin/broadcast", handler.handleBroadcast)
	router.POST("/api/admin/trigger_alarm", handler.handleTriggerAlarm)
	router.POST("/api/admin/clear_alarm", handler.handleClearAlarm)
	router.GET("/api/status", handler.handleStatus)

	router.POST("/api/subscribe", handler.handleSubscribe)

	if deps.StaticDir != "" {
		router.Static("/static", deps.StaticDir)
	}

	router.GET("/", redirectTo("/static/client.html"))
	router.GET("/admin", redirectTo("/static/admin.html"))
	router.GET("/mobile", redirectTo("/static/mobile.html"))

	return router, nil
}

type httpHandler struct {
	service     RelayService
	credentials map[string]string
	ctx         context.Context
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin performs the literal credential lookup and issues the trivial
// admin token the dashboard expects. This is not an authentication layer.
func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})

		return
	}

	password, ok := h.credentials[request.Username]
	if !ok || password != request.Password {
		logger.WarnKV(h.ctx, "Admin login rejected", "username", request.Username)
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "Invalid credentials",
		})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   "admin_" + request.Username,
		"message": "Login successful",
	})
}

type broadcastPayload struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// handleBroadcast delivers an announcement as an admin_message to every
// client. Map attachments travel over the admin socket's broadcast type, not
// through this endpoint.
func (h *httpHandler) handleBroadcast(c *gin.Context) {
	var request broadcastPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})

		return
	}

	from := request.Token
	if from == "" {
		from = "Admin"
	}

	h.service.ScheduleAdminMessage(request.Message, from)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleTriggerAlarm(c *gin.Context) {
	h.service.ScheduleManualTrigger()

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Alarm triggered"})
}

func (h *httpHandler) handleClearAlarm(c *gin.Context) {
	h.service.ScheduleAlarmClear()

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Alarm cleared"})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	snapshot, err := h.service.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status_unavailable"})

		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// handleSubscribe is the PWA push subscription stub. Native apps register
// their tokens over the client socket instead.
func (h *httpHandler) handleSubscribe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Subscribed"})
}

func redirectTo(location string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Redirect(http.StatusFound, location)
	}
}
