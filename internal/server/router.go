package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/auth"
	"github.com/MarcoPoloResearchLab/waypoint/internal/location"
	"github.com/MarcoPoloResearchLab/waypoint/internal/monitor"
	"github.com/MarcoPoloResearchLab/waypoint/internal/notify"
	"github.com/MarcoPoloResearchLab/waypoint/internal/proximity"
	"github.com/MarcoPoloResearchLab/waypoint/internal/records"
	"github.com/MarcoPoloResearchLab/waypoint/internal/theme"
	"github.com/MarcoPoloResearchLab/waypoint/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ownerContextKey          = "waypoint_owner_id"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingValidator = errors.New("session validator dependency required")
	errMissingSessions  = errors.New("session holder dependency required")
	errMissingUsers     = errors.New("user directory dependency required")
	errMissingRecords   = errors.New("records service dependency required")
	errMissingMonitor   = errors.New("monitor dependency required")
	errMissingFeed      = errors.New("location feed dependency required")
	errMissingAlerts    = errors.New("alert dispatcher dependency required")
)

type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type SessionHolder interface {
	SignIn(owner string, claims auth.SessionClaims) error
	SignOut()
	CurrentOwner() (string, bool)
	CurrentEmail() string
}

type UserDirectory interface {
	ResolveOwner(ctx context.Context, claims auth.SessionClaims) (string, error)
	LookupByEmail(ctx context.Context, email string) (users.Identity, error)
}

type WatchMonitor interface {
	Watch(ctx context.Context, target proximity.Target) error
	Unwatch(ctx context.Context, id string) error
	StopAll(ctx context.Context) error
	PermissionChanged(ctx context.Context, granted bool) error
	Status(ctx context.Context) (monitor.Status, error)
}

type PasswordResetSender interface {
	SendPasswordReset(ctx context.Context, email string) error
}

// Dependencies wires the HTTP surface to the agent's services. Mailer and Theme are optional.
type Dependencies struct {
	Validator         SessionValidator
	Sessions          SessionHolder
	Users             UserDirectory
	Records           *records.Service
	Monitor           WatchMonitor
	Feed              *location.Feed
	Alerts            *notify.Dispatcher
	Mailer            PasswordResetSender
	Theme             *theme.Selector
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Records == nil {
		return nil, errMissingRecords
	}
	if deps.Monitor == nil {
		return nil, errMissingMonitor
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}
	if deps.Alerts == nil {
		return nil, errMissingAlerts
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		validator: deps.Validator,
		sessions:  deps.Sessions,
		users:     deps.Users,
		records:   deps.Records,
		monitor:   deps.Monitor,
		feed:      deps.Feed,
		alerts:    deps.Alerts,
		mailer:    deps.Mailer,
		theme:     deps.Theme,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.POST("/session", handler.handleSignIn)
	router.GET("/session", handler.handleSessionStatus)
	router.DELETE("/session", handler.handleSignOut)
	router.POST("/auth/password-reset", handler.handlePasswordReset)

	router.POST("/location", handler.handleLocationFix)
	router.POST("/location/permission", handler.handleLocationPermission)
	router.POST("/ambient/light", handler.handleAmbientLight)
	router.GET("/theme", handler.handleTheme)

	protected := router.Group("/")
	protected.Use(handler.requireOwner)

	protected.GET("/tasks", handler.handleListTasks)
	protected.POST("/tasks", handler.handleCreateTask)
	protected.GET("/tasks/:id", handler.handleGetTask)
	protected.PUT("/tasks/:id", handler.handleUpdateTask)
	protected.PATCH("/tasks/:id/completion", handler.handleSetTaskCompletion)
	protected.DELETE("/tasks/:id", handler.handleDeleteTask)

	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PUT("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)

	protected.GET("/watches", handler.handleListWatches)
	protected.POST("/watches", handler.handleCreateWatch)
	protected.GET("/watches/:id", handler.handleGetWatch)
	protected.PUT("/watches/:id", handler.handleUpdateWatch)
	protected.DELETE("/watches/:id", handler.handleDeleteWatch)

	protected.GET("/stats", handler.handleStats)
	protected.GET("/monitor", handler.handleMonitorStatus)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	validator SessionValidator
	sessions  SessionHolder
	users     UserDirectory
	records   *records.Service
	monitor   WatchMonitor
	feed      *location.Feed
	alerts    *notify.Dispatcher
	mailer    PasswordResetSender
	theme     *theme.Selector
	logger    *zap.Logger
	heartbeat time.Duration
}

// requireOwner admits requests only while a session is signed in on this device.
func (h *httpHandler) requireOwner(c *gin.Context) {
	owner, ok := h.sessions.CurrentOwner()
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sign_in_required"})
		return
	}
	c.Set(ownerContextKey, owner)
	c.Next()
}

// respondRecordError maps store failures to short response codes.
func (h *httpHandler) respondRecordError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, records.ErrAuthenticationRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign_in_required"})
	case errors.Is(err, records.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, records.ErrInvalidRecord):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_record"})
	default:
		code := "internal_error"
		var serviceErr *records.ServiceError
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		h.logger.Error("record operation failed", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": code})
	}
}

func respondNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
}
