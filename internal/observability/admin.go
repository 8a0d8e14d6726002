package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusFunc returns the JSON-serializable status body for /status.
type StatusFunc func() any

// CallFunc issues a call on the named session and returns the reply payload.
type CallFunc func(ctx context.Context, session string, payload []byte) ([]byte, error)

// ErrSessionNotFound is matched by CallFunc errors that should map to 404.
var ErrSessionNotFound = errors.New("admin: session not found")

// AdminConfig configures the admin router. The session call route is only
// mounted when Call is set.
type AdminConfig struct {
	Node        string
	CorsOrigins []string
	Status      StatusFunc
	Call        CallFunc
	Logger      zerolog.Logger
}

// NewAdminRouter builds the admin HTTP surface: /health, /status, /metrics and
// POST /sessions/:session/call.
func NewAdminRouter(cfg AdminConfig) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	startedAt := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Logger))
	r.Use(RequestMetricsMiddleware(cfg.Node))
	if len(cfg.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"node":    cfg.Node,
			"uptime":  time.Since(startedAt).String(),
			"service": "callmux",
		})
	})
	r.GET("/status", func(c *gin.Context) {
		if cfg.Status == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, cfg.Status())
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Call != nil {
		r.POST("/sessions/:session/call", sessionCall(cfg.Call))
	}
	return r
}

func sessionCall(call CallFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := c.Param("session")
		payload, err := c.GetRawData()
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, gin.H{"session": session, "error": err.Error()})
			return
		}
		reply, err := call(c.Request.Context(), session, payload)
		if err != nil {
			_ = c.Error(err)
			code := http.StatusBadGateway
			if errors.Is(err, ErrSessionNotFound) {
				code = http.StatusNotFound
			}
			c.JSON(code, gin.H{"session": session, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": session, "reply": string(reply)})
	}
}
