// Package http binds the External Control Surface (procmgr.Control) to a
// gin router, following the teacher's cmd/zmux-server/main.go router
// construction: gin.Recovery first, CORS for dev, a Zap access-log
// middleware, request-id tagging, then the route table.
package http

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/edirooss/supervisor/internal/api/http/middleware"
	"github.com/edirooss/supervisor/internal/procmgr"
)

// NewRouter builds the gin engine serving ctrl's operations (§6 "[EXPANSION
// — HTTP control surface]").
func NewRouter(ctrl procmgr.Control, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())
	if os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"*"},
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(zapLogger(log))
	r.Use(middleware.RequestID())

	h := &handlers{ctrl: ctrl, log: log.Named("api")}

	v1 := r.Group("/api/v1")
	v1.GET("/processes", h.list)
	v1.POST("/processes/:name/start", h.start)
	v1.POST("/processes/:name/stop", h.stop)
	v1.GET("/processes/:name/log", h.readLog)
	v1.DELETE("/processes/:name/log", h.clearLog)
	v1.POST("/groups/:name/start", h.startGroup)
	v1.POST("/groups/:name/stop", h.stopGroup)
	v1.POST("/groups/:name", h.addGroup)
	v1.DELETE("/groups/:name", h.removeGroup)
	v1.POST("/start", h.startAll)
	v1.POST("/stop", h.stopAll)
	v1.POST("/shutdown", h.shutdown)
	v1.POST("/restart", h.restart)
	v1.POST("/reload", h.reload)

	return r
}

// zapLogger is the teacher's ZapLogger middleware, adapted verbatim in
// shape (status-bucketed log level, latency, route, client IP).
func zapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		joined := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", latency),
		}
		if joined != nil {
			fields = append(fields, zap.Error(joined))
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
