// Package httpserver serves the console's operator API: health probes,
// metrics and per-room actions.
package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
)

var ErrServerClosed = http.ErrServerClosed

const requestIDHeader = "X-Request-ID"

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	log     *slog.Logger
	cfg     config.Config
	build   BuildInfo
	rooms   Rooms
	metrics *metrics.Metrics

	ready atomic.Bool

	engine *gin.Engine
	srv    *http.Server
}

// New builds the server. rooms may be nil, in which case the room routes
// report no rooms.
func New(cfg config.Config, logger *slog.Logger, build BuildInfo, rooms Rooms, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:     logger.With("component", "httpserver"),
		cfg:     cfg,
		build:   build,
		rooms:   rooms,
		metrics: m,
		engine:  gin.New(),
	}

	s.engine.Use(
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
		originFilter(cfg.AllowedOrigins),
	)
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the routed handler. It is meant for tests and for
// embedding the API in another server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetReady marks the server ready or not ready for /readyz.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	s.engine.GET("/readyz", func(c *gin.Context) {
		if !s.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})

	s.engine.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.build)
	})

	s.engine.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(s.metrics)))

	s.engine.GET("/webrtc/ice", func(c *gin.Context) {
		if err := s.cfg.ICEConfigError(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"iceServers": s.cfg.ICEServers})
	})

	rooms := s.engine.Group("/rooms", bearerAuth(s.cfg.APIToken))
	{
		rooms.GET("", s.listRooms)
		rooms.GET("/:name", s.getRoom)
		rooms.POST("/:name/call", s.callRoom)
		rooms.POST("/:name/hangup", s.hangUpRoom)
		rooms.POST("/:name/restart", s.restartRoom)
		rooms.POST("/:name/send", s.sendToRoom)
		rooms.POST("/:name/teleop/start", s.startTeleop)
		rooms.POST("/:name/teleop/stop", s.stopTeleop)
		rooms.POST("/:name/mute", s.muteRoom)
		rooms.POST("/:name/camera/toggle", s.toggleCamera)
		rooms.PUT("/:name/status", s.updateStreamStatus)
	}
}

func recoverMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
			}
		}()
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Request.Header.Set(requestIDHeader, reqID)
		c.Header(requestIDHeader, reqID)
		c.Next()
	}
}

func requestLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", c.Request.RemoteAddr,
			"request_id", c.GetHeader(requestIDHeader),
		)
	}
}
