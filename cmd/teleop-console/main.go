package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/auth"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/orchestrator"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/room"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/rtcclient"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if cfg.Mode == config.ModeProd {
		gin.SetMode(gin.ReleaseMode)
	}

	// Catch network misconfiguration before any room is joined. No ICE
	// sockets exist until the first peer connection is created.
	api, err := webrtcpeer.NewAPI(cfg, logger)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting teleop-console",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"server_url", cfg.ServerURL,
		"robot_file", cfg.RobotFile,
		"resume_backend", cfg.ResumeBackend,
		"resume_grace", cfg.ResumeGrace,
		"ice_servers", len(cfg.ICEServers),
		"datachannel_ordered", cfg.DataChannel.Ordered,
		"datachannel_max_messages_per_second", cfg.DataChannelMessagesPerSecond,
	)

	logStartupWarnings(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openResumeStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open resume store", "backend", cfg.ResumeBackend, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("resume store close failed", "err", err)
		}
	}()

	m := metrics.New()
	orch := orchestrator.New(orchestrator.Options{
		ServiceURL: cfg.ServiceURL,
		ICEServers: cfg.ICEServers,
		Room: room.Options{
			Store:         store,
			OperatorToken: cfg.OperatorToken,
			Grace:         cfg.ResumeGrace,
			RTC: rtcclient.Options{
				API: api,
				Signaling: signaling.Options{
					Credentials: auth.RelayCredentials{
						AuthKey:    cfg.ServerAuthKey,
						AuthSecret: cfg.ServerAuthSecret,
						JWTSecret:  cfg.RelayJWTSecret,
						JWTTTL:     cfg.RelayJWTTTL,
					},
					ConnectTimeout: cfg.RelayConnectTimeout,
					Logger:         logger,
				},
				Logger:  logger,
				Metrics: m,
			},
		},
		Data: room.DataOptions{Channel: rtcclient.DataChannelOptions{
			Delivery:          cfg.DataChannel,
			MessagesPerSecond: cfg.DataChannelMessagesPerSecond,
		}},
		Stream:  room.StreamOptions{RemoteAudioMuted: cfg.RemoteAudioMuted},
		Logger:  logger,
		Metrics: m,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}, orch, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	if cfg.RobotFile != "" {
		go startRobot(ctx, logger, cfg, orch)
	} else {
		logger.Info("no robot descriptor configured; serving without rooms")
	}

	select {
	case err := <-errCh:
		orch.Stop(context.Background())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	orch.Stop(shutdownCtx)

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// startRobot loads the robot descriptor and joins its rooms. Rooms that fail
// are logged; the operator can restart them through the API.
func startRobot(ctx context.Context, logger *slog.Logger, cfg config.Config, orch *orchestrator.Orchestrator) {
	robot, err := orchestrator.LoadRobotFile(cfg.RobotFile)
	if err != nil {
		logger.Error("failed to load robot descriptor", "path", cfg.RobotFile, "err", err)
		return
	}
	if cfg.OperatorName != "" {
		robot.Control = cfg.OperatorName
	}
	logRobotWarnings(logger, cfg, robot)
	if robot.Status == "stopped" {
		logger.Warn("robot service is not active; not joining rooms", "robot", robot.ID, "service", robot.Service, "service_status", robot.ServiceStatus)
		return
	}
	switch err := orch.Start(ctx, robot); {
	case errors.Is(err, orchestrator.ErrStopped):
		logger.Info("shutdown began before every room started", "robot", robot.ID)
	case err != nil:
		logger.Warn("some rooms failed to start", "robot", robot.ID, "err", err)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
