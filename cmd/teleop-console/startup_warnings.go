package main

import (
	"log/slog"
	"net"
	"slices"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/orchestrator"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Mode == config.ModeProd && cfg.ServerAuthKey != "" && cfg.ServerAuthSecret == config.DefaultServerAuthSecret {
		logger.Warn("startup security warning: relay auth secret is the built-in default while --mode=prod",
			"warning_code", "relay_auth_secret_default_in_prod",
			"server_auth_key", cfg.ServerAuthKey,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured (peers behind NAT may fail to connect)",
			"warning_code", "no_ice_servers",
			"ice_config_error", cfg.ICEConfigError() != nil,
			"mode", cfg.Mode,
		)
	}

	if cfg.APIToken == "" && !loopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup security warning: operator API is unauthenticated on a non-loopback address",
			"warning_code", "api_token_unset",
			"listen_addr", cfg.ListenAddr,
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.ResumeBackend == config.ResumeBackendMemory {
		logger.Warn("startup warning: resume backend is memory while --mode=prod (stashed rooms do not survive a restart)",
			"warning_code", "resume_backend_memory_in_prod",
			"resume_backend", cfg.ResumeBackend,
			"mode", cfg.Mode,
		)
	}
}

// logRobotWarnings reports descriptor settings that will make rooms fail or
// connect unauthenticated.
func logRobotWarnings(logger *slog.Logger, cfg config.Config, robot orchestrator.Robot) {
	if logger == nil {
		logger = slog.Default()
	}

	if robot.Token == "" && cfg.RelayJWTSecret == "" {
		logger.Warn("startup warning: robot descriptor has no token and no relay JWT secret is set (rooms join with an empty token)",
			"warning_code", "relay_token_empty",
			"robot", robot.ID,
			"service", robot.Service,
		)
	}

	if robot.Service == "" {
		logger.Warn("startup warning: robot descriptor has no service id",
			"warning_code", "robot_service_empty",
			"robot", robot.ID,
		)
	}

	if robot.Control == "" {
		logger.Warn("startup warning: no operator name (set control in the descriptor or --operator-name)",
			"warning_code", "operator_name_empty",
			"robot", robot.ID,
		)
	}
}

func loopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
