package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/orchestrator"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupWarnings_DefaultRelaySecretInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:             config.ModeProd,
		ListenAddr:       "127.0.0.1:8090",
		ServerAuthKey:    "auth",
		ServerAuthSecret: config.DefaultServerAuthSecret,
		ResumeBackend:    config.ResumeBackendRedis,
		ICEServers:       []webrtc.ICEServer{{URLs: []string{"stun:stun.example:3478"}}},
	})

	codes := warningCodes(records())
	r, ok := codes["relay_auth_secret_default_in_prod"]
	if !ok {
		t.Fatalf("expected warning_code=relay_auth_secret_default_in_prod, got %#v", records())
	}
	if r.attrs["server_auth_key"] != "auth" {
		t.Fatalf("server_auth_key attr = %#v, want %q", r.attrs["server_auth_key"], "auth")
	}
	if len(codes) != 1 {
		t.Fatalf("unexpected extra warnings: %#v", codes)
	}
}

func TestStartupWarnings_DevDefaults(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, config.Config{
		Mode:             config.ModeDev,
		ListenAddr:       "0.0.0.0:8090",
		ServerAuthKey:    "auth",
		ServerAuthSecret: config.DefaultServerAuthSecret,
		ResumeBackend:    config.ResumeBackendMemory,
		AllowedOrigins:   []string{"*"},
	})

	codes := warningCodes(records())
	for _, want := range []string{"no_ice_servers", "api_token_unset", "allowed_origins_wildcard"} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", want, records())
		}
	}
	for _, unwanted := range []string{"relay_auth_secret_default_in_prod", "resume_backend_memory_in_prod"} {
		if _, ok := codes[unwanted]; ok {
			t.Fatalf("unexpected warning_code=%s in dev mode", unwanted)
		}
	}
}

func TestRobotWarnings(t *testing.T) {
	logger, records := newRecordingLogger()
	logRobotWarnings(logger, config.Config{}, orchestrator.Robot{ID: "robot-1"})

	codes := warningCodes(records())
	for _, want := range []string{"relay_token_empty", "robot_service_empty", "operator_name_empty"} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", want, records())
		}
	}

	logger, records = newRecordingLogger()
	logRobotWarnings(logger, config.Config{RelayJWTSecret: "s"}, orchestrator.Robot{ID: "robot-1", Service: "svc", Control: "console"})
	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %#v", codes)
	}
}

func TestLoopbackListenAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8090": true,
		"[::1]:8090":     true,
		"localhost:8090": true,
		"0.0.0.0:8090":   false,
		":8090":          false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := loopbackListenAddr(addr); got != want {
			t.Fatalf("loopbackListenAddr(%q)=%v, want %v", addr, got, want)
		}
	}
}
