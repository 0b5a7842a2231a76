package main

import (
	"context"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/config"
	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/resume"
)

// openResumeStore builds the configured resume backend and the func that
// releases it.
func openResumeStore(ctx context.Context, cfg config.Config) (resume.Store, func() error, error) {
	switch cfg.ResumeBackend {
	case config.ResumeBackendRedis:
		client, err := resume.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return resume.NewRedisStore(client), client.Close, nil
	default:
		return resume.NewMemoryStore(), func() error { return nil }, nil
	}
}
