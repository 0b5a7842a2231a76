// Package resume keeps room configurations across console restarts.
//
// A room being served is marked busy for as long as its session runs. When
// the session exits, its configuration is stashed under the room and
// operator token for a grace window so that a console started again within
// the window rejoins with the same settings.
package resume

import (
	"context"
	"errors"
	"time"

	"github.com/wilsonzlin/aero/proxy/teleop-rtc/internal/signaling"
)

var ErrNotFound = errors.New("resume: no stashed configuration")

// Store is a short-lived key/value store for busy markers and stashed
// configurations.
type Store interface {
	// Acquire marks room busy. It reports false when the room already is.
	Acquire(ctx context.Context, room string) (bool, error)
	Release(ctx context.Context, room string) error
	// Stash saves cfg under key until ttl elapses.
	Stash(ctx context.Context, key string, cfg signaling.ServerConfig, ttl time.Duration) error
	// Load returns the configuration stashed under key, or ErrNotFound.
	Load(ctx context.Context, key string) (signaling.ServerConfig, error)
}

// StashKey is the key a room's configuration is stashed under.
func StashKey(room, operatorToken string) string {
	return room + "-" + operatorToken
}
