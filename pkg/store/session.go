package store

import (
	"errors"
	"strings"
	"time"
)

// NewSessionStore picks the session backend: stateless JWT when a secret
// is configured, revocable Redis-backed opaque tokens otherwise.
func NewSessionStore(jwtSecret string, ttl time.Duration, redisAddr, redisPassword string) (SessionStore, error) {
	if strings.TrimSpace(jwtSecret) != "" {
		return NewJWTSessionStore(jwtSecret, ttl)
	}
	if strings.TrimSpace(redisAddr) == "" {
		return nil, errors.New("session store requires jwtSecret or redis.addr")
	}
	return NewRedisSessionStore(redisAddr, redisPassword, ttl), nil
}
