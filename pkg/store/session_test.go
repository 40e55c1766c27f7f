package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestNewSessionStorePrefersJWT(t *testing.T) {
	s, err := NewSessionStore("super-secret", time.Hour, "", "")
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	if _, ok := s.(*JWTSessionStore); !ok {
		t.Fatalf("session store = %T, want *JWTSessionStore", s)
	}
}

func TestNewSessionStoreFallsBackToRedis(t *testing.T) {
	r := miniredis.RunT(t)
	s, err := NewSessionStore("", time.Hour, r.Addr(), "")
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	if _, ok := s.(*RedisSessionStore); !ok {
		t.Fatalf("session store = %T, want *RedisSessionStore", s)
	}
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if userID, ok, err := s.GetUserIDByToken(token); err != nil || !ok || userID != "user-1" {
		t.Fatalf("resolve token: user=%q ok=%v err=%v", userID, ok, err)
	}
}

func TestNewSessionStoreRequiresABackend(t *testing.T) {
	if _, err := NewSessionStore("", time.Hour, "", ""); err == nil {
		t.Fatal("expected error when neither jwt secret nor redis addr is set")
	}
}
