package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, live, err := c.GetSession(ctx, "unknown-token"); err != nil || live {
		t.Fatalf("GetSession() on empty cache = (live=%v, err=%v), want absent", live, err)
	}

	if err := c.CreateSession(ctx, "some-jwt", "admin", time.Hour); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	username, live, err := c.GetSession(ctx, "some-jwt")
	if err != nil || !live {
		t.Fatalf("GetSession() = (live=%v, err=%v), want live", live, err)
	}
	if username != "admin" {
		t.Errorf("username = %q, want %q", username, "admin")
	}

	if err := c.DeleteSession(ctx, "some-jwt"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, live, _ := c.GetSession(ctx, "some-jwt"); live {
		t.Error("session survived DeleteSession")
	}

	// Revoking again is not an error.
	if err := c.DeleteSession(ctx, "some-jwt"); err != nil {
		t.Errorf("repeat DeleteSession() error = %v", err)
	}
}

func TestSessionExpires(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.CreateSession(ctx, "short-jwt", "admin", time.Minute); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	mr.FastForward(61 * time.Second)

	if _, live, _ := c.GetSession(ctx, "short-jwt"); live {
		t.Error("session survived its TTL")
	}
}

func TestSessionKeysAreDigests(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)

	token := "raw-bearer-token-value"
	if err := c.CreateSession(context.Background(), token, "admin", time.Hour); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// The raw token never appears in the keyspace.
	for _, key := range mr.Keys() {
		if strings.Contains(key, token) {
			t.Errorf("key %q contains the raw token", key)
		}
		if !strings.HasPrefix(key, "session:") {
			t.Errorf("unexpected key %q", key)
		}
	}
}
