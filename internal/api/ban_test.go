package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/auth"
	"github.com/crosslink-chat/crosslink-server/internal/ban"
	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/livepush"
)

// fakeBanRepo satisfies ban.Repository, recording the ban and unban calls it serves.
type fakeBanRepo struct {
	mu      sync.Mutex
	created []ban.CreateParams
	unbans  []int64
}

func (r *fakeBanRepo) List(_ context.Context, _ bool) ([]ban.Ban, error) { return nil, nil }

func (r *fakeBanRepo) Ban(_ context.Context, params ban.CreateParams) (*ban.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, params)
	return &ban.Ban{
		ID:        int64(len(r.created)),
		GuildID:   params.GuildID,
		GuildName: params.GuildName,
		Reason:    params.Reason,
		BannedBy:  params.BannedBy,
		BannedAt:  time.Now().UTC(),
		IsActive:  true,
	}, nil
}

func (r *fakeBanRepo) Unban(_ context.Context, guildID int64, actor string) (*ban.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbans = append(r.unbans, guildID)
	lifted := time.Now().UTC()
	return &ban.Ban{
		ID:         1,
		GuildID:    guildID,
		GuildName:  "Guild A",
		IsActive:   false,
		UnbannedAt: &lifted,
		UnbannedBy: &actor,
	}, nil
}

func (r *fakeBanRepo) IsBanned(_ context.Context, _ int64) (bool, error) { return false, nil }

// asAdmin injects the authenticated identity the way the auth middleware would.
func asAdmin(c fiber.Ctx) error {
	c.Locals("identity", &auth.Identity{Username: "admin", IsSuperuser: true})
	return c.Next()
}

// subscribeInvalidations returns a confirmed subscription on the cache invalidation channel.
func subscribeInvalidations(t *testing.T, rdb *redis.Client) *redis.PubSub {
	t.Helper()
	sub := rdb.Subscribe(context.Background(), cache.InvalidateChannel)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return sub
}

func receiveInvalidation(t *testing.T, sub *redis.PubSub) cache.Invalidation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive invalidation: %v", err)
	}
	var inv cache.Invalidation
	if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
		t.Fatalf("decode invalidation %q: %v", msg.Payload, err)
	}
	return inv
}

func newBanApp(t *testing.T, repo *fakeBanRepo) (*fiber.App, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := NewBanHandler(repo, cache.NewPublisher(rdb), livepush.NewPublisher(rdb, zerolog.Nop()), zerolog.Nop())

	app := fiber.New()
	app.Use(asAdmin)
	app.Post("/api/servers/bans", h.Create)
	app.Delete("/api/servers/bans/:guildID", h.Delete)
	return app, rdb
}

func TestBanCreateRecordsFlagOnly(t *testing.T) {
	t.Parallel()

	repo := &fakeBanRepo{}
	app, rdb := newBanApp(t, repo)
	sub := subscribeInvalidations(t, rdb)

	body := `{"guild_id": "42", "guild_name": "Guild A", "reason": "spam"}`
	req := httptest.NewRequest(http.MethodPost, "/api/servers/bans", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	repo.mu.Lock()
	if len(repo.created) != 1 {
		repo.mu.Unlock()
		t.Fatalf("Ban calls = %d, want 1", len(repo.created))
	}
	got := repo.created[0]
	repo.mu.Unlock()
	if got.GuildID != 42 || got.BannedBy != "admin" {
		t.Errorf("Ban params = %+v, want guild 42 by admin", got)
	}

	// The ban is a recorded flag plus a published invalidation; channel bindings are untouched.
	inv := receiveInvalidation(t, sub)
	if inv.GuildID == nil || *inv.GuildID != 42 {
		t.Errorf("invalidation = %+v, want guild 42", inv)
	}
}

func TestBanCreateRequiresGuildID(t *testing.T) {
	t.Parallel()

	app, _ := newBanApp(t, &fakeBanRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/servers/bans", strings.NewReader(`{"reason":"spam"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestBanDeletePublishesGuildInvalidation(t *testing.T) {
	t.Parallel()

	repo := &fakeBanRepo{}
	app, rdb := newBanApp(t, repo)
	sub := subscribeInvalidations(t, rdb)

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/servers/bans/42", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}

	repo.mu.Lock()
	unbans := append([]int64(nil), repo.unbans...)
	repo.mu.Unlock()
	if len(unbans) != 1 || unbans[0] != 42 {
		t.Fatalf("Unban calls = %v, want [42]", unbans)
	}

	// Dropping the cached flag is all it takes for the guild's retained subscriptions to deliver again.
	inv := receiveInvalidation(t, sub)
	if inv.GuildID == nil || *inv.GuildID != 42 {
		t.Errorf("invalidation = %+v, want guild 42", inv)
	}
}
