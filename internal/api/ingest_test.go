package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/relay"
)

const testPlatformToken = "platform-token"

// newIngestApp wires the ingest route over an unstarted coordinator. With no workers consuming, the queue capacity
// alone decides whether Enqueue succeeds.
func newIngestApp(queueSize int) *fiber.App {
	coordinator := relay.NewCoordinator(relay.CoordinatorParams{Logger: zerolog.Nop()}, queueSize)
	h := NewIngestHandler(coordinator, testPlatformToken, zerolog.Nop())

	app := fiber.New()
	app.Post("/api/ingest", h.Ingest)
	return app
}

func ingestRequest(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

const validIngestBody = `{
	"guild_id": "10",
	"guild_name": "Guild A",
	"channel_id": "100",
	"message_id": "1001",
	"author_id": "77",
	"author_display": "alice",
	"content": "hello"
}`

func TestIngestMissingCredential(t *testing.T) {
	t.Parallel()

	app := newIngestApp(4)
	resp, err := app.Test(ingestRequest(validIngestBody, ""))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestIngestWrongCredential(t *testing.T) {
	t.Parallel()

	app := newIngestApp(4)
	resp, err := app.Test(ingestRequest(validIngestBody, "wrong-token"))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestIngestMissingIDs(t *testing.T) {
	t.Parallel()

	app := newIngestApp(4)
	resp, err := app.Test(ingestRequest(`{"guild_id":"10","content":"hello"}`, testPlatformToken))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestIngestMalformedBody(t *testing.T) {
	t.Parallel()

	app := newIngestApp(4)
	resp, err := app.Test(ingestRequest(`{not json`, testPlatformToken))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
}

func TestIngestAccepted(t *testing.T) {
	t.Parallel()

	app := newIngestApp(4)
	resp, err := app.Test(ingestRequest(validIngestBody, testPlatformToken))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, fiber.StatusAccepted)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body struct {
		Data struct {
			Queued bool `json:"queued"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if !body.Data.Queued {
		t.Errorf("queued = false, want true (body %s)", raw)
	}
}

func TestIngestQueueFull(t *testing.T) {
	t.Parallel()

	app := newIngestApp(1)

	first, err := app.Test(ingestRequest(validIngestBody, testPlatformToken))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if first.StatusCode != fiber.StatusAccepted {
		t.Fatalf("first status = %d, want %d", first.StatusCode, fiber.StatusAccepted)
	}

	second, err := app.Test(ingestRequest(validIngestBody, testPlatformToken))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if second.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("second status = %d, want %d", second.StatusCode, fiber.StatusServiceUnavailable)
	}
}
