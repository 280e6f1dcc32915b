package livepush

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// capturePublished subscribes to the events channel, runs publish, and returns the raw envelope it produced.
func capturePublished(t *testing.T, publish func(p *Publisher)) []byte {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	sub := rdb.Subscribe(ctx, eventsChannel)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publish(NewPublisher(rdb, zerolog.Nop()))

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive published event: %v", err)
	}
	return []byte(msg.Payload)
}

func TestPublisherNewMessage(t *testing.T) {
	t.Parallel()

	entry := messagelog.Entry{
		RoomID:          3,
		SourceGuildID:   10,
		SourceChannelID: 100,
		AuthorDisplay:   "alice",
		DeliveredCount:  2,
		CreatedAt:       time.Now().UTC(),
	}
	payload := capturePublished(t, func(p *Publisher) {
		p.NewMessage(context.Background(), entry, "hello rooms")
	})

	var env struct {
		Type string          `json:"t"`
		Data json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != FrameNewMessage {
		t.Errorf("envelope type = %q, want %q", env.Type, FrameNewMessage)
	}

	var event NewMessageEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.RoomID != 3 || event.AuthorDisplay != "alice" || event.Content != "hello rooms" {
		t.Errorf("event = %+v", event)
	}
	if event.DeliveredCount != 2 {
		t.Errorf("DeliveredCount = %d, want 2", event.DeliveredCount)
	}
}

func TestPublisherChannelDeactivated(t *testing.T) {
	t.Parallel()

	sub := subscription.Subscription{RoomID: 1, GuildID: 10, ChannelID: 100, GuildName: "Guild A"}
	payload := capturePublished(t, func(p *Publisher) {
		p.ChannelDeactivated(context.Background(), sub, "channel deleted")
	})

	var env struct {
		Type string          `json:"t"`
		Data json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != FrameChannelUpdate {
		t.Errorf("envelope type = %q, want %q", env.Type, FrameChannelUpdate)
	}

	var event ChannelEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Action != "deactivated" {
		t.Errorf("Action = %q, want %q", event.Action, "deactivated")
	}
	if event.ChannelID != 100 || event.GuildName != "Guild A" || event.Reason != "channel deleted" {
		t.Errorf("event = %+v", event)
	}
}

func TestPublisherSystemNotification(t *testing.T) {
	t.Parallel()

	payload := capturePublished(t, func(p *Publisher) {
		p.SystemNotification(context.Background(), "warning", "store latency elevated")
	})

	var env struct {
		Type string          `json:"t"`
		Data json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != FrameSystemNotification {
		t.Errorf("envelope type = %q, want %q", env.Type, FrameSystemNotification)
	}

	var event SystemNotificationEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Level != "warning" || event.Message != "store latency elevated" {
		t.Errorf("event = %+v", event)
	}
	if event.At.IsZero() {
		t.Error("At is zero")
	}
}
