package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/ban"
	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/resolver"
	"github.com/crosslink-chat/crosslink-server/internal/room"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// fakeRooms satisfies room.Repository; the pipeline tests resolve through the pre-seeded cache so only the miss path
// would reach it.
type fakeRooms struct {
	rooms map[int64]*room.Room
	perms map[int64]*room.Permissions
}

func (r *fakeRooms) List(_ context.Context, _ bool) ([]room.WithChannelCount, error) {
	return nil, nil
}

func (r *fakeRooms) GetByID(_ context.Context, id int64) (*room.Room, error) {
	rm, ok := r.rooms[id]
	if !ok {
		return nil, room.ErrNotFound
	}
	cpy := *rm
	return &cpy, nil
}

func (r *fakeRooms) GetByName(_ context.Context, _ string) (*room.Room, error) {
	return nil, room.ErrNotFound
}

func (r *fakeRooms) Create(_ context.Context, _ room.CreateParams) (*room.Room, error) {
	return nil, room.ErrNotFound
}

func (r *fakeRooms) Update(_ context.Context, _ int64, _ room.UpdateParams) (*room.Room, error) {
	return nil, room.ErrNotFound
}

func (r *fakeRooms) Delete(_ context.Context, _ int64) error { return nil }

func (r *fakeRooms) GetPermissions(_ context.Context, roomID int64) (*room.Permissions, error) {
	p, ok := r.perms[roomID]
	if !ok {
		return nil, room.ErrNotFound
	}
	cpy := *p
	return &cpy, nil
}

func (r *fakeRooms) UpdatePermissions(_ context.Context, _ int64, _ room.PermissionsParams) (*room.Permissions, error) {
	return nil, room.ErrNotFound
}

// fakeBans satisfies ban.Repository with a static banned set.
type fakeBans struct {
	banned map[int64]bool
}

func (b *fakeBans) List(_ context.Context, _ bool) ([]ban.Ban, error)           { return nil, nil }
func (b *fakeBans) Ban(_ context.Context, _ ban.CreateParams) (*ban.Ban, error) { return nil, nil }
func (b *fakeBans) Unban(_ context.Context, _ int64, _ string) (*ban.Ban, error) {
	return nil, ban.ErrNotFound
}
func (b *fakeBans) IsBanned(_ context.Context, guildID int64) (bool, error) {
	return b.banned[guildID], nil
}

// pipeline bundles a fully wired coordinator over fakes and miniredis.
type pipeline struct {
	coordinator *Coordinator
	client      *fakePlatform
	subs        *fakeSubs
	logs        *fakeLogs
	events      *spyEvents
	cache       *cache.Cache
	writer      *messagelog.Writer
	mr          *miniredis.Miniredis
}

func newTestPipeline(t *testing.T, perms room.Permissions) *pipeline {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cacheStore := cache.New(rdb)
	client := newFakePlatform()
	subs := newFakeSubs()
	logs := newFakeLogs()
	events := &spyEvents{}

	rm := room.Room{ID: 1, Name: "general", IsActive: true}
	roomSubs := []subscription.Subscription{
		{ID: 1, RoomID: 1, GuildID: 10, ChannelID: 100, GuildName: "Guild A", IsActive: true},
		{ID: 2, RoomID: 1, GuildID: 20, ChannelID: 200, GuildName: "Guild B", IsActive: true},
		{ID: 3, RoomID: 1, GuildID: 30, ChannelID: 300, GuildName: "Guild C", IsActive: true},
	}

	ctx := context.Background()
	if err := cacheStore.SetRoomSnapshot(ctx, &cache.RoomSnapshot{Room: rm, Permissions: perms, Subscriptions: roomSubs}); err != nil {
		t.Fatalf("seed room snapshot: %v", err)
	}
	if err := cacheStore.SetChannelRoom(ctx, 10, 100, 1); err != nil {
		t.Fatalf("seed channel binding: %v", err)
	}
	if err := cacheStore.SetGuildBanned(ctx, 10, false); err != nil {
		t.Fatalf("seed ban flag: %v", err)
	}

	rooms := &fakeRooms{
		rooms: map[int64]*room.Room{1: &rm},
		perms: map[int64]*room.Permissions{1: &perms},
	}
	bans := &fakeBans{banned: make(map[int64]bool)}

	res := resolver.New(cacheStore, rooms, subs, bans, zerolog.Nop())
	engine := NewEngine(client, subs, events, nil, zerolog.Nop(), 4, 0)
	t.Cleanup(func() { engine.Close(time.Second) })

	writer := messagelog.NewWriter(logs, zerolog.Nop(), 64, 8, 20*time.Millisecond)
	go writer.Run()

	coordinator := NewCoordinator(CoordinatorParams{
		Resolver: res,
		Limiter:  NewRateLimiter(cacheStore),
		Filter:   NewFilter(),
		Replies:  NewReplyResolver(logs, client, zerolog.Nop()),
		Engine:   engine,
		Cache:    cacheStore,
		Writer:   writer,
		Subs:     subs,
		Client:   client,
		Events:   events,
		Logger:   zerolog.Nop(),
	}, 16)

	return &pipeline{
		coordinator: coordinator,
		client:      client,
		subs:        subs,
		logs:        logs,
		events:      events,
		cache:       cacheStore,
		writer:      writer,
		mr:          mr,
	}
}

func testInbound(messageID int64, content string) Inbound {
	return Inbound{
		GuildID:       10,
		GuildName:     "Guild A",
		ChannelID:     100,
		MessageID:     messageID,
		AuthorID:      77,
		AuthorDisplay: "alice",
		Content:       content,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestPipelineRelaysMessage(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, openPerms())
	in := testInbound(1001, "hello everyone")
	p.coordinator.process(context.Background(), &in)

	// Fan-out skips the source channel.
	if got := p.client.sentTo(100); len(got) != 0 {
		t.Errorf("source channel received %v, want nothing", got)
	}
	for _, ch := range []int64{200, 300} {
		got := p.client.sentTo(ch)
		if len(got) != 1 {
			t.Fatalf("channel %d received %d messages, want 1", ch, len(got))
		}
		env, ok := Parse(got[0])
		if !ok {
			t.Fatalf("delivered content is not an envelope: %q", got[0])
		}
		if env.AuthorDisplay != "alice" || env.Body != "hello everyone" {
			t.Errorf("envelope = %q / %q, want alice / hello everyone", env.AuthorDisplay, env.Body)
		}
		if env.GuildName != "Guild A" {
			t.Errorf("GuildName = %q, want %q", env.GuildName, "Guild A")
		}
	}

	if p.events.messageCount() != 1 {
		t.Errorf("NewMessage events = %d, want 1", p.events.messageCount())
	}

	m := p.coordinator.Metrics()
	if m.Received != 1 || m.Relayed != 1 || m.Delivered != 2 || m.Failed != 0 {
		t.Errorf("metrics = %+v, want received=1 relayed=1 delivered=2", m)
	}

	// The log writer persists the entry with delivery counts.
	p.writer.Close(time.Second)
	entries := p.logs.stored()
	if len(entries) != 1 {
		t.Fatalf("logged entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.RoomID != 1 || e.SourceMessageID != 1001 || e.DeliveredCount != 2 || e.FailedCount != 0 {
		t.Errorf("entry = %+v, want room 1, source 1001, delivered 2", e)
	}
}

func TestPipelineIgnoresBotAuthors(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, openPerms())
	in := testInbound(1002, "echoed envelope")
	in.AuthorIsBot = true
	p.coordinator.process(context.Background(), &in)

	if p.client.sentCount() != 0 {
		t.Errorf("sent %d messages for bot author, want 0", p.client.sentCount())
	}
	m := p.coordinator.Metrics()
	if m.Received != 1 || m.Relayed != 0 {
		t.Errorf("metrics = %+v, want received=1 relayed=0", m)
	}
}

func TestPipelineRateLimitsAndNotifiesOnce(t *testing.T) {
	t.Parallel()

	perms := openPerms()
	perms.RateLimitSeconds = 30
	p := newTestPipeline(t, perms)
	ctx := context.Background()

	first := testInbound(1003, "first message")
	p.coordinator.process(ctx, &first)

	second := testInbound(1004, "second message")
	p.coordinator.process(ctx, &second)

	m := p.coordinator.Metrics()
	if m.Relayed != 1 || m.ByReason[string(ReasonRateLimited)] != 1 {
		t.Fatalf("metrics = %+v, want 1 relayed and 1 rate-limited drop", m)
	}

	// The author gets one notice, asynchronously.
	waitFor(t, func() bool { return p.client.noticeCount() == 1 }, "rejection notice")

	// A further rejected message within the notice window stays silent.
	third := testInbound(1005, "third message")
	p.coordinator.process(ctx, &third)
	waitFor(t, func() bool {
		return p.coordinator.Metrics().ByReason[string(ReasonRateLimited)] == 2
	}, "second rate-limited drop")

	time.Sleep(50 * time.Millisecond)
	if got := p.client.noticeCount(); got != 1 {
		t.Errorf("notices = %d, want 1 (deduplicated)", got)
	}
}

func TestPipelineSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, openPerms())
	ctx := context.Background()

	first := testInbound(1006, "same words")
	p.coordinator.process(ctx, &first)
	second := testInbound(1007, "same words")
	p.coordinator.process(ctx, &second)

	if got := p.client.sentCount(); got != 2 {
		t.Errorf("sent = %d, want 2 (one fan-out, duplicate dropped)", got)
	}
	m := p.coordinator.Metrics()
	if m.ByReason[string(ReasonDuplicateMessage)] != 1 {
		t.Errorf("metrics = %+v, want 1 duplicate drop", m)
	}
}

func TestPipelineDropsUnsubscribedChannel(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, openPerms())
	in := testInbound(1008, "hello")
	in.ChannelID = 999
	p.coordinator.process(context.Background(), &in)

	if p.client.sentCount() != 0 {
		t.Errorf("sent %d messages from unsubscribed channel, want 0", p.client.sentCount())
	}
	m := p.coordinator.Metrics()
	if m.ByReason[string(ReasonNotSubscribed)] != 1 {
		t.Errorf("metrics = %+v, want 1 not-subscribed drop", m)
	}
	// Routing drops are silent.
	time.Sleep(50 * time.Millisecond)
	if p.client.noticeCount() != 0 {
		t.Errorf("notices = %d, want 0", p.client.noticeCount())
	}
}

func TestPipelineFilterRejectionNotifies(t *testing.T) {
	t.Parallel()

	perms := openPerms()
	perms.AllowURLs = false
	p := newTestPipeline(t, perms)

	in := testInbound(1009, "visit https://example.com")
	p.coordinator.process(context.Background(), &in)

	if p.client.sentCount() != 0 {
		t.Errorf("sent %d messages for rejected content, want 0", p.client.sentCount())
	}
	m := p.coordinator.Metrics()
	if m.ByReason[string(ReasonUrlsDisallowed)] != 1 {
		t.Errorf("metrics = %+v, want 1 urls-disallowed drop", m)
	}
	waitFor(t, func() bool { return p.client.noticeCount() == 1 }, "rejection notice")
}

func TestPipelineBanLifecycle(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, openPerms())
	ctx := context.Background()

	if err := p.cache.SetGuildBanned(ctx, 10, true); err != nil {
		t.Fatalf("SetGuildBanned() error = %v", err)
	}

	blocked := testInbound(2001, "while banned")
	p.coordinator.process(ctx, &blocked)

	if p.client.sentCount() != 0 {
		t.Fatalf("sent %d messages from banned guild, want 0", p.client.sentCount())
	}
	m := p.coordinator.Metrics()
	if m.ByReason[string(ReasonGuildBanned)] != 1 {
		t.Fatalf("metrics = %+v, want 1 guild-banned drop", m)
	}

	// Lifting the ban only drops the cached flag; the retained subscriptions carry delivery straight away.
	if err := p.cache.DeleteGuildBan(ctx, 10); err != nil {
		t.Fatalf("DeleteGuildBan() error = %v", err)
	}

	restored := testInbound(2002, "back online")
	p.coordinator.process(ctx, &restored)

	for _, ch := range []int64{200, 300} {
		if got := p.client.sentTo(ch); len(got) != 1 {
			t.Errorf("channel %d received %d messages after unban, want 1", ch, len(got))
		}
	}
	if got := p.subs.deactivatedChannels(); len(got) != 0 {
		t.Errorf("deactivated channels = %v, want none across the ban lifecycle", got)
	}
}

func TestPipelineEnqueueBackpressure(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, openPerms())

	// Workers are not started, so the queue fills to capacity and then refuses.
	for i := range 16 {
		if !p.coordinator.Enqueue(testInbound(int64(2000+i), "queued")) {
			t.Fatalf("Enqueue() = false at %d, want room in queue", i)
		}
	}
	if p.coordinator.Enqueue(testInbound(3000, "overflow")) {
		t.Error("Enqueue() = true on full queue, want false")
	}
}
