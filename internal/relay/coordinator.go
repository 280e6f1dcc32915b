package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/platform"
	"github.com/crosslink-chat/crosslink-server/internal/resolver"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// envelopeMaxLength is the platform's hard message length limit.
const envelopeMaxLength = 2000

// Events receives the user-observable side effects of relaying, normally backed by the live push publisher.
type Events interface {
	ChannelNotifier
	NewMessage(ctx context.Context, entry messagelog.Entry, content string)
}

// MetricsSnapshot is a point-in-time copy of the coordinator's counters.
type MetricsSnapshot struct {
	Received  int64            `json:"received"`
	Relayed   int64            `json:"relayed"`
	Dropped   int64            `json:"dropped"`
	Delivered int64            `json:"delivered"`
	Failed    int64            `json:"failed"`
	ByReason  map[string]int64 `json:"dropped_by_reason"`
}

type metrics struct {
	received  atomic.Int64
	relayed   atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	byReason map[string]int64
}

func (m *metrics) drop(reason Reason) {
	m.dropped.Add(1)
	m.mu.Lock()
	m.byReason[string(reason)]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	byReason := make(map[string]int64, len(m.byReason))
	for k, v := range m.byReason {
		byReason[k] = v
	}
	m.mu.Unlock()

	return MetricsSnapshot{
		Received:  m.received.Load(),
		Relayed:   m.relayed.Load(),
		Dropped:   m.dropped.Load(),
		Delivered: m.delivered.Load(),
		Failed:    m.failed.Load(),
		ByReason:  byReason,
	}
}

// Coordinator runs the relay pipeline for every inbound event. All per-message state lives on the stack of the worker
// handling the event; the only shared mutable state is the metrics counters.
type Coordinator struct {
	resolver *resolver.Resolver
	limiter  *RateLimiter
	filter   *Filter
	replies  *ReplyResolver
	engine   *Engine
	cache    *cache.Cache
	writer   *messagelog.Writer
	subs     subscription.Repository
	client   platform.Client
	events   Events
	log      zerolog.Logger

	metrics metrics

	queue chan Inbound
	wg    sync.WaitGroup
}

// CoordinatorParams bundles the coordinator's collaborators.
type CoordinatorParams struct {
	Resolver *resolver.Resolver
	Limiter  *RateLimiter
	Filter   *Filter
	Replies  *ReplyResolver
	Engine   *Engine
	Cache    *cache.Cache
	Writer   *messagelog.Writer
	Subs     subscription.Repository
	Client   platform.Client
	Events   Events
	Logger   zerolog.Logger
}

// NewCoordinator creates a Coordinator with a bounded ingest queue.
func NewCoordinator(p CoordinatorParams, queueSize int) *Coordinator {
	c := &Coordinator{
		resolver: p.Resolver,
		limiter:  p.Limiter,
		filter:   p.Filter,
		replies:  p.Replies,
		engine:   p.Engine,
		cache:    p.Cache,
		writer:   p.Writer,
		subs:     p.Subs,
		client:   p.Client,
		events:   p.Events,
		log:      p.Logger,
		queue:    make(chan Inbound, queueSize),
	}
	c.metrics.byReason = make(map[string]int64)
	return c
}

// Start launches the worker pool consuming the ingest queue.
func (c *Coordinator) Start(workers int) {
	for range workers {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for in := range c.queue {
				c.process(context.Background(), &in)
			}
		}()
	}
}

// Enqueue hands an inbound event to the pipeline. It returns false when the queue is full, which callers surface as
// backpressure rather than blocking the ingest endpoint.
func (c *Coordinator) Enqueue(in Inbound) bool {
	select {
	case c.queue <- in:
		return true
	default:
		return false
	}
}

// Metrics returns a snapshot of the pipeline counters.
func (c *Coordinator) Metrics() MetricsSnapshot {
	return c.metrics.snapshot()
}

// Shutdown stops intake, lets workers finish queued events, then drains fan-out and the log writer. The drain budget
// is shared across the stages.
func (c *Coordinator) Shutdown(drain time.Duration) {
	close(c.queue)
	c.wg.Wait()
	c.engine.Close(drain)
	c.writer.Close(drain)
}

func (c *Coordinator) process(ctx context.Context, in *Inbound) {
	c.metrics.received.Add(1)

	// The relay's own envelopes arrive back as bot messages; relaying them again would loop.
	if in.AuthorIsBot {
		return
	}

	snap, err := c.resolver.Resolve(ctx, in.GuildID, in.ChannelID)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrNotSubscribed):
			c.metrics.drop(ReasonNotSubscribed)
		case errors.Is(err, resolver.ErrRoomInactive):
			c.metrics.drop(ReasonRoomInactive)
		case errors.Is(err, resolver.ErrGuildBanned):
			c.metrics.drop(ReasonGuildBanned)
		default:
			c.log.Error().Err(err).Int64("channel_id", in.ChannelID).Msg("Resolve failed")
			c.metrics.drop(Reason("ResolveError"))
		}
		return
	}

	allowed, retryAfter, err := c.limiter.Allow(ctx, snap.Room.ID, in.AuthorID, snap.Permissions.RateLimitSeconds)
	if err != nil {
		c.log.Error().Err(err).Int64("room_id", snap.Room.ID).Msg("Rate limit check failed")
	}
	if err == nil && !allowed {
		c.reject(ctx, in, Rejection{Reason: ReasonRateLimited, Detail: formatRetryAfter(retryAfter)})
		return
	}

	accepted, rejection := c.filter.Apply(snap.Permissions, in.Content, in.Attachments)
	if rejection != nil {
		c.reject(ctx, in, *rejection)
		return
	}

	window := time.Duration(snap.Permissions.RateLimitSeconds) * time.Second
	duplicate, err := c.cache.IsDuplicate(ctx, snap.Room.ID, in.AuthorID, accepted.Text, window)
	if err != nil {
		c.log.Warn().Err(err).Int64("room_id", snap.Room.ID).Msg("Duplicate check failed")
	}
	if duplicate {
		c.reject(ctx, in, Rejection{Reason: ReasonDuplicateMessage})
		return
	}

	reply := c.replies.Resolve(ctx, in)

	env := Envelope{
		AuthorDisplay: in.AuthorDisplay,
		Body:          accepted.Text,
		Permalink:     Permalink(in.GuildID, in.ChannelID, in.MessageID),
		GuildName:     in.GuildName,
		Attachments:   accepted.Attachments,
		Reply:         reply,
	}
	content := env.Format(envelopeMaxLength)

	targets := make([]subscription.Subscription, 0, len(snap.Subscriptions))
	for _, sub := range snap.Subscriptions {
		if sub.ChannelID != in.ChannelID {
			targets = append(targets, sub)
		}
	}

	delivered, failed := c.engine.Dispatch(ctx, snap.Room.ID, targets, content)
	c.metrics.relayed.Add(1)
	c.metrics.delivered.Add(int64(delivered))
	c.metrics.failed.Add(int64(failed))

	if err := c.subs.TouchLastMessage(ctx, in.ChannelID); err != nil {
		c.log.Warn().Err(err).Int64("channel_id", in.ChannelID).Msg("Last-message touch failed")
	}

	entry := messagelog.Entry{
		RoomID:          snap.Room.ID,
		SourceGuildID:   in.GuildID,
		SourceChannelID: in.ChannelID,
		SourceMessageID: in.MessageID,
		AuthorID:        in.AuthorID,
		AuthorDisplay:   in.AuthorDisplay,
		Content:         accepted.Text,
		AttachmentURLs:  joinAttachmentURLs(accepted.Attachments),
		DeliveredCount:  delivered,
		FailedCount:     failed,
		CreatedAt:       time.Now().UTC(),
	}
	if reply != nil {
		entry.ReplyToAuthor = &reply.AuthorDisplay
		entry.ReplyToContent = &reply.Quote
	}
	c.writer.Enqueue(entry)

	c.events.NewMessage(ctx, entry, content)

	c.log.Debug().
		Int64("room_id", snap.Room.ID).
		Int64("source_channel", in.ChannelID).
		Int("delivered", delivered).
		Int("failed", failed).
		Msg("Message relayed")
}

// reject counts a policy rejection and sends the author an ephemeral notice, deduplicated per (author, reason) so a
// burst of rejected messages yields one notice.
func (c *Coordinator) reject(ctx context.Context, in *Inbound, rejection Rejection) {
	c.metrics.drop(rejection.Reason)

	text := rejection.Reason.notice(rejection.Detail)
	if text == "" {
		return
	}

	should, err := c.cache.ShouldNotify(ctx, in.AuthorID, string(rejection.Reason))
	if err != nil {
		c.log.Warn().Err(err).Int64("author_id", in.AuthorID).Msg("Notice dedupe failed")
		return
	}
	if !should {
		return
	}

	go func() {
		noticeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mention := "<@" + strconv.FormatInt(in.AuthorID, 10) + "> "
		if err := c.client.SendNotice(noticeCtx, in.ChannelID, mention+text); err != nil {
			c.log.Warn().Err(err).Int64("channel_id", in.ChannelID).Msg("Rejection notice failed")
		}
	}()
}

func formatRetryAfter(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs) + "s"
}

func joinAttachmentURLs(attachments []platform.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	urls := make([]string, len(attachments))
	for i, att := range attachments {
		urls[i] = att.URL
	}
	return strings.Join(urls, "\n")
}
