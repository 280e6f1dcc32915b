package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/crosslink-chat/crosslink-server/internal/platform"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// retryBaseDelay seeds the fibonacci backoff for transient delivery failures.
const retryBaseDelay = 500 * time.Millisecond

// targetQueueDepth bounds the per-channel delivery queue. A full queue applies backpressure to dispatch rather than
// reordering or dropping.
const targetQueueDepth = 256

// ChannelNotifier receives subscription deactivations caused by permanent delivery failures, so the admin plane can
// broadcast the change.
type ChannelNotifier interface {
	ChannelDeactivated(ctx context.Context, sub subscription.Subscription, reason string)
}

// CacheInvalidator drops the cached binding and room snapshot of a deactivated target, so every relay instance stops
// dispatching to it before the snapshot TTL expires.
type CacheInvalidator interface {
	InvalidateChannelBinding(ctx context.Context, channelID int64) error
	InvalidateRoom(ctx context.Context, roomID int64) error
}

// Engine delivers formatted envelopes to every target channel of a room. Deliveries to a single channel are FIFO in
// arrival order; across channels they run in parallel under a per-room concurrency cap.
type Engine struct {
	client     platform.Client
	subs       subscription.Repository
	notifier   ChannelNotifier
	invalidate CacheInvalidator
	log        zerolog.Logger

	concurrency int
	retryMax    int

	mu     sync.Mutex
	closed bool
	queues map[int64]chan task
	sems   map[int64]chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a fan-out engine. concurrency caps parallel platform calls per room; retryMax bounds attempts
// beyond the first for transient failures.
func NewEngine(client platform.Client, subs subscription.Repository, notifier ChannelNotifier, invalidate CacheInvalidator, logger zerolog.Logger, concurrency, retryMax int) *Engine {
	return &Engine{
		client:      client,
		subs:        subs,
		notifier:    notifier,
		invalidate:  invalidate,
		log:         logger,
		concurrency: concurrency,
		retryMax:    retryMax,
		queues:      make(map[int64]chan task),
		sems:        make(map[int64]chan struct{}),
	}
}

type task struct {
	ctx     context.Context
	roomID  int64
	target  subscription.Subscription
	content string
	result  *dispatchResult
}

type dispatchResult struct {
	wg        sync.WaitGroup
	delivered atomic.Int64
	failed    atomic.Int64
}

// Dispatch sends content to every target and blocks until all deliveries have settled, returning delivered and
// failed counts. Targets are the room's subscriptions minus the source channel; the caller passes them already
// filtered.
func (e *Engine) Dispatch(ctx context.Context, roomID int64, targets []subscription.Subscription, content string) (delivered, failed int) {
	result := &dispatchResult{}
	result.wg.Add(len(targets))

	for _, target := range targets {
		t := task{ctx: ctx, roomID: roomID, target: target, content: content, result: result}
		if !e.enqueue(t) {
			result.failed.Add(1)
			result.wg.Done()
		}
	}

	result.wg.Wait()
	return int(result.delivered.Load()), int(result.failed.Load())
}

// enqueue routes the task to its target-channel queue, creating the queue worker on first use. Returns false when the
// engine is shutting down.
func (e *Engine) enqueue(t task) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	q, ok := e.queues[t.target.ChannelID]
	if !ok {
		q = make(chan task, targetQueueDepth)
		e.queues[t.target.ChannelID] = q
		e.wg.Add(1)
		go e.runQueue(q)
	}
	e.mu.Unlock()

	q <- t
	return true
}

// runQueue delivers one channel's tasks in order. Workers live for the engine's lifetime so FIFO per channel holds
// without queue teardown races.
func (e *Engine) runQueue(q chan task) {
	defer e.wg.Done()
	for t := range q {
		e.deliver(t)
	}
}

func (e *Engine) deliver(t task) {
	defer t.result.wg.Done()

	sem := e.roomSem(t.roomID)
	sem <- struct{}{}
	defer func() { <-sem }()

	err := e.send(t)
	if err == nil {
		t.result.delivered.Add(1)
		return
	}
	t.result.failed.Add(1)

	if platform.IsPermanent(err) {
		e.deactivate(t, err)
		return
	}
	e.log.Warn().Err(err).
		Int64("channel_id", t.target.ChannelID).
		Int64("room_id", t.roomID).
		Msg("Delivery failed after retries")
}

// send attempts the platform call with fibonacci backoff and jitter for transient errors. Permanent errors abort
// immediately.
func (e *Engine) send(t task) error {
	backoff := retry.WithMaxRetries(uint64(e.retryMax), retry.WithJitter(100*time.Millisecond, retry.NewFibonacci(retryBaseDelay)))

	return retry.Do(t.ctx, backoff, func(ctx context.Context) error {
		_, err := e.client.SendMessage(ctx, t.target.ChannelID, t.content)
		if err == nil {
			return nil
		}
		if platform.IsPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// deactivate marks the unreachable target inactive and notifies the admin plane. The next snapshot rebuild drops the
// channel from the room.
func (e *Engine) deactivate(t task, cause error) {
	e.log.Info().Err(cause).
		Int64("channel_id", t.target.ChannelID).
		Int64("guild_id", t.target.GuildID).
		Msg("Deactivating unreachable subscription")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := e.subs.DeactivateByChannel(ctx, t.target.ChannelID)
	if err != nil {
		if !errors.Is(err, subscription.ErrNotFound) {
			e.log.Error().Err(err).Int64("channel_id", t.target.ChannelID).Msg("Subscription deactivation failed")
		}
		return
	}

	if e.invalidate != nil {
		if err := e.invalidate.InvalidateChannelBinding(ctx, sub.ChannelID); err != nil {
			e.log.Warn().Err(err).Int64("channel_id", sub.ChannelID).Msg("Channel invalidation publish failed")
		}
		if err := e.invalidate.InvalidateRoom(ctx, sub.RoomID); err != nil {
			e.log.Warn().Err(err).Int64("room_id", sub.RoomID).Msg("Room invalidation publish failed")
		}
	}
	if e.notifier != nil {
		e.notifier.ChannelDeactivated(ctx, *sub, cause.Error())
	}
}

func (e *Engine) roomSem(roomID int64) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.sems[roomID]
	if !ok {
		sem = make(chan struct{}, e.concurrency)
		e.sems[roomID] = sem
	}
	return sem
}

// Close stops intake and waits for in-flight deliveries to settle, up to the drain timeout. Callers must stop
// dispatching before closing.
func (e *Engine) Close(drain time.Duration) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, q := range e.queues {
		close(q)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drain):
		e.log.Warn().Msg("Fan-out drain timed out")
	}
}
