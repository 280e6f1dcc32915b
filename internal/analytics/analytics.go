// Package analytics aggregates store and relay counters for the dashboard endpoints and the live stats push.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/relay"
	"github.com/crosslink-chat/crosslink-server/internal/room"
	"github.com/crosslink-chat/crosslink-server/internal/subscription"
)

// liveFreshness is how old a cached live snapshot may be before it is recomputed. It sits under the push interval so
// every push sees at most one recomputation.
const liveFreshness = 5 * time.Second

// RelayMetrics exposes the relay pipeline counters.
type RelayMetrics interface {
	Metrics() relay.MetricsSnapshot
}

// Service computes the aggregates behind /analytics and the live_stats push frames.
type Service struct {
	rooms   room.Repository
	subs    subscription.Repository
	logs    messagelog.Repository
	cache   *cache.Cache
	relay   RelayMetrics
	db      *pgxpool.Pool
	rdb     *redis.Client
	log     zerolog.Logger
	started time.Time
}

// NewService creates the analytics service.
func NewService(
	rooms room.Repository,
	subs subscription.Repository,
	logs messagelog.Repository,
	c *cache.Cache,
	relayMetrics RelayMetrics,
	db *pgxpool.Pool,
	rdb *redis.Client,
	logger zerolog.Logger,
) *Service {
	return &Service{
		rooms:   rooms,
		subs:    subs,
		logs:    logs,
		cache:   c,
		relay:   relayMetrics,
		db:      db,
		rdb:     rdb,
		log:     logger.With().Str("component", "analytics").Logger(),
		started: time.Now(),
	}
}

// Live returns the current aggregate counters. A snapshot younger than the push interval is served from the cache so
// concurrent dashboards and replicas share one computation.
func (s *Service) Live(ctx context.Context) (cache.LiveStats, error) {
	if cached, ok, err := s.cache.GetLiveStats(ctx); err == nil && ok {
		if time.Since(cached.GeneratedAt) < liveFreshness {
			return *cached, nil
		}
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Live stats cache read failed")
	}

	stats, err := s.computeLive(ctx)
	if err != nil {
		return cache.LiveStats{}, err
	}

	if err := s.cache.SetLiveStats(ctx, &stats); err != nil {
		s.log.Warn().Err(err).Msg("Live stats cache write failed")
	}
	return stats, nil
}

func (s *Service) computeLive(ctx context.Context) (cache.LiveStats, error) {
	metrics := s.relay.Metrics()

	activeRooms, err := s.rooms.List(ctx, false)
	if err != nil {
		return cache.LiveStats{}, fmt.Errorf("count active rooms: %w", err)
	}

	guilds, err := s.subs.ListGuilds(ctx)
	if err != nil {
		return cache.LiveStats{}, fmt.Errorf("count active guilds: %w", err)
	}

	lastHour, err := s.logs.CountSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		return cache.LiveStats{}, fmt.Errorf("count last hour: %w", err)
	}

	return cache.LiveStats{
		MessagesRelayed:  metrics.Relayed,
		MessagesRejected: metrics.Dropped,
		DeliveriesFailed: metrics.Failed,
		ActiveRooms:      len(activeRooms),
		ActiveGuilds:     len(guilds),
		MessagesLastHour: lastHour,
		GeneratedAt:      time.Now().UTC(),
	}, nil
}

// MessageStats summarises relay volume over a trailing window of whole days.
type MessageStats struct {
	Since         time.Time               `json:"since"`
	TotalMessages int64                   `json:"total_messages"`
	Daily         []messagelog.TrendPoint `json:"daily"`
	Rooms         []messagelog.RoomStats  `json:"rooms"`
}

// Messages returns relay volume for the trailing window.
func (s *Service) Messages(ctx context.Context, days int) (*MessageStats, error) {
	if days < 1 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	total, err := s.logs.CountSince(ctx, since)
	if err != nil {
		return nil, err
	}
	daily, err := s.logs.Trend(ctx, nil, since, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	rooms, err := s.logs.StatsByRoom(ctx, since)
	if err != nil {
		return nil, err
	}

	return &MessageStats{Since: since, TotalMessages: total, Daily: daily, Rooms: rooms}, nil
}

// RoomReport is the per-room analytics payload.
type RoomReport struct {
	Stats messagelog.RoomStats    `json:"stats"`
	Trend []messagelog.TrendPoint `json:"trend"`
}

// Room returns traffic stats and a daily trend for one room over a trailing window of whole days.
func (s *Service) Room(ctx context.Context, roomID int64, days int) (*RoomReport, error) {
	if days < 1 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)

	all, err := s.logs.StatsByRoom(ctx, since)
	if err != nil {
		return nil, err
	}

	report := &RoomReport{}
	found := false
	for _, rs := range all {
		if rs.RoomID == roomID {
			report.Stats = rs
			found = true
			break
		}
	}
	if !found {
		return nil, room.ErrNotFound
	}

	report.Trend, err = s.logs.Trend(ctx, &roomID, since, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Health reports dependency reachability and relay counters.
type Health struct {
	Status        string                `json:"status"`
	StoreOK       bool                  `json:"store_ok"`
	CacheOK       bool                  `json:"cache_ok"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Relay         relay.MetricsSnapshot `json:"relay"`
	GeneratedAt   time.Time             `json:"generated_at"`
}

// CheckHealth pings the store and cache and snapshots the relay counters. It never returns an error; failures are
// reflected in the report.
func (s *Service) CheckHealth(ctx context.Context) Health {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	h := Health{
		StoreOK:       s.db.Ping(pingCtx) == nil,
		CacheOK:       s.rdb.Ping(pingCtx).Err() == nil,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Relay:         s.relay.Metrics(),
		GeneratedAt:   time.Now().UTC(),
	}
	h.Status = "ok"
	if !h.StoreOK || !h.CacheOK {
		h.Status = "degraded"
	}
	return h
}

// Trend returns bucketed relay volume for a named period: 24h (hourly), 7d (daily), or 30d (daily).
func (s *Service) Trend(ctx context.Context, period string) ([]messagelog.TrendPoint, error) {
	var since time.Time
	var bucket time.Duration

	switch period {
	case "24h":
		since, bucket = time.Now().Add(-24*time.Hour), time.Hour
	case "30d":
		since, bucket = time.Now().AddDate(0, 0, -30), 24*time.Hour
	case "", "7d":
		since, bucket = time.Now().AddDate(0, 0, -7), 24*time.Hour
	default:
		return nil, fmt.Errorf("unknown trend period %q", period)
	}
	return s.logs.Trend(ctx, nil, since, bucket)
}

// Export returns the full unpaged message log matching the query, oldest first.
func (s *Service) Export(ctx context.Context, q messagelog.Query) ([]messagelog.Entry, error) {
	return s.logs.Export(ctx, q)
}
