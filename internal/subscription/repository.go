package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/postgres"
)

const selectColumns = "id, room_id, guild_id, channel_id, guild_name, channel_name, registered_by, is_active, " +
	"last_message_at, registered_at, updated_at"

// serializableRetries is how many times Register retries on SQLSTATE 40001 before giving up.
const serializableRetries = 3

// Repository is the persistence interface for channel-to-room bindings.
type Repository interface {
	Register(ctx context.Context, params RegisterParams) (*Subscription, error)
	Unregister(ctx context.Context, roomID, guildID, channelID int64) (*Subscription, error)
	GetByChannel(ctx context.Context, channelID int64) (*Subscription, error)
	ListByRoom(ctx context.Context, roomID int64) ([]Subscription, error)
	ListByGuild(ctx context.Context, guildID int64) ([]Subscription, error)
	ListGuilds(ctx context.Context) ([]GuildSummary, error)
	DeactivateByChannel(ctx context.Context, channelID int64) (*Subscription, error)
	TouchLastMessage(ctx context.Context, channelID int64) error
	CountDistinctGuilds(ctx context.Context, roomID int64) (int, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed subscription repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Register binds a channel to a room. The transaction runs serializable so the distinct-guild count and the room's
// server limit cannot race with a concurrent registration for the same room. Capacity counts guilds, not channels: a
// guild already present in the room does not consume a new slot. An inactive row for the same channel is revived and
// repointed; an active one rejects with ErrAlreadyBound.
func (r *PGRepository) Register(ctx context.Context, params RegisterParams) (*Subscription, error) {
	var sub *Subscription
	err := postgres.WithSerializableTx(ctx, r.db, serializableRetries, func(tx pgx.Tx) error {
		var isActive bool
		var maxServers int
		err := tx.QueryRow(ctx, "SELECT is_active, max_servers FROM rooms WHERE id = $1", params.RoomID).
			Scan(&isActive, &maxServers)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRoomMissing
			}
			return fmt.Errorf("query room for registration: %w", err)
		}
		if !isActive {
			return ErrRoomInactive
		}

		var banned bool
		err = tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM guild_bans WHERE guild_id = $1 AND is_active)", params.GuildID,
		).Scan(&banned)
		if err != nil {
			return fmt.Errorf("check guild ban: %w", err)
		}
		if banned {
			return ErrGuildBanned
		}

		var existingActive bool
		err = tx.QueryRow(ctx,
			"SELECT is_active FROM subscriptions WHERE guild_id = $1 AND channel_id = $2",
			params.GuildID, params.ChannelID,
		).Scan(&existingActive)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check existing binding: %w", err)
		}
		if err == nil && existingActive {
			return ErrAlreadyBound
		}
		hasInactiveRow := err == nil

		var guildCount int
		var alreadyPresent bool
		err = tx.QueryRow(ctx,
			`SELECT COUNT(DISTINCT guild_id),
			        COALESCE(bool_or(guild_id = $2), FALSE)
			 FROM subscriptions WHERE room_id = $1 AND is_active`,
			params.RoomID, params.GuildID,
		).Scan(&guildCount, &alreadyPresent)
		if err != nil {
			return fmt.Errorf("count room guilds: %w", err)
		}
		if !alreadyPresent && guildCount >= maxServers {
			return ErrRoomFull
		}

		var row pgx.Row
		if hasInactiveRow {
			row = tx.QueryRow(ctx,
				fmt.Sprintf(
					`UPDATE subscriptions
					 SET room_id = $1, guild_name = $4, channel_name = $5, registered_by = $6,
					     is_active = TRUE, updated_at = now()
					 WHERE guild_id = $2 AND channel_id = $3
					 RETURNING %s`, selectColumns),
				params.RoomID, params.GuildID, params.ChannelID,
				params.GuildName, params.ChannelName, params.RegisteredBy,
			)
		} else {
			row = tx.QueryRow(ctx,
				fmt.Sprintf(
					`INSERT INTO subscriptions (room_id, guild_id, channel_id, guild_name, channel_name, registered_by)
					 VALUES ($1, $2, $3, $4, $5, $6)
					 RETURNING %s`, selectColumns),
				params.RoomID, params.GuildID, params.ChannelID,
				params.GuildName, params.ChannelName, params.RegisteredBy,
			)
		}
		sub, err = scanSubscription(row)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyBound
			}
			return fmt.Errorf("write subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Unregister deactivates the binding for the given channel within the room and returns the row.
func (r *PGRepository) Unregister(ctx context.Context, roomID, guildID, channelID int64) (*Subscription, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`UPDATE subscriptions SET is_active = FALSE, updated_at = now()
			 WHERE room_id = $1 AND guild_id = $2 AND channel_id = $3 AND is_active
			 RETURNING %s`, selectColumns),
		roomID, guildID, channelID,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("unregister subscription: %w", err)
	}
	return sub, nil
}

// GetByChannel returns the binding for the given channel, active or not.
func (r *PGRepository) GetByChannel(ctx context.Context, channelID int64) (*Subscription, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM subscriptions WHERE channel_id = $1", selectColumns), channelID,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query subscription by channel: %w", err)
	}
	return sub, nil
}

// ListByRoom returns all active subscriptions for the room ordered by registration time.
func (r *PGRepository) ListByRoom(ctx context.Context, roomID int64) ([]Subscription, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM subscriptions WHERE room_id = $1 AND is_active ORDER BY registered_at", selectColumns),
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions by room: %w", err)
	}
	return collect(rows)
}

// ListByGuild returns all subscriptions for the guild, including inactive ones.
func (r *PGRepository) ListByGuild(ctx context.Context, guildID int64) ([]Subscription, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM subscriptions WHERE guild_id = $1 ORDER BY registered_at", selectColumns),
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions by guild: %w", err)
	}
	return collect(rows)
}

// ListGuilds aggregates subscriptions per guild for the admin server listing.
func (r *PGRepository) ListGuilds(ctx context.Context) ([]GuildSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT guild_id,
		        MAX(guild_name),
		        COUNT(*),
		        COUNT(*) FILTER (WHERE is_active),
		        MIN(registered_at),
		        MAX(last_message_at)
		 FROM subscriptions
		 GROUP BY guild_id
		 ORDER BY MIN(registered_at)`,
	)
	if err != nil {
		return nil, fmt.Errorf("query guild summaries: %w", err)
	}
	defer rows.Close()

	var guilds []GuildSummary
	for rows.Next() {
		var g GuildSummary
		err := rows.Scan(&g.GuildID, &g.GuildName, &g.SubscriptionCount, &g.ActiveCount,
			&g.FirstSubscribedAt, &g.LastMessageAt)
		if err != nil {
			return nil, fmt.Errorf("scan guild summary: %w", err)
		}
		guilds = append(guilds, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guild summaries: %w", err)
	}
	return guilds, nil
}

// DeactivateByChannel marks the channel's binding inactive. Fan-out uses this when a target channel is permanently
// unreachable.
func (r *PGRepository) DeactivateByChannel(ctx context.Context, channelID int64) (*Subscription, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			"UPDATE subscriptions SET is_active = FALSE, updated_at = now() WHERE channel_id = $1 AND is_active RETURNING %s",
			selectColumns),
		channelID,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("deactivate subscription by channel: %w", err)
	}
	return sub, nil
}

// TouchLastMessage records relay traffic on the source channel's binding.
func (r *PGRepository) TouchLastMessage(ctx context.Context, channelID int64) error {
	_, err := r.db.Exec(ctx,
		"UPDATE subscriptions SET last_message_at = now() WHERE channel_id = $1", channelID,
	)
	if err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	return nil
}

// CountDistinctGuilds returns how many distinct guilds hold active subscriptions in the room.
func (r *PGRepository) CountDistinctGuilds(ctx context.Context, roomID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(DISTINCT guild_id) FROM subscriptions WHERE room_id = $1 AND is_active", roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count distinct guilds: %w", err)
	}
	return count, nil
}

func collect(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.RoomID, &s.GuildID, &s.ChannelID, &s.GuildName, &s.ChannelName, &s.RegisteredBy,
		&s.IsActive, &s.LastMessageAt, &s.RegisteredAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
