package ban

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, guild_id, guild_name, reason, banned_by, banned_at, is_active, unbanned_at, unbanned_by"

// Repository is the persistence interface for guild bans.
type Repository interface {
	List(ctx context.Context, includeInactive bool) ([]Ban, error)
	Ban(ctx context.Context, params CreateParams) (*Ban, error)
	Unban(ctx context.Context, guildID int64, actor string) (*Ban, error)
	IsBanned(ctx context.Context, guildID int64) (bool, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed ban repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// List returns bans, newest first. Lifted bans are included only when requested.
func (r *PGRepository) List(ctx context.Context, includeInactive bool) ([]Ban, error) {
	query := fmt.Sprintf("SELECT %s FROM guild_bans", selectColumns)
	if !includeInactive {
		query += " WHERE is_active"
	}
	query += " ORDER BY banned_at DESC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query guild bans: %w", err)
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guild ban: %w", err)
		}
		bans = append(bans, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guild bans: %w", err)
	}
	return bans, nil
}

// Ban records an active ban for the guild. A previously lifted ban row is reactivated with the new reason and actor;
// an already-active ban rejects with ErrAlreadyBanned.
func (r *PGRepository) Ban(ctx context.Context, params CreateParams) (*Ban, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO guild_bans (guild_id, guild_name, reason, banned_by)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (guild_id) DO UPDATE
			 SET guild_name = EXCLUDED.guild_name, reason = EXCLUDED.reason, banned_by = EXCLUDED.banned_by,
			     banned_at = now(), is_active = TRUE, unbanned_at = NULL, unbanned_by = NULL
			 WHERE NOT guild_bans.is_active
			 RETURNING %s`, selectColumns),
		params.GuildID, params.GuildName, params.Reason, params.BannedBy,
	)
	b, err := scanBan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyBanned
		}
		return nil, fmt.Errorf("insert guild ban: %w", err)
	}
	return b, nil
}

// Unban lifts the guild's active ban, recording who did it and when.
func (r *PGRepository) Unban(ctx context.Context, guildID int64, actor string) (*Ban, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`UPDATE guild_bans
			 SET is_active = FALSE, unbanned_at = now(), unbanned_by = $2
			 WHERE guild_id = $1 AND is_active
			 RETURNING %s`, selectColumns),
		guildID, actor,
	)
	b, err := scanBan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lift guild ban: %w", err)
	}
	return b, nil
}

// IsBanned reports whether the guild has an active ban.
func (r *PGRepository) IsBanned(ctx context.Context, guildID int64) (bool, error) {
	var banned bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM guild_bans WHERE guild_id = $1 AND is_active)", guildID,
	).Scan(&banned)
	if err != nil {
		return false, fmt.Errorf("check guild ban: %w", err)
	}
	return banned, nil
}

func scanBan(row pgx.Row) (*Ban, error) {
	var b Ban
	err := row.Scan(&b.ID, &b.GuildID, &b.GuildName, &b.Reason, &b.BannedBy, &b.BannedAt, &b.IsActive,
		&b.UnbannedAt, &b.UnbannedBy)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
