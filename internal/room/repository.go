package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/postgres"
)

const selectColumns = "id, name, description, created_by, max_servers, is_active, created_at, updated_at"

const permissionColumns = "room_id, allow_urls, allow_files, allow_mentions, allow_emojis, enable_bad_word_filter, " +
	"max_message_length, rate_limit_seconds, banned_words, updated_at"

// Repository is the persistence interface for rooms and their permissions.
type Repository interface {
	List(ctx context.Context, includeInactive bool) ([]WithChannelCount, error)
	GetByID(ctx context.Context, id int64) (*Room, error)
	GetByName(ctx context.Context, name string) (*Room, error)
	Create(ctx context.Context, params CreateParams) (*Room, error)
	Update(ctx context.Context, id int64, params UpdateParams) (*Room, error)
	Delete(ctx context.Context, id int64) error
	GetPermissions(ctx context.Context, roomID int64) (*Permissions, error)
	UpdatePermissions(ctx context.Context, roomID int64, params PermissionsParams) (*Permissions, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed room repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// List returns rooms with their active channel counts, ordered by name. Inactive rooms are included only when
// requested.
func (r *PGRepository) List(ctx context.Context, includeInactive bool) ([]WithChannelCount, error) {
	query := fmt.Sprintf(
		`SELECT %s, (SELECT COUNT(*) FROM subscriptions s WHERE s.room_id = r.id AND s.is_active)
		 FROM rooms r`, prefixColumns("r", selectColumns))
	if !includeInactive {
		query += " WHERE r.is_active"
	}
	query += " ORDER BY r.name"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []WithChannelCount
	for rows.Next() {
		var rm WithChannelCount
		err := rows.Scan(&rm.ID, &rm.Name, &rm.Description, &rm.CreatedBy, &rm.MaxServers, &rm.IsActive,
			&rm.CreatedAt, &rm.UpdatedAt, &rm.ChannelCount)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// GetByID returns the room matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Room, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM rooms WHERE id = $1", selectColumns), id,
	)
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by id: %w", err)
	}
	return rm, nil
}

// GetByName returns the active room with the given name, matched case-insensitively.
func (r *PGRepository) GetByName(ctx context.Context, name string) (*Room, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM rooms WHERE lower(name) = lower($1) AND is_active", selectColumns), name,
	)
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by name: %w", err)
	}
	return rm, nil
}

// Create inserts a new room and its default permissions row in one transaction.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Room, error) {
	if err := ValidateCreate(params); err != nil {
		return nil, err
	}

	var rm *Room
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			fmt.Sprintf(
				`INSERT INTO rooms (name, description, created_by, max_servers)
				 VALUES ($1, $2, $3, $4)
				 RETURNING %s`, selectColumns),
			strings.TrimSpace(params.Name), params.Description, params.CreatedBy, params.MaxServers,
		)
		var err error
		rm, err = scanRoom(row)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrNameTaken
			}
			return fmt.Errorf("insert room: %w", err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO room_permissions (room_id) VALUES ($1)", rm.ID); err != nil {
			return fmt.Errorf("insert room permissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// Update applies the non-nil fields in params to the room row and returns the updated room.
func (r *PGRepository) Update(ctx context.Context, id int64, params UpdateParams) (*Room, error) {
	setClauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	argPos := 1

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" || len([]rune(name)) > maxNameLength {
			return nil, ErrInvalidName
		}
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, name)
		argPos++
	}
	if params.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argPos))
		args = append(args, *params.Description)
		argPos++
	}
	if params.MaxServers != nil {
		if *params.MaxServers < 1 {
			return nil, ErrLimitInvalid
		}
		setClauses = append(setClauses, fmt.Sprintf("max_servers = $%d", argPos))
		args = append(args, *params.MaxServers)
		argPos++
	}
	if params.IsActive != nil {
		setClauses = append(setClauses, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *params.IsActive)
		argPos++
	}
	if len(setClauses) == 0 {
		return nil, ErrNoFields
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE rooms SET %s WHERE id = $%d RETURNING %s",
			strings.Join(setClauses, ", "), argPos, selectColumns),
		args...,
	)
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("update room: %w", err)
	}
	return rm, nil
}

// Delete deactivates the room and its subscriptions and removes its policy row. Room and subscription rows are kept
// so the message log and audit trail survive; the partial unique index frees the name for reuse.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE rooms SET is_active = FALSE, updated_at = now() WHERE id = $1 AND is_active", id)
		if err != nil {
			return fmt.Errorf("deactivate room: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx,
			"UPDATE subscriptions SET is_active = FALSE, updated_at = now() WHERE room_id = $1 AND is_active", id)
		if err != nil {
			return fmt.Errorf("deactivate room subscriptions: %w", err)
		}

		if _, err := tx.Exec(ctx, "DELETE FROM room_permissions WHERE room_id = $1", id); err != nil {
			return fmt.Errorf("delete room permissions: %w", err)
		}
		return nil
	})
}

// GetPermissions returns the policy row for the room.
func (r *PGRepository) GetPermissions(ctx context.Context, roomID int64) (*Permissions, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM room_permissions WHERE room_id = $1", permissionColumns), roomID,
	)
	perms, err := scanPermissions(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room permissions: %w", err)
	}
	return perms, nil
}

// UpdatePermissions applies the non-nil fields in params to the room's policy row.
func (r *PGRepository) UpdatePermissions(ctx context.Context, roomID int64, params PermissionsParams) (*Permissions, error) {
	if err := ValidatePermissions(params); err != nil {
		return nil, err
	}

	setClauses := make([]string, 0, 8)
	args := make([]any, 0, 9)
	argPos := 1

	addClause := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if params.AllowURLs != nil {
		addClause("allow_urls", *params.AllowURLs)
	}
	if params.AllowFiles != nil {
		addClause("allow_files", *params.AllowFiles)
	}
	if params.AllowMentions != nil {
		addClause("allow_mentions", *params.AllowMentions)
	}
	if params.AllowEmojis != nil {
		addClause("allow_emojis", *params.AllowEmojis)
	}
	if params.EnableBadWordFilter != nil {
		addClause("enable_bad_word_filter", *params.EnableBadWordFilter)
	}
	if params.MaxMessageLength != nil {
		addClause("max_message_length", *params.MaxMessageLength)
	}
	if params.RateLimitSeconds != nil {
		addClause("rate_limit_seconds", *params.RateLimitSeconds)
	}
	if params.BannedWords != nil {
		addClause("banned_words", *params.BannedWords)
	}
	if len(setClauses) == 0 {
		return nil, ErrNoFields
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, roomID)

	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE room_permissions SET %s WHERE room_id = $%d RETURNING %s",
			strings.Join(setClauses, ", "), argPos, permissionColumns),
		args...,
	)
	perms, err := scanPermissions(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update room permissions: %w", err)
	}
	return perms, nil
}

// prefixColumns qualifies each column in list with the given table alias.
func prefixColumns(alias, list string) string {
	cols := strings.Split(list, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

func scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	err := row.Scan(&rm.ID, &rm.Name, &rm.Description, &rm.CreatedBy, &rm.MaxServers, &rm.IsActive,
		&rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rm, nil
}

func scanPermissions(row pgx.Row) (*Permissions, error) {
	var p Permissions
	err := row.Scan(&p.RoomID, &p.AllowURLs, &p.AllowFiles, &p.AllowMentions, &p.AllowEmojis,
		&p.EnableBadWordFilter, &p.MaxMessageLength, &p.RateLimitSeconds, &p.BannedWords, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
