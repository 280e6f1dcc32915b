package messagelog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, room_id, source_guild_id, source_channel_id, source_message_id, author_id, author_display, " +
	"content, attachment_urls, reply_to_author, reply_to_content, delivered_count, failed_count, created_at"

// Repository is the persistence interface for the message log.
type Repository interface {
	InsertBatch(ctx context.Context, entries []Entry) error
	List(ctx context.Context, q Query) ([]Entry, int64, error)
	GetBySourceMessage(ctx context.Context, sourceMessageID int64) (*Entry, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	StatsByRoom(ctx context.Context, since time.Time) ([]RoomStats, error)
	StatsByGuild(ctx context.Context, guildID int64, since time.Time) (*GuildStats, error)
	GuildActivity(ctx context.Context, guildID int64, since time.Time, bucket time.Duration) ([]TrendPoint, error)
	Trend(ctx context.Context, roomID *int64, since time.Time, bucket time.Duration) ([]TrendPoint, error)
	Export(ctx context.Context, q Query) ([]Entry, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message log repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// InsertBatch bulk-inserts entries with COPY. The batched writer calls this with whole flush batches.
func (r *PGRepository) InsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"message_log"},
		[]string{"room_id", "source_guild_id", "source_channel_id", "source_message_id", "author_id", "author_display",
			"content", "attachment_urls", "reply_to_author", "reply_to_content", "delivered_count", "failed_count", "created_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.RoomID, e.SourceGuildID, e.SourceChannelID, e.SourceMessageID, e.AuthorID, e.AuthorDisplay,
				e.Content, e.AttachmentURLs, e.ReplyToAuthor, e.ReplyToContent, e.DeliveredCount, e.FailedCount, e.CreatedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy message log entries: %w", err)
	}
	return nil
}

// List returns a page of entries matching the query, newest first, along with the total match count.
func (r *PGRepository) List(ctx context.Context, q Query) ([]Entry, int64, error) {
	where, args := buildWhere(q)

	var total int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM message_log"+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count message log entries: %w", err)
	}

	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, q.Offset)

	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM message_log%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
			selectColumns, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query message log entries: %w", err)
	}
	entries, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// GetBySourceMessage returns the logged entry for the given source platform message ID. The reply resolver uses this
// to recover the original author and content of a replied-to message without calling the platform.
func (r *PGRepository) GetBySourceMessage(ctx context.Context, sourceMessageID int64) (*Entry, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM message_log WHERE source_message_id = $1 ORDER BY created_at DESC LIMIT 1", selectColumns),
		sourceMessageID,
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message log by source message: %w", err)
	}
	return e, nil
}

// CountSince returns how many messages were logged after the given instant.
func (r *PGRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM message_log WHERE created_at >= $1", since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages since: %w", err)
	}
	return count, nil
}

// StatsByRoom aggregates traffic per room since the given instant. Rooms with no traffic still appear with zero
// counts so dashboards show the full room list.
func (r *PGRepository) StatsByRoom(ctx context.Context, since time.Time) ([]RoomStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.id, r.name,
		        COUNT(m.id),
		        COUNT(DISTINCT m.author_id),
		        COUNT(DISTINCT m.source_guild_id),
		        COALESCE(SUM(m.delivered_count), 0),
		        COALESCE(SUM(m.failed_count), 0)
		 FROM rooms r
		 LEFT JOIN message_log m ON m.room_id = r.id AND m.created_at >= $1
		 GROUP BY r.id, r.name
		 ORDER BY COUNT(m.id) DESC, r.name`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query room stats: %w", err)
	}
	defer rows.Close()

	var stats []RoomStats
	for rows.Next() {
		var s RoomStats
		if err := rows.Scan(&s.RoomID, &s.RoomName, &s.MessageCount, &s.UniqueAuthors, &s.UniqueGuilds, &s.Delivered, &s.Failed); err != nil {
			return nil, fmt.Errorf("scan room stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room stats: %w", err)
	}
	return stats, nil
}

// StatsByGuild aggregates traffic sent from one guild since the given instant.
func (r *PGRepository) StatsByGuild(ctx context.Context, guildID int64, since time.Time) (*GuildStats, error) {
	var s GuildStats
	s.GuildID = guildID
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(DISTINCT author_id),
		        COUNT(DISTINCT room_id),
		        COALESCE(SUM(delivered_count), 0),
		        COALESCE(SUM(failed_count), 0)
		 FROM message_log
		 WHERE source_guild_id = $1 AND created_at >= $2`,
		guildID, since,
	).Scan(&s.MessageCount, &s.UniqueAuthors, &s.RoomsUsed, &s.Delivered, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("query guild stats: %w", err)
	}
	return &s, nil
}

// GuildActivity returns the guild's message counts bucketed by the given duration since the given instant.
func (r *PGRepository) GuildActivity(ctx context.Context, guildID int64, since time.Time, bucket time.Duration) ([]TrendPoint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT date_bin($1::interval, created_at, $2) AS bucket, COUNT(*)
		 FROM message_log
		 WHERE source_guild_id = $3 AND created_at >= $2
		 GROUP BY bucket ORDER BY bucket`,
		bucket.String(), since, guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("query guild activity: %w", err)
	}
	return collectTrend(rows)
}

// Trend returns message counts bucketed by the given duration since the given instant, optionally scoped to one room.
func (r *PGRepository) Trend(ctx context.Context, roomID *int64, since time.Time, bucket time.Duration) ([]TrendPoint, error) {
	args := []any{bucket.String(), since}
	query := `SELECT date_bin($1::interval, created_at, $2) AS bucket, COUNT(*)
	 FROM message_log
	 WHERE created_at >= $2`
	if roomID != nil {
		query += " AND room_id = $3"
		args = append(args, *roomID)
	}
	query += " GROUP BY bucket ORDER BY bucket"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message trend: %w", err)
	}
	return collectTrend(rows)
}

// Export returns all entries matching the query without pagination, oldest first, for CSV export. Callers should
// scope the query with a time window.
func (r *PGRepository) Export(ctx context.Context, q Query) ([]Entry, error) {
	where, args := buildWhere(q)
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM message_log%s ORDER BY created_at", selectColumns, where),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query message log export: %w", err)
	}
	return collect(rows)
}

func buildWhere(q Query) (string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if q.RoomID != nil {
		add("room_id = $%d", *q.RoomID)
	}
	if q.GuildID != nil {
		add("source_guild_id = $%d", *q.GuildID)
	}
	if q.AuthorID != nil {
		add("author_id = $%d", *q.AuthorID)
	}
	if q.Search != "" {
		add("content ILIKE $%d", "%"+q.Search+"%")
	}
	if q.Since != nil {
		add("created_at >= $%d", *q.Since)
	}
	if q.Until != nil {
		add("created_at < $%d", *q.Until)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func collect(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message log entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message log entries: %w", err)
	}
	return entries, nil
}

func collectTrend(rows pgx.Rows) ([]TrendPoint, error) {
	defer rows.Close()

	var points []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Bucket, &p.Count); err != nil {
			return nil, fmt.Errorf("scan trend point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend points: %w", err)
	}
	return points, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.RoomID, &e.SourceGuildID, &e.SourceChannelID, &e.SourceMessageID, &e.AuthorID,
		&e.AuthorDisplay, &e.Content, &e.AttachmentURLs, &e.ReplyToAuthor, &e.ReplyToContent,
		&e.DeliveredCount, &e.FailedCount, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
