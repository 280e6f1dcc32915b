package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/postgres"
)

// User is an admin account allowed to use the management API.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	IsSuperuser  bool       `json:"is_superuser"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CreateParams holds the fields for creating an admin user.
type CreateParams struct {
	Username     string
	PasswordHash string
	IsSuperuser  bool
}

const userColumns = "id, username, password_hash, is_superuser, last_login_at, created_at"

// Repository is the persistence interface for admin users.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, params CreateParams) (*User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed admin user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetByID returns the admin user matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM admin_users WHERE id = $1", userColumns), id)
	return scanUser(row)
}

// GetByUsername returns the admin user matching the given username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM admin_users WHERE username = $1", userColumns), username)
	return scanUser(row)
}

// Create inserts a new admin user.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO admin_users (id, username, password_hash, is_superuser)
		 VALUES ($1, $2, $3, $4)
		 RETURNING %s`, userColumns),
		uuid.New(), params.Username, params.PasswordHash, params.IsSuperuser)

	u, err := scanUser(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return u, nil
}

// TouchLastLogin records a successful login time.
func (r *PGRepository) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, "UPDATE admin_users SET last_login_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsSuperuser, &u.LastLoginAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan admin user: %w", err)
	}
	return &u, nil
}
