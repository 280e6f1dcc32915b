package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Bootstrap ensures the root admin account from the environment exists, creating it as a superuser on first boot.
// An existing account is left untouched so a rotated ADMIN_PASSWORD never silently overwrites a changed password.
func Bootstrap(ctx context.Context, users Repository, username, password string, logger zerolog.Logger) error {
	_, err := users.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("check admin user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	if _, err := users.Create(ctx, CreateParams{
		Username:     username,
		PasswordHash: hash,
		IsSuperuser:  true,
	}); err != nil {
		// A concurrent replica may have seeded the account first.
		if errors.Is(err, ErrUsernameTaken) {
			return nil
		}
		return fmt.Errorf("create admin user: %w", err)
	}

	logger.Info().Str("username", username).Msg("Seeded initial admin account")
	return nil
}
