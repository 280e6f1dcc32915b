package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/cache"
	"github.com/crosslink-chat/crosslink-server/internal/config"
)

// Identity is the authenticated principal attached to a request after token validation.
type Identity struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	IsSuperuser bool      `json:"is_superuser"`
}

// LoginRequest is the input for Service.Login. TOTPCode is required only when a TOTP secret is configured.
type LoginRequest struct {
	Username string
	Password string
	TOTPCode string
}

// LoginResult is the output for Login and Refresh.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
	User        User
}

// Service implements admin authentication, keeping HTTP handlers thin and focused on request parsing / response
// formatting. Tokens are JWTs backed by a revocable cache session, so logout takes effect before JWT expiry.
type Service struct {
	users  Repository
	cache  *cache.Cache
	config *config.Config
	log    zerolog.Logger
	// dummyHash is a precomputed argon2id hash used to keep login timing constant when a user is not found,
	// preventing username enumeration via response-time analysis.
	dummyHash string
}

// NewService creates a new authentication service.
func NewService(users Repository, c *cache.Cache, cfg *config.Config, logger zerolog.Logger) *Service {
	// Generate a dummy hash at startup so VerifyPassword always runs against a real argon2id hash even when the user
	// does not exist.
	dummy, err := HashPassword("crosslink-dummy-password")
	if err != nil {
		dummy = "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHRzYWx0$placeholder"
	}
	return &Service{
		users:     users,
		cache:     c,
		config:    cfg,
		log:       logger.With().Str("component", "auth").Logger(),
		dummyHash: dummy,
	}
}

// Login verifies credentials (and the one-time code when configured) and issues an access token with a live session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = VerifyPassword(req.Password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load admin user: %w", err)
	}

	match, err := VerifyPassword(req.Password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, ErrInvalidCredentials
	}

	if s.config.AdminTOTPSecret != "" {
		if req.TOTPCode == "" {
			return nil, ErrTOTPRequired
		}
		if !VerifyTOTP(req.TOTPCode, s.config.AdminTOTPSecret) {
			return nil, ErrInvalidTOTPCode
		}
	}

	result, err := s.issueToken(ctx, u)
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(ctx, u.ID); err != nil {
		s.log.Warn().Err(err).Str("username", u.Username).Msg("Last-login update failed")
	}
	s.log.Info().Str("username", u.Username).Msg("Admin logged in")
	return result, nil
}

// Logout revokes the session behind the token. Revoking an already-revoked token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.cache.DeleteSession(ctx, token)
}

// Refresh exchanges a valid token for a fresh one and revokes the old session.
func (s *Service) Refresh(ctx context.Context, token string) (*LoginResult, error) {
	identity, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load admin user: %w", err)
	}

	result, err := s.issueToken(ctx, u)
	if err != nil {
		return nil, err
	}

	if err := s.cache.DeleteSession(ctx, token); err != nil {
		s.log.Warn().Err(err).Msg("Old session revocation failed")
	}
	return result, nil
}

// Authenticate validates a bearer token: the JWT signature and claims first, then the session record so revoked
// tokens are rejected before their JWT expiry.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := ValidateAccessToken(token, s.config.SecretKey, config.TokenIssuer)
	if err != nil {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}

	_, live, err := s.cache.GetSession(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !live {
		return nil, ErrSessionRevoked
	}

	return &Identity{
		UserID:      userID,
		Username:    claims.Username,
		IsSuperuser: claims.IsSuperuser,
	}, nil
}

// Me returns the stored account for an authenticated identity.
func (s *Service) Me(ctx context.Context, identity *Identity) (*User, error) {
	return s.users.GetByID(ctx, identity.UserID)
}

func (s *Service) issueToken(ctx context.Context, u *User) (*LoginResult, error) {
	token, err := NewAccessToken(u.ID, u.Username, u.IsSuperuser, s.config.SecretKey, s.config.TokenExpire, config.TokenIssuer)
	if err != nil {
		return nil, err
	}
	if err := s.cache.CreateSession(ctx, token, u.Username, s.config.TokenExpire); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.config.TokenExpire.Seconds()),
		User:        *u,
	}, nil
}
