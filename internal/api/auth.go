package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/auth"
	"github.com/crosslink-chat/crosslink-server/internal/httputil"
)

// AuthHandler serves authentication endpoints.
type AuthHandler struct {
	auth *auth.Service
	log  zerolog.Logger
}

// NewAuthHandler creates a new authentication handler.
func NewAuthHandler(svc *auth.Service, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, log: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

type userInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	IsSuperuser bool   `json:"is_superuser"`
}

type loginResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   int      `json:"expires_in"`
	UserInfo    userInfo `json:"user_info"`
}

func toLoginResponse(result *auth.LoginResult) loginResponse {
	return loginResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
		UserInfo: userInfo{
			ID:          result.User.ID.String(),
			Username:    result.User.Username,
			IsSuperuser: result.User.IsSuperuser,
		},
	}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, "Invalid request body")
	}
	if body.Username == "" || body.Password == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeValidation, "username and password are required")
	}

	result, err := h.auth.Login(c, auth.LoginRequest{
		Username: body.Username,
		Password: body.Password,
		TOTPCode: body.TOTPCode,
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}

	return httputil.Success(c, toLoginResponse(result))
}

// Logout handles POST /api/auth/logout. It revokes the presented token's session.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	token, ok := auth.BearerToken(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing or malformed authorization header")
	}

	if err := h.auth.Logout(c, token); err != nil {
		return h.mapAuthError(c, err)
	}
	return httputil.Success(c, fiber.Map{"message": "Logged out"})
}

// Refresh handles POST /api/auth/refresh. The presented token is exchanged for a fresh one and revoked.
func (h *AuthHandler) Refresh(c fiber.Ctx) error {
	token, ok := auth.BearerToken(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "Missing or malformed authorization header")
	}

	result, err := h.auth.Refresh(c, token)
	if err != nil {
		return h.mapAuthError(c, err)
	}
	return httputil.Success(c, toLoginResponse(result))
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c fiber.Ctx) error {
	identity := auth.IdentityFrom(c)

	u, err := h.auth.Me(c, identity)
	if err != nil {
		return h.mapAuthError(c, err)
	}
	return httputil.Success(c, userInfo{
		ID:          u.ID.String(),
		Username:    u.Username,
		IsSuperuser: u.IsSuperuser,
	})
}

// mapAuthError converts auth-layer errors to appropriate HTTP responses.
func (h *AuthHandler) mapAuthError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, err.Error())
	case errors.Is(err, auth.ErrTOTPRequired),
		errors.Is(err, auth.ErrInvalidTOTPCode):
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrSessionRevoked):
		return httputil.Fail(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, err.Error())
	case errors.Is(err, auth.ErrUserNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, httputil.CodeNotFound, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "auth").Msg("Unhandled auth service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, httputil.CodeInternal, "An internal error occurred")
	}
}
