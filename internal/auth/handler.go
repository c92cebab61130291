package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sieve-backend/internal/engine"
	"sieve-backend/internal/metadata"
	"sieve-backend/internal/store"
)

// Handler serves the authentication endpoints.
type Handler struct {
	store     *store.Store
	jwtSecret string
}

func NewHandler(s *store.Store, jwtSecret string) *Handler {
	return &Handler{store: s, jwtSecret: jwtSecret}
}

// RegisterRoutes wires the auth endpoints. Login and refresh are public;
// me requires the auth middleware.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Post("/logout", h.Logout)
	grp.Get("/me", authMW, h.Me)
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.Context()

	user, err := h.findUserByEmail(ctx, body.Email)
	if err != nil {
		return engine.UnauthorizedError("Invalid email or password")
	}
	if !user.active {
		return engine.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, user.passwordHash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	pair, err := h.issueTokenPair(ctx, user.id, user.roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh: rotates the refresh token and
// issues a fresh access token.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()
	d := h.store.Dialect

	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		`SELECT rt.user_id, rt.expires_at, u.roles, u.active
		 FROM _refresh_tokens rt
		 JOIN _users u ON u.id = rt.user_id
		 WHERE rt.token = %s`, pb.Add(body.RefreshToken))
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}

	expires, ok := row["expires_at"].(time.Time)
	if !ok || time.Now().After(expires) {
		return engine.UnauthorizedError("Refresh token expired")
	}
	if !asBool(row["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}

	userID := asString(row["user_id"])
	roles, err := d.ScanArray(row["roles"])
	if err != nil {
		return fmt.Errorf("decode roles: %w", err)
	}

	// One-shot rotation: the presented token is gone either way.
	if err := h.deleteRefreshToken(ctx, body.RefreshToken); err != nil {
		return err
	}

	pair, err := h.issueTokenPair(ctx, userID, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout: revokes the presented refresh token.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken != "" {
		if err := h.deleteRefreshToken(c.Context(), body.RefreshToken); err != nil {
			return err
		}
	}
	return c.SendStatus(204)
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, _ := c.Locals("user").(*metadata.UserContext)
	if user == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	return c.JSON(fiber.Map{"data": user})
}

type userRow struct {
	id           string
	passwordHash string
	roles        []string
	active       bool
}

func (h *Handler) findUserByEmail(ctx context.Context, email string) (*userRow, error) {
	d := h.store.Dialect
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, password_hash, roles, active FROM _users WHERE email = %s",
		pb.Add(email))
	row, err := store.QueryRow(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}

	roles, err := d.ScanArray(row["roles"])
	if err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return &userRow{
		id:           asString(row["id"]),
		passwordHash: asString(row["password_hash"]),
		roles:        roles,
		active:       asBool(row["active"]),
	}, nil
}

func (h *Handler) issueTokenPair(ctx context.Context, userID string, roles []string) (*TokenPair, error) {
	access, err := GenerateAccessToken(userID, roles, h.jwtSecret)
	if err != nil {
		return nil, err
	}

	refresh := GenerateRefreshToken()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(uuid.New().String()),
		pb.Add(userID),
		pb.Add(refresh),
		pb.Add(time.Now().Add(RefreshTokenTTL)),
	)
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (h *Handler) deleteRefreshToken(ctx context.Context, token string) error {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _refresh_tokens WHERE token = %s", pb.Add(token))
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	default:
		return false
	}
}
