package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/membership-backend/internal/domain"
	apperrors "github.com/spec-kit/membership-backend/pkg/util/errorutil"
)

func newTestApp(tm *TokenManager, guards ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
		},
	})
	handlers := append([]fiber.Handler{NewAuthMiddleware(tm).Handle}, guards...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(string(p.Role) + ":" + p.ID)
	})
	app.Get("/", handlers...)
	return app
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, exp, err := tm.GenerateToken("u-1", domain.RoleCustomer)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), exp, time.Minute)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.SubjectID)
	assert.Equal(t, domain.RoleCustomer, claims.Role)
}

func TestParseTokenRejectsBadTokens(t *testing.T) {
	tm := NewTokenManager("secret", 5)

	other, _, err := NewTokenManager("other", 5).GenerateToken("u-1", domain.RoleAgent)
	require.NoError(t, err)
	_, err = tm.ParseToken(other)
	assert.Error(t, err)

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{SubjectID: "u-1", Role: "admin"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(noRole)
	assert.Error(t, err)

	expired := &Claims{SubjectID: "u-1", Role: domain.RoleCustomer, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	expiredToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tm.ParseToken(expiredToken)
	assert.Error(t, err)
}

func TestMiddlewareResolvesPrincipal(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := newTestApp(tm)
	token, _, err := tm.GenerateToken("a-1", domain.RoleAgent)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestMiddlewareRejectsMissingOrMalformedHeader(t *testing.T) {
	app := newTestApp(NewTokenManager("secret", 5))

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, header)
	}
}

func TestRoleGuards(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	customer, _, _ := tm.GenerateToken("u-1", domain.RoleCustomer)
	agent, _, _ := tm.GenerateToken("a-1", domain.RoleAgent)

	cases := []struct {
		name   string
		guard  fiber.Handler
		token  string
		status int
	}{
		{"agent route as customer", RequireAgent(), customer, fiber.StatusForbidden},
		{"agent route as agent", RequireAgent(), agent, fiber.StatusOK},
		{"customer route as agent", RequireCustomer(), agent, fiber.StatusForbidden},
		{"customer route as customer", RequireCustomer(), customer, fiber.StatusOK},
		{"any role", RequireAnyRole(), agent, fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(tm, tc.guard)
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
