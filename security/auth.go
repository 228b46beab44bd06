package security

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/crypto/bcrypt"

	"gate-checkin/internal/clock"
	"gate-checkin/models"
)

const claimsKey = "claims"

var ErrMissingSecret = errors.New("auth: JWT secret is not configured")

// Claims are the operator claims carried in a bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"user_role"`
	Name   string `json:"user_name"`
	Email  string `json:"user_email"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokenIssuer(secret string, ttl time.Duration, clk clock.Clock) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

// Issue signs an HS256 token for op.
func (i *TokenIssuer) Issue(op models.Operator) (string, error) {
	now := i.clock.Now()
	claims := Claims{
		UserID: op.ID,
		Role:   op.Role,
		Name:   op.Name,
		Email:  op.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (i *TokenIssuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}

// AuthRequired rejects requests without a valid bearer token and stores the
// claims on the context.
func (i *TokenIssuer) AuthRequired() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return c.JSON(http.StatusUnauthorized, models.ErrorBody{
					Error: "No authorization header provided",
					Code:  models.CodeUnauthorized,
				})
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				raw = header
			}
			claims, err := i.Verify(strings.TrimSpace(raw))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorBody{
					Error: "Invalid or expired token",
					Code:  models.CodeUnauthorized,
				})
			}
			c.Set(claimsKey, claims)
			c.Set("user_id", claims.UserID)
			return next(c)
		}
	}
}

// RequireRoles must run after AuthRequired.
func RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFrom(c)
			if !ok || !slices.Contains(roles, claims.Role) {
				return c.JSON(http.StatusForbidden, models.ErrorBody{
					Error: "You do not have permission for this action",
					Code:  models.CodeForbidden,
				})
			}
			return next(c)
		}
	}
}

func ClaimsFrom(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(claimsKey).(*Claims)
	return claims, ok && claims != nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
