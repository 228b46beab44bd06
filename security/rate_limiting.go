package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"

	"gate-checkin/internal/clock"
	"gate-checkin/models"
)

const (
	rateWindow     = time.Minute
	loginPerMinute = 10
)

type RateLimiter struct {
	redis     redis.Cmdable
	clock     clock.Clock
	perMinute int
}

func NewRateLimiter(redisClient redis.Cmdable, perMinute int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &RateLimiter{redis: redisClient, clock: clk, perMinute: perMinute}
}

// GateRateLimit limits gate API calls per operator, or per IP before sign-in.
// A limit of zero disables it.
func (r *RateLimiter) GateRateLimit() echo.MiddlewareFunc {
	if r.perMinute <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{redis: r.redis, clock: r.clock, limit: r.perMinute, prefix: "ratelimit"},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if claims, ok := ClaimsFrom(c); ok {
				return "user:" + claims.UserID, nil
			}
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, models.ErrorBody{Error: "Unable to identify caller", Code: models.CodeForbidden})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, models.ErrorBody{
				Error: "Rate limit exceeded. Please try again later.",
				Code:  models.CodeRateLimited,
			})
		},
	})
}

// LoginGuard throttles sign-in attempts per IP and turns away scripted clients.
func (r *RateLimiter) LoginGuard() echo.MiddlewareFunc {
	store := &redisStore{redis: r.redis, clock: r.clock, limit: loginPerMinute, prefix: "login"}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if isSuspiciousUserAgent(c.Request().Header.Get("User-Agent")) {
				return c.JSON(http.StatusForbidden, models.ErrorBody{Error: "Access denied", Code: models.CodeForbidden})
			}
			allowed, _ := store.Allow(c.RealIP())
			if !allowed {
				return c.JSON(http.StatusTooManyRequests, models.ErrorBody{
					Error: "Too many requests",
					Code:  models.CodeRateLimited,
				})
			}
			return next(c)
		}
	}
}

// redisStore is a fixed-window counter shared by every backend replica.
type redisStore struct {
	redis  redis.Cmdable
	clock  clock.Clock
	limit  int
	prefix string
}

func (s *redisStore) key(identifier string) string {
	window := s.clock.Now().Unix() / int64(rateWindow/time.Second)
	return fmt.Sprintf("%s:%s:%d", s.prefix, identifier, window)
}

// Allow fails open when Redis is unreachable.
func (s *redisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := s.key(identifier)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("rate limit store unavailable", "key", key, "error", err)
		return true, nil
	}
	if count == 1 {
		s.redis.Expire(ctx, key, rateWindow)
	}
	return count <= int64(s.limit), nil
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
