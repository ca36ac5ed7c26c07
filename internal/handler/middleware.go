package handler

import (
	"fmt"
	"strings"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// unidentifiedClientKey buckets requests whose key func yields nothing, e.g.
// a missing proxy header. They share one budget rather than skip the limit.
const unidentifiedClientKey = "unidentified"

// KeyFunc picks the identifier a request is counted under.
type KeyFunc func(c *fiber.Ctx) string

// ClientIP counts requests per remote address.
func ClientIP(c *fiber.Ctx) string {
	return c.IP()
}

// RateLimit rejects requests over policy with 429. When the limiter itself
// fails the request is let through, so a Redis outage does not take the
// API down with it.
func RateLimit(
	policy ratelimit.Policy,
	limiter ratelimit.Limiter,
	key KeyFunc,
	metrics *observability.Metrics,
	logger *zap.Logger,
) fiber.Handler {
	if key == nil {
		key = ClientIP
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		identifier := strings.TrimSpace(key(c))
		if identifier == "" {
			identifier = unidentifiedClientKey
		}

		result, err := policy.Check(c.UserContext(), limiter, identifier)
		if err != nil {
			logger.Warn("rate limit middleware failed open",
				observability.Policy(policy.Name),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Next()
		}
		metrics.IncRateLimitDecision(policy.Name, result.Success)

		writeRateLimitHeaders(c, policy, result)
		if !result.Success {
			return toHTTPError(fmt.Errorf("%w: too many requests, try again later", domain.ErrRateLimited))
		}

		return c.Next()
	}
}
