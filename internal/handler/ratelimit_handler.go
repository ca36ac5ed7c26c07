package handler

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/ratelimit"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	maxIdentifierLength      = 256
)

// RateLimitHandler exposes named policies to the storefront route handlers,
// which call it before running a login, checkout, gift-card redemption or
// waitlist sign-up.
type RateLimitHandler struct {
	policies *ratelimit.Registry
	limiter  ratelimit.Limiter
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewRateLimitHandler(
	policies *ratelimit.Registry,
	limiter ratelimit.Limiter,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*RateLimitHandler, error) {
	if policies == nil {
		return nil, fmt.Errorf("policy registry is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimitHandler{
		policies: policies,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func RegisterRateLimitRoutes(router fiber.Router, h *RateLimitHandler) {
	v1 := router.Group("/v1/ratelimit")
	v1.Post("/:policy/check", h.Check)
	v1.Delete("/:policy/:identifier", h.Reset)
}

type checkRequest struct {
	Identifier string `json:"identifier"`
}

type checkResponse struct {
	Success   bool `json:"success"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

func (h *RateLimitHandler) Check(c *fiber.Ctx) error {
	policy, err := h.policy(c)
	if err != nil {
		return err
	}

	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	identifier, err := normalizeIdentifier(req.Identifier)
	if err != nil {
		return toHTTPError(err)
	}

	result, err := policy.Check(c.UserContext(), h.limiter, identifier)
	if err != nil {
		h.logger.Error("rate limit check failed",
			observability.Policy(policy.Name),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusServiceUnavailable, "rate limiter unavailable")
	}
	h.metrics.IncRateLimitDecision(policy.Name, result.Success)

	writeRateLimitHeaders(c, policy, result)
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusTooManyRequests
	}

	return c.Status(status).JSON(checkResponse{
		Success:   result.Success,
		Remaining: result.Remaining,
		Limit:     policy.MaxAttempts,
	})
}

func (h *RateLimitHandler) Reset(c *fiber.Ctx) error {
	policy, err := h.policy(c)
	if err != nil {
		return err
	}

	raw, err := url.PathUnescape(c.Params("identifier"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid identifier")
	}
	identifier, err := normalizeIdentifier(raw)
	if err != nil {
		return toHTTPError(err)
	}

	if err := policy.Reset(c.UserContext(), h.limiter, identifier); err != nil {
		h.logger.Error("rate limit reset failed",
			observability.Policy(policy.Name),
			zap.Error(err),
		)
		return fiber.NewError(fiber.StatusServiceUnavailable, "rate limiter unavailable")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *RateLimitHandler) policy(c *fiber.Ctx) (ratelimit.Policy, error) {
	name := c.Params("policy")
	policy, ok := h.policies.Get(name)
	if !ok {
		return ratelimit.Policy{}, toHTTPError(fmt.Errorf("%w: unknown rate limit policy %q", domain.ErrNotFound, name))
	}
	return policy, nil
}

func normalizeIdentifier(raw string) (string, error) {
	identifier := strings.TrimSpace(raw)
	if identifier == "" {
		return "", fmt.Errorf("%w: identifier is required", domain.ErrValidation)
	}
	if len(identifier) > maxIdentifierLength {
		return "", fmt.Errorf("%w: identifier exceeds %d bytes", domain.ErrValidation, maxIdentifierLength)
	}
	return identifier, nil
}

func writeRateLimitHeaders(c *fiber.Ctx, policy ratelimit.Policy, result ratelimit.Result) {
	c.Set(headerRateLimitLimit, strconv.Itoa(policy.MaxAttempts))
	c.Set(headerRateLimitRemaining, strconv.Itoa(result.Remaining))
	if !result.Success {
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds(policy.Window))
	}
}

// retryAfterSeconds is an upper bound: the oldest counted attempt leaves
// the window no later than one full window from now.
func retryAfterSeconds(window time.Duration) string {
	return strconv.Itoa(int(math.Ceil(window.Seconds())))
}
