package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/gofiber/fiber/v2"
)

const headerIdempotencyKey = "Idempotency-Key"

type EmailService interface {
	Submit(ctx context.Context, email *domain.Email) (*domain.Email, error)
	GetByID(ctx context.Context, id string) (*domain.Email, error)
}

type EmailHandler struct {
	service EmailService
}

func NewEmailHandler(service EmailService) (*EmailHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("email service is required")
	}
	return &EmailHandler{service: service}, nil
}

// RegisterEmailRoutes mounts the email endpoints. Handlers in guards run
// before submission, typically a RateLimit middleware.
func RegisterEmailRoutes(router fiber.Router, service EmailService, guards ...fiber.Handler) error {
	h, err := NewEmailHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	submit := append(append([]fiber.Handler{}, guards...), h.SubmitEmail)
	v1.Post("/emails", submit...)
	v1.Get("/emails/:id", h.GetEmail)

	return nil
}

type submitEmailRequest struct {
	CorrelationID  string  `json:"correlationId"`
	IdempotencyKey *string `json:"idempotencyKey"`
	Kind           string  `json:"kind"`
	Recipient      string  `json:"recipient"`
	Subject        string  `json:"subject"`
	HTML           string  `json:"html"`
	Text           string  `json:"text"`
}

type emailResponse struct {
	ID                string     `json:"id"`
	CorrelationID     string     `json:"correlationId"`
	IdempotencyKey    *string    `json:"idempotencyKey,omitempty"`
	Kind              string     `json:"kind"`
	Recipient         string     `json:"recipient"`
	Subject           string     `json:"subject"`
	Status            string     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
	AttemptCount      int        `json:"attemptCount"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt,omitempty"`
}

func (h *EmailHandler) SubmitEmail(c *fiber.Ctx) error {
	var req submitEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.IdempotencyKey == nil {
		if key := strings.TrimSpace(c.Get(headerIdempotencyKey)); key != "" {
			req.IdempotencyKey = &key
		}
	}

	email, err := requestToDomainEmail(req, observability.CorrelationIDFromFiber(c))
	if err != nil {
		return toHTTPError(err)
	}

	submitted, err := h.service.Submit(c.UserContext(), &email)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toEmailResponse(submitted))
}

func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	email, err := h.service.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toEmailResponse(email))
}

func requestToDomainEmail(req submitEmailRequest, fallbackCorrelationID string) (domain.Email, error) {
	kind, err := domain.ParseEmailKindFromString(req.Kind)
	if err != nil {
		return domain.Email{}, err
	}

	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		correlationID = fallbackCorrelationID
	}

	return domain.Email{
		CorrelationID:  correlationID,
		IdempotencyKey: req.IdempotencyKey,
		Kind:           kind,
		Recipient:      req.Recipient,
		Subject:        req.Subject,
		HTMLBody:       req.HTML,
		TextBody:       req.Text,
	}, nil
}

func toEmailResponse(e *domain.Email) emailResponse {
	return emailResponse{
		ID:                e.ID,
		CorrelationID:     e.CorrelationID,
		IdempotencyKey:    e.IdempotencyKey,
		Kind:              e.Kind.String(),
		Recipient:         e.Recipient,
		Subject:           e.Subject,
		Status:            e.Status.String(),
		ProviderMessageID: e.ProviderMessageID,
		LastError:         e.LastError,
		AttemptCount:      e.AttemptCount,
		NextRetryAt:       e.NextRetryAt,
		SentAt:            e.SentAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}
