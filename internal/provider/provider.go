package provider

import (
	"context"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
)

// EmailProvider is the outbound transactional email port.
type EmailProvider interface {
	Send(ctx context.Context, email domain.Email) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for the email log.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
