package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultEmailTimeout = 10 * time.Second

type sendEmailRequest struct {
	From    string     `json:"from"`
	To      []string   `json:"to"`
	Subject string     `json:"subject"`
	HTML    string     `json:"html,omitempty"`
	Text    string     `json:"text,omitempty"`
	Tags    []emailTag `json:"tags,omitempty"`
}

type emailTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type sendEmailResponse struct {
	ID string `json:"id"`
}

// HTTPEmailProvider posts emails to a JSON transactional email API that
// authenticates with a bearer key and honours an Idempotency-Key header.
type HTTPEmailProvider struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	from     string
}

func NewHTTPEmailProvider(endpoint string, apiKey string, from string) (*HTTPEmailProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultEmailTimeout)
	client.SetRetryCount(0)

	return NewHTTPEmailProviderWithClient(endpoint, apiKey, from, client)
}

func NewHTTPEmailProviderWithClient(endpoint string, apiKey string, from string, client *resty.Client) (*HTTPEmailProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("email provider endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid email provider endpoint: %w", err)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultEmailTimeout)
	}
	// Retries belong to the broker redelivery path, not the HTTP client.
	client.SetRetryCount(0)

	return &HTTPEmailProvider{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
		from:     strings.TrimSpace(from),
	}, nil
}

func (p *HTTPEmailProvider) Send(ctx context.Context, email domain.Email) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if err := email.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	reqBody := sendEmailRequest{
		From:    p.from,
		To:      []string{email.Recipient},
		Subject: email.Subject,
		HTML:    email.HTMLBody,
		Text:    email.TextBody,
		Tags:    []emailTag{{Name: "kind", Value: email.Kind.String()}},
	}

	var parsed sendEmailResponse
	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&parsed)
	if p.apiKey != "" {
		req.SetAuthToken(p.apiKey)
	}
	if email.ID != "" {
		req.SetHeader("Idempotency-Key", email.ID)
	}

	response, err := req.Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		messageID := strings.TrimSpace(parsed.ID)
		if messageID == "" {
			messageID = providerMessageID(response)
		}
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  messageID,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
		RetryAfter: parseRetryAfter(response.Header().Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
