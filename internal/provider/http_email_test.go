package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"github.com/go-resty/resty/v2"
)

func testEmail() domain.Email {
	return domain.Email{
		ID:        "email-1",
		Kind:      domain.EmailKindGiftCard,
		Recipient: "member@example.com",
		Subject:   "Your gift card",
		HTMLBody:  "<p>Enjoy</p>",
	}
}

func TestHTTPEmailProviderSendSuccess(t *testing.T) {
	t.Parallel()

	var (
		gotBody    sendEmailRequest
		gotAuth    string
		gotIdemKey string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIdemKey = r.Header.Get("Idempotency-Key")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg-123"}`))
	}))
	defer server.Close()

	p, err := NewHTTPEmailProvider(server.URL, "key-1", "Semzo Privé <hola@example.com>")
	if err != nil {
		t.Fatalf("NewHTTPEmailProvider() error = %v", err)
	}

	email := testEmail()
	resp, err := p.Send(context.Background(), email)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.MessageID != "msg-123" {
		t.Fatalf("MessageID = %q, want msg-123", resp.MessageID)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("Authorization = %q, want Bearer key-1", gotAuth)
	}
	if gotIdemKey != email.ID {
		t.Fatalf("Idempotency-Key = %q, want %q", gotIdemKey, email.ID)
	}
	if len(gotBody.To) != 1 || gotBody.To[0] != email.Recipient {
		t.Fatalf("request.to = %v, want [%s]", gotBody.To, email.Recipient)
	}
	if gotBody.Subject != email.Subject {
		t.Fatalf("request.subject = %q, want %q", gotBody.Subject, email.Subject)
	}
	if len(gotBody.Tags) != 1 || gotBody.Tags[0].Value != "gift_card" {
		t.Fatalf("request.tags = %+v, want kind=gift_card", gotBody.Tags)
	}
}

func TestHTTPEmailProviderMessageIDFromHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Message-ID", "hdr-9")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p, err := NewHTTPEmailProvider(server.URL, "", "hola@example.com")
	if err != nil {
		t.Fatalf("NewHTTPEmailProvider() error = %v", err)
	}

	resp, err := p.Send(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if resp.MessageID != "hdr-9" {
		t.Fatalf("MessageID = %q, want hdr-9", resp.MessageID)
	}
}

func TestHTTPEmailProviderSendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
		wantThrottled bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true, wantThrottled: true},
		{name: "unprocessable entity is permanent", statusCode: http.StatusUnprocessableEntity, wantTransient: false},
		{name: "unauthorized is permanent", statusCode: http.StatusUnauthorized, wantTransient: false},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("provider failed"))
			}))
			defer server.Close()

			p, err := NewHTTPEmailProvider(server.URL, "key", "hola@example.com")
			if err != nil {
				t.Fatalf("NewHTTPEmailProvider() error = %v", err)
			}

			_, err = p.Send(context.Background(), testEmail())
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
			if got := IsThrottled(err); got != tc.wantThrottled {
				t.Fatalf("IsThrottled() = %v, want %v", got, tc.wantThrottled)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestHTTPEmailProviderSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewHTTPEmailProviderWithClient(server.URL, "key", "hola@example.com", client)
	if err != nil {
		t.Fatalf("NewHTTPEmailProviderWithClient() error = %v", err)
	}

	_, err = p.Send(context.Background(), testEmail())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestHTTPEmailProviderRejectsInvalidEmail(t *testing.T) {
	t.Parallel()

	p, err := NewHTTPEmailProvider("https://api.example.com/emails", "key", "hola@example.com")
	if err != nil {
		t.Fatalf("NewHTTPEmailProvider() error = %v", err)
	}

	email := testEmail()
	email.Recipient = "nope"
	if _, err := p.Send(context.Background(), email); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send() error = %v, want ErrValidation", err)
	}
}

func TestNewHTTPEmailProviderValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewHTTPEmailProvider("", "key", "hola@example.com"); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewHTTPEmailProvider("not a url", "key", "hola@example.com"); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
	if _, err := NewHTTPEmailProvider("https://api.example.com/emails", "key", " "); err == nil {
		t.Fatal("expected error for empty sender")
	}
}

func TestHTTPEmailProviderRetryAfter(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, err := NewHTTPEmailProvider(server.URL, "key", "hola@example.com")
	if err != nil {
		t.Fatalf("NewHTTPEmailProvider() error = %v", err)
	}

	_, err = p.Send(context.Background(), testEmail())
	if got := RetryAfter(err); got != 7*time.Second {
		t.Fatalf("RetryAfter() = %v, want 7s", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	testCases := []struct {
		value string
		want  time.Duration
	}{
		{value: "", want: 0},
		{value: "30", want: 30 * time.Second},
		{value: "0", want: 0},
		{value: "-5", want: 0},
		{value: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{value: "soon", want: 0},
	}

	for _, tc := range testCases {
		if got := parseRetryAfter(tc.value, now); got != tc.want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}
