package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// EmailStatus represents the delivery state of a transactional email.
type EmailStatus string

const (
	EmailStatusAccepted EmailStatus = "ACCEPTED"
	EmailStatusQueued   EmailStatus = "QUEUED"
	EmailStatusSending  EmailStatus = "SENDING"
	EmailStatusSent     EmailStatus = "SENT"
	EmailStatusFailed   EmailStatus = "FAILED"
)

func (s EmailStatus) String() string { return string(s) }

func (s EmailStatus) IsValid() bool {
	switch s {
	case EmailStatusAccepted, EmailStatusQueued, EmailStatusSending, EmailStatusSent, EmailStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery will be attempted.
func (s EmailStatus) IsTerminal() bool {
	return s == EmailStatusSent || s == EmailStatusFailed
}

// EmailKind names the storefront event that triggered an email.
type EmailKind string

const (
	EmailKindWelcome                EmailKind = "welcome"
	EmailKindMembershipConfirmation EmailKind = "membership_confirmation"
	EmailKindOrderConfirmation      EmailKind = "order_confirmation"
	EmailKindGiftCard               EmailKind = "gift_card"
	EmailKindWaitlist               EmailKind = "waitlist"
	EmailKindIdentityVerification   EmailKind = "identity_verification"
	EmailKindPasswordReset          EmailKind = "password_reset"
)

func (k EmailKind) String() string { return string(k) }

func (k EmailKind) IsValid() bool {
	switch k {
	case EmailKindWelcome,
		EmailKindMembershipConfirmation,
		EmailKindOrderConfirmation,
		EmailKindGiftCard,
		EmailKindWaitlist,
		EmailKindIdentityVerification,
		EmailKindPasswordReset:
		return true
	}
	return false
}

func ParseEmailKindFromString(s string) (EmailKind, error) {
	k := EmailKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid email kind %q", ErrValidation, s)
	}
	return k, nil
}

// Size limits (in characters).
const (
	MaxSubjectLength = 200
	MaxBodyLength    = 100000
)

// Email is a single transactional message and its delivery record.
type Email struct {
	ID                string
	CorrelationID     string
	IdempotencyKey    *string
	Kind              EmailKind
	Recipient         string
	Subject           string
	HTMLBody          string
	TextBody          string
	Status            EmailStatus
	ProviderMessageID *string
	LastError         *string
	AttemptCount      int
	NextRetryAt       *time.Time
	SentAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (e *Email) Validate() error {
	if strings.TrimSpace(e.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(e.Recipient)
	if err != nil || addr.Address != strings.TrimSpace(e.Recipient) {
		return fmt.Errorf("%w: recipient %q is not a bare email address", ErrValidation, e.Recipient)
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: invalid email kind %q", ErrValidation, e.Kind)
	}

	subject := strings.TrimSpace(e.Subject)
	if subject == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if n := len([]rune(subject)); n > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters (got %d)", ErrValidation, MaxSubjectLength, n)
	}

	if strings.TrimSpace(e.HTMLBody) == "" && strings.TrimSpace(e.TextBody) == "" {
		return fmt.Errorf("%w: html or text body is required", ErrValidation)
	}
	if n := len([]rune(e.HTMLBody)); n > MaxBodyLength {
		return fmt.Errorf("%w: html body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, n)
	}
	if n := len([]rune(e.TextBody)); n > MaxBodyLength {
		return fmt.Errorf("%w: text body exceeds %d characters (got %d)", ErrValidation, MaxBodyLength, n)
	}

	return nil
}
