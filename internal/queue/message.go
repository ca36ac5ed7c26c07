package queue

import (
	"fmt"
	"strings"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
)

// EmailMessage is the broker payload telling the worker which stored email
// to deliver.
type EmailMessage struct {
	EmailID       string           `json:"emailId"`
	CorrelationID string           `json:"correlationId,omitempty"`
	Kind          domain.EmailKind `json:"kind"`
}

func (m EmailMessage) Validate() error {
	if strings.TrimSpace(m.EmailID) == "" {
		return fmt.Errorf("emailId is required")
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("invalid email kind %q", m.Kind)
	}
	return nil
}
