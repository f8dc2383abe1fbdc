package webhooks

import (
	"net/http"
	"time"
)

type VerificationResult struct {
	Valid     bool           `json:"valid"`
	Scheme    string         `json:"scheme"`
	Details   map[string]any `json:"details"`
	EventID   string         `json:"event_id,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	SignedAt  time.Time      `json:"signed_at,omitempty"`
}

type Verifier interface {
	Source() string
	Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (VerificationResult, error)
}
