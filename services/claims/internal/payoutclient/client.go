package payoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/accordsai/claimlane/services/claims/internal/claims"
)

// Client sends settled payouts to an external transfer service.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   strings.TrimSpace(token),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var _ claims.Transferer = (*Client)(nil)

type transferRequest struct {
	Owner   claims.Identity `json:"owner"`
	ClaimID string          `json:"claim_id"`
	Gross   claims.Amount   `json:"gross"`
	Fee     claims.Amount   `json:"fee"`
	Net     claims.Amount   `json:"net"`
}

// Transfer posts the net amount and returns the service's transfer reference.
// The claim key doubles as the Idempotency-Key so a retried payout cannot
// move funds twice on the receiving side.
func (c *Client) Transfer(ctx context.Context, t claims.Transfer) (string, error) {
	b, err := json.Marshal(transferRequest{Owner: t.Owner, ClaimID: t.ClaimID, Gross: t.Gross, Fee: t.Fee, Net: t.Net})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transfers", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("Idempotency-Key", "payout:"+claims.ClaimKey{Owner: t.Owner, ClaimID: t.ClaimID}.String())
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("payout service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		TransferRef string `json:"transfer_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.TransferRef) == "" {
		return "", fmt.Errorf("payout service returned no transfer_ref")
	}
	return out.TransferRef, nil
}
