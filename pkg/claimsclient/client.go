package claimsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the claims service HTTP API.
type Client struct {
	BaseURL        string
	Token          string
	IdempotencyKey string
	HTTP           *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:   strings.TrimSpace(token),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithIdempotencyKey returns a copy that sends key on mutations.
func (c *Client) WithIdempotencyKey(key string) *Client {
	cp := *c
	cp.IdempotencyKey = strings.TrimSpace(key)
	return &cp
}

// APIError is a non-2xx response decoded from the service error envelope.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("claims api %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.IdempotencyKey != "" && method != http.MethodGet {
		req.Header.Set("Idempotency-Key", c.IdempotencyKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: http.StatusText(resp.StatusCode)}
		var env struct {
			RequestID string `json:"request_id"`
			Error     struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&env) == nil && env.Error.Code != "" {
			apiErr.Code, apiErr.Message, apiErr.RequestID = env.Error.Code, env.Error.Message, env.RequestID
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func claimPath(owner, claimID string) string {
	return "/claims/v1/claims/" + url.PathEscape(owner) + "/" + url.PathEscape(claimID)
}

func (c *Client) Parameters(ctx context.Context) (Parameters, error) {
	var out struct {
		Parameters Parameters `json:"parameters"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/parameters", nil, &out)
	return out.Parameters, err
}

// UpdateParameter sets "threshold", "fee" or "quorum".
func (c *Client) UpdateParameter(ctx context.Context, name string, value uint64) (Parameters, error) {
	var out struct {
		Parameters Parameters `json:"parameters"`
	}
	err := c.do(ctx, http.MethodPut, "/claims/v1/parameters/"+url.PathEscape(name), map[string]uint64{"value": value}, &out)
	return out.Parameters, err
}

func (c *Client) Pause(ctx context.Context) (Parameters, error) {
	var out struct {
		Parameters Parameters `json:"parameters"`
	}
	err := c.do(ctx, http.MethodPost, "/claims/v1/parameters/pause", nil, &out)
	return out.Parameters, err
}

func (c *Client) Unpause(ctx context.Context) (Parameters, error) {
	var out struct {
		Parameters Parameters `json:"parameters"`
	}
	err := c.do(ctx, http.MethodPost, "/claims/v1/parameters/unpause", nil, &out)
	return out.Parameters, err
}

func (c *Client) TransferOwnership(ctx context.Context, owner string) (Parameters, error) {
	var out struct {
		Parameters Parameters `json:"parameters"`
	}
	err := c.do(ctx, http.MethodPost, "/claims/v1/parameters/owner", map[string]string{"owner": owner}, &out)
	return out.Parameters, err
}

func (c *Client) SubmitClaim(ctx context.Context, req SubmitClaimRequest) (Claim, error) {
	var out struct {
		Claim Claim `json:"claim"`
	}
	err := c.do(ctx, http.MethodPost, "/claims/v1/claims", req, &out)
	return out.Claim, err
}

func (c *Client) Claims(ctx context.Context, owner string) ([]Claim, error) {
	var out struct {
		Claims []Claim `json:"claims"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/claims/"+url.PathEscape(owner), nil, &out)
	return out.Claims, err
}

func (c *Client) Claim(ctx context.Context, owner, claimID string) (Claim, error) {
	var out struct {
		Claim Claim `json:"claim"`
	}
	err := c.do(ctx, http.MethodGet, claimPath(owner, claimID), nil, &out)
	return out.Claim, err
}

func (c *Client) Verify(ctx context.Context, owner, claimID string, insuranceRate uint64, verified bool) (Claim, error) {
	var out struct {
		Claim Claim `json:"claim"`
	}
	in := map[string]any{"insurance_rate": insuranceRate, "verified": verified}
	err := c.do(ctx, http.MethodPost, claimPath(owner, claimID)+"/verify", in, &out)
	return out.Claim, err
}

func (c *Client) Payout(ctx context.Context, owner, claimID string) (Payout, error) {
	var out struct {
		Payout Payout `json:"payout"`
	}
	err := c.do(ctx, http.MethodPost, claimPath(owner, claimID)+"/payout", nil, &out)
	return out.Payout, err
}

func (c *Client) Balance(ctx context.Context) (string, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/ledger/balance", nil, &out)
	return out.Balance, err
}

func (c *Client) AddFunds(ctx context.Context, amount string) (string, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	err := c.do(ctx, http.MethodPost, "/claims/v1/ledger/funds", map[string]string{"amount": amount}, &out)
	return out.Balance, err
}

func (c *Client) Availability(ctx context.Context, amount string) (Availability, error) {
	var out struct {
		Availability Availability `json:"availability"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/ledger/availability?amount="+url.QueryEscape(amount), nil, &out)
	return out.Availability, err
}

func (c *Client) Exposure(ctx context.Context) (Exposure, error) {
	var out struct {
		Exposure Exposure `json:"exposure"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/ledger/exposure", nil, &out)
	return out.Exposure, err
}

func (c *Client) Members(ctx context.Context, roster string) ([]string, error) {
	var out struct {
		Members []string `json:"members"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/rosters/"+url.PathEscape(roster), nil, &out)
	return out.Members, err
}

// AddMember reports whether the roster changed.
func (c *Client) AddMember(ctx context.Context, roster, identity string) (bool, error) {
	return c.changeMember(ctx, http.MethodPut, roster, identity)
}

func (c *Client) RemoveMember(ctx context.Context, roster, identity string) (bool, error) {
	return c.changeMember(ctx, http.MethodDelete, roster, identity)
}

func (c *Client) changeMember(ctx context.Context, method, roster, identity string) (bool, error) {
	var out struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, method, "/claims/v1/rosters/"+url.PathEscape(roster)+"/"+url.PathEscape(identity), nil, &out)
	return out.Changed, err
}

type EventQuery struct {
	Kinds    []string
	Actor    string
	Owner    string
	ClaimID  string
	AfterSeq uint64
	Limit    int
}

func (q EventQuery) encode() string {
	v := url.Values{}
	if len(q.Kinds) > 0 {
		v.Set("kind", strings.Join(q.Kinds, ","))
	}
	for k, s := range map[string]string{"actor": q.Actor, "owner": q.Owner, "claim_id": q.ClaimID} {
		if s != "" {
			v.Set(k, s)
		}
	}
	if q.AfterSeq > 0 {
		v.Set("after_seq", strconv.FormatUint(q.AfterSeq, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/events"+q.encode(), nil, &out)
	return out.Events, err
}

func (c *Client) VerifyChain(ctx context.Context) (ChainReport, error) {
	var out struct {
		Chain ChainReport `json:"chain"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/events/verify", nil, &out)
	return out.Chain, err
}

// ReportQuery selects either a named period (daily, weekly, monthly,
// quarterly, yearly) or an explicit Since/Until range.
type ReportQuery struct {
	Period string
	Since  time.Time
	Until  time.Time
}

func (q ReportQuery) encode() string {
	v := url.Values{}
	if q.Period != "" {
		v.Set("period", q.Period)
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		v.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) Report(ctx context.Context, q ReportQuery) (Report, error) {
	var out struct {
		Report Report `json:"report"`
	}
	err := c.do(ctx, http.MethodGet, "/claims/v1/reports"+q.encode(), nil, &out)
	return out.Report, err
}
