package attestation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/accordsai/claimlane/pkg/webhooks"
	"github.com/accordsai/claimlane/services/claims/internal/claims"
)

const Source = "attestation-oracle"

var (
	ErrInvalidSignature = errors.New("attestation signature invalid")
	ErrMalformed        = errors.New("attestation malformed")
	ErrStale            = errors.New("attestation outside freshness window")
	ErrInProgress       = errors.New("attestation still being applied")
)

// Attestation is the oracle's signed statement about one claim.
type Attestation struct {
	AttestationID string          `json:"attestation_id"`
	Owner         claims.Identity `json:"owner"`
	ClaimID       string          `json:"claim_id"`
	InsuranceRate uint64          `json:"insurance_rate"`
	Verified      bool            `json:"verified"`
	IssuedAt      time.Time       `json:"issued_at"`
}

func (a Attestation) validate() error {
	switch {
	case strings.TrimSpace(a.AttestationID) == "":
		return fmt.Errorf("%w: attestation_id is required", ErrMalformed)
	case !a.Owner.Valid():
		return fmt.Errorf("%w: owner is required", ErrMalformed)
	case strings.TrimSpace(a.ClaimID) == "":
		return fmt.Errorf("%w: claim_id is required", ErrMalformed)
	case a.IssuedAt.IsZero():
		return fmt.Errorf("%w: issued_at is required", ErrMalformed)
	}
	return nil
}

const (
	StatusPending = "PENDING"
	StatusApplied = "APPLIED"
)

type Receipt struct {
	AttestationID string          `json:"attestation_id"`
	Owner         claims.Identity `json:"owner"`
	ClaimID       string          `json:"claim_id"`
	InsuranceRate uint64          `json:"insurance_rate"`
	Verified      bool            `json:"verified"`
	IssuedAt      time.Time       `json:"issued_at"`
	ReceivedAt    time.Time       `json:"received_at"`
	BodySHA256    string          `json:"body_sha256"`
	Status        string          `json:"status"`
	PayoutAmount  *claims.Amount  `json:"payout_amount,omitempty"`
}

// ReceiptStore deduplicates attestations by id. ReserveReceipt reports
// inserted=false when the id was already reserved.
type ReceiptStore interface {
	ReserveReceipt(ctx context.Context, r Receipt) (inserted bool, err error)
	GetReceipt(ctx context.Context, attestationID string) (Receipt, error)
	CompleteReceipt(ctx context.Context, attestationID string, payout claims.Amount) error
	ReleaseReceipt(ctx context.Context, attestationID string) error
}

// Verifier is the part of the verification workflow an attestation drives.
type Verifier interface {
	Verify(ctx context.Context, caller claims.Identity, req claims.VerifyRequest) (claims.Claim, error)
}

type Config struct {
	Secret    string
	Validator claims.Identity
	MaxSkew   time.Duration
}

type Result struct {
	Replayed bool          `json:"replayed"`
	Receipt  Receipt       `json:"receipt"`
	Claim    *claims.Claim `json:"claim,omitempty"`
}

// Ingress authenticates oracle attestations and applies each one at most once.
type Ingress struct {
	cfg      Config
	verifier webhooks.Verifier
	receipts ReceiptStore
	workflow Verifier
	log      *slog.Logger
}

func NewIngress(cfg Config, receipts ReceiptStore, workflow Verifier, log *slog.Logger) *Ingress {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Ingress{
		cfg:      cfg,
		verifier: webhooks.NewHMACVerifier(Source, cfg.MaxSkew),
		receipts: receipts,
		workflow: workflow,
		log:      log,
	}
}

func (in *Ingress) Accept(ctx context.Context, headers http.Header, rawBody []byte, receivedAt time.Time) (Result, error) {
	receivedAt = receivedAt.UTC()
	check, err := in.verifier.Verify(headers, rawBody, receivedAt, in.cfg.Secret)
	if err != nil {
		return Result{}, err
	}
	if !check.Valid {
		in.log.Warn("attestation rejected", "reason", "signature", "details", check.Details)
		return Result{}, ErrInvalidSignature
	}

	var a Attestation
	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := a.validate(); err != nil {
		return Result{}, err
	}
	if check.EventID != "" && check.EventID != a.AttestationID {
		return Result{}, fmt.Errorf("%w: %s header does not match attestation_id", ErrMalformed, webhooks.EventIDHeader)
	}
	skew := receivedAt.Sub(a.IssuedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > in.cfg.MaxSkew {
		return Result{}, fmt.Errorf("%w: issued_at %s is %s from receipt", ErrStale, a.IssuedAt.UTC().Format(time.RFC3339), skew.Round(time.Second))
	}

	sum := sha256.Sum256(rawBody)
	rec := Receipt{
		AttestationID: a.AttestationID,
		Owner:         a.Owner,
		ClaimID:       a.ClaimID,
		InsuranceRate: a.InsuranceRate,
		Verified:      a.Verified,
		IssuedAt:      a.IssuedAt.UTC(),
		ReceivedAt:    receivedAt,
		BodySHA256:    hex.EncodeToString(sum[:]),
		Status:        StatusPending,
	}
	inserted, err := in.receipts.ReserveReceipt(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	if !inserted {
		existing, err := in.receipts.GetReceipt(ctx, a.AttestationID)
		if err != nil {
			return Result{}, err
		}
		if existing.Status == StatusPending {
			return Result{}, fmt.Errorf("%w: %s", ErrInProgress, a.AttestationID)
		}
		in.log.Info("attestation replayed", "attestation_id", a.AttestationID, "status", existing.Status)
		return Result{Replayed: true, Receipt: existing}, nil
	}

	c, err := in.workflow.Verify(ctx, in.cfg.Validator, claims.VerifyRequest{
		Owner:         a.Owner,
		ClaimID:       a.ClaimID,
		InsuranceRate: a.InsuranceRate,
		Verified:      a.Verified,
	})
	if err != nil {
		if relErr := in.receipts.ReleaseReceipt(ctx, a.AttestationID); relErr != nil {
			in.log.Error("attestation release failed", "attestation_id", a.AttestationID, "err", relErr)
		}
		return Result{}, err
	}
	if err := in.receipts.CompleteReceipt(ctx, a.AttestationID, c.PayoutAmount); err != nil {
		return Result{}, err
	}
	rec.Status = StatusApplied
	payout := c.PayoutAmount
	rec.PayoutAmount = &payout
	in.log.Info("attestation applied", "attestation_id", a.AttestationID, "claim", c.Key().String(), "payout_amount", payout.String())
	return Result{Receipt: rec, Claim: &c}, nil
}
