package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/accordsai/claimlane/services/claims/internal/attestation"
	"github.com/accordsai/claimlane/services/claims/internal/claims"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetIdempotencyRecord(ctx context.Context, identity, key, endpoint string) (int, json.RawMessage, bool, error) {
	var status int
	var body []byte
	err := s.DB.QueryRow(ctx, `
SELECT response_status,response_body
FROM idempotency_records
WHERE identity=$1 AND idempotency_key=$2 AND endpoint=$3
`, identity, key, endpoint).Scan(&status, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return status, body, true, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, identity, key, endpoint string, status int, body json.RawMessage) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO idempotency_records(identity,idempotency_key,endpoint,response_status,response_body)
VALUES($1,$2,$3,$4,$5::jsonb)
ON CONFLICT (identity,idempotency_key,endpoint) DO NOTHING
`, identity, key, endpoint, status, string(body))
	return err
}

func (s *Store) ReserveReceipt(ctx context.Context, r attestation.Receipt) (bool, error) {
	tag, err := s.DB.Exec(ctx, `
INSERT INTO attestation_receipts(attestation_id,owner_id,claim_id,insurance_rate,verified,issued_at,received_at,body_sha256,status)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (attestation_id) DO NOTHING
`, r.AttestationID, string(r.Owner), r.ClaimID, int64(r.InsuranceRate), r.Verified, r.IssuedAt, r.ReceivedAt, r.BodySHA256, r.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) GetReceipt(ctx context.Context, attestationID string) (attestation.Receipt, error) {
	var (
		r      attestation.Receipt
		owner  string
		rate   int64
		payout *string
	)
	err := s.DB.QueryRow(ctx, `
SELECT attestation_id,owner_id,claim_id,insurance_rate,verified,issued_at,received_at,body_sha256,status,payout_amount::text
FROM attestation_receipts WHERE attestation_id=$1
`, attestationID).Scan(&r.AttestationID, &owner, &r.ClaimID, &rate, &r.Verified, &r.IssuedAt, &r.ReceivedAt, &r.BodySHA256, &r.Status, &payout)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return attestation.Receipt{}, fmt.Errorf("%w: attestation %s", claims.ErrNotFound, attestationID)
		}
		return attestation.Receipt{}, err
	}
	r.Owner = claims.Identity(owner)
	r.InsuranceRate = uint64(rate)
	r.IssuedAt = r.IssuedAt.UTC()
	r.ReceivedAt = r.ReceivedAt.UTC()
	if payout != nil {
		a, err := claims.ParseAmount(*payout)
		if err != nil {
			return attestation.Receipt{}, err
		}
		r.PayoutAmount = &a
	}
	return r, nil
}

func (s *Store) CompleteReceipt(ctx context.Context, attestationID string, payout claims.Amount) error {
	_, err := s.DB.Exec(ctx, `UPDATE attestation_receipts SET status=$2, payout_amount=$3::numeric WHERE attestation_id=$1`,
		attestationID, attestation.StatusApplied, payout.String())
	return err
}

func (s *Store) ReleaseReceipt(ctx context.Context, attestationID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM attestation_receipts WHERE attestation_id=$1 AND status=$2`,
		attestationID, attestation.StatusPending)
	return err
}
