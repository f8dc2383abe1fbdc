package claims

import (
	"context"
	"fmt"
	"strings"
)

type SubmitRequest struct {
	Owner         Identity `json:"owner"`
	ClaimID       string   `json:"claim_id"`
	Principal     Amount   `json:"principal"`
	Leverage      uint64   `json:"leverage"`
	InsuranceRate uint64   `json:"insurance_rate"`
}

// ClaimRegistry owns claim records keyed by (owner, claim id).
type ClaimRegistry struct{ e *Engine }

// SubmitClaim records a new claim for caller. Nothing is written unless every
// precondition holds.
func (r *ClaimRegistry) SubmitClaim(ctx context.Context, caller Identity, req SubmitRequest) (Claim, error) {
	req.ClaimID = strings.TrimSpace(req.ClaimID)
	var out Claim
	err := r.e.update(ctx, func(ctx context.Context, tx Tx) error {
		if caller == "" || caller != req.Owner {
			return fmt.Errorf("%w: claims may only be submitted by their owner", ErrUnauthorized)
		}
		ok, err := eligibleClaimant(ctx, tx, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q is not an eligible claimant", ErrUnauthorized, caller)
		}
		p, err := tx.Parameters(ctx)
		if err != nil {
			return err
		}
		if p.Paused {
			return ErrPaused
		}
		if req.ClaimID == "" {
			return fmt.Errorf("%w: claim id is required", ErrInvalidParameter)
		}
		if req.Principal.IsZero() {
			return fmt.Errorf("%w: principal must be positive", ErrInvalidParameter)
		}
		if req.Leverage <= p.LiquidationThreshold {
			return fmt.Errorf("%w: leverage %d must exceed liquidation threshold %d", ErrInvalidParameter, req.Leverage, p.LiquidationThreshold)
		}
		if req.InsuranceRate == 0 || req.InsuranceRate > MaxInsuranceRate {
			return fmt.Errorf("%w: insurance rate must be in (0,100], got %d", ErrInvalidParameter, req.InsuranceRate)
		}
		estimate, err := EstimatePayout(req.Principal, req.Leverage, p.LiquidationThreshold, req.InsuranceRate)
		if err != nil {
			return err
		}
		c := Claim{
			Owner:           req.Owner,
			ClaimID:         req.ClaimID,
			Principal:       req.Principal,
			Leverage:        req.Leverage,
			InsuranceRate:   req.InsuranceRate,
			EstimatedPayout: estimate,
			PayoutAmount:    estimate,
			State:           StateSubmitted,
			SubmittedAt:     r.e.clock(),
		}
		if err := tx.InsertClaim(ctx, c); err != nil {
			return err
		}
		key := c.Key()
		_, err = appendEvent(ctx, tx, c.SubmittedAt, eventDraft{
			kind:   EventClaimSubmitted,
			actor:  caller,
			claim:  &key,
			amount: &estimate,
			payload: ClaimSubmittedPayload{
				Principal:       c.Principal,
				Leverage:        c.Leverage,
				InsuranceRate:   c.InsuranceRate,
				Threshold:       p.LiquidationThreshold,
				EstimatedPayout: estimate,
			},
		})
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		r.e.log.Warn("claim submission rejected", "owner", req.Owner, "claim_id", req.ClaimID, "caller", caller, "err", err)
		return Claim{}, err
	}
	r.e.log.Info("claim submitted", "owner", out.Owner, "claim_id", out.ClaimID, "estimated_payout", out.EstimatedPayout.String())
	return out, nil
}

func (r *ClaimRegistry) IsClaimed(ctx context.Context, owner Identity, claimID string) (bool, error) {
	_, err := r.GetClaim(ctx, owner, claimID)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (r *ClaimRegistry) GetClaim(ctx context.Context, owner Identity, claimID string) (Claim, error) {
	var out Claim
	err := r.e.view(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Claim(ctx, ClaimKey{Owner: owner, ClaimID: claimID})
		return err
	})
	return out, err
}

// GetClaims lists owner's claims in submission order.
func (r *ClaimRegistry) GetClaims(ctx context.Context, owner Identity) ([]Claim, error) {
	var out []Claim
	err := r.e.view(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ClaimsByOwner(ctx, owner)
		return err
	})
	return out, err
}
