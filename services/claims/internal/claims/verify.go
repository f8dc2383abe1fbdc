package claims

import (
	"context"
	"errors"
	"fmt"
)

type VerifyRequest struct {
	Owner         Identity `json:"owner"`
	ClaimID       string   `json:"claim_id"`
	InsuranceRate uint64   `json:"insurance_rate"`
	Verified      bool     `json:"verified"`
}

// VerificationWorkflow lets validators confirm claims and fix the payout amount.
type VerificationWorkflow struct{ e *Engine }

// Verify applies insuranceRate to the claim's current payout amount and
// records the verified flag. It may be repeated until the claim is paid; each
// call compounds on the amount left by the previous one.
func (v *VerificationWorkflow) Verify(ctx context.Context, caller Identity, req VerifyRequest) (Claim, error) {
	key := ClaimKey{Owner: req.Owner, ClaimID: req.ClaimID}
	var out Claim
	err := v.e.update(ctx, func(ctx context.Context, tx Tx) error {
		if err := requireValidator(ctx, tx, caller); err != nil {
			return err
		}
		c, err := tx.Claim(ctx, key)
		if err != nil {
			return err
		}
		p, err := tx.Parameters(ctx)
		if err != nil {
			return err
		}
		if p.Paused {
			return ErrPaused
		}
		if req.InsuranceRate > MaxInsuranceRate {
			return fmt.Errorf("%w: insurance rate must be at most 100, got %d", ErrInvalidParameter, req.InsuranceRate)
		}
		if c.State == StatePaid {
			return fmt.Errorf("%w: %s", ErrAlreadyPaid, key)
		}
		previous := c.PayoutAmount
		amount, err := previous.MulDiv(req.InsuranceRate, percentScale)
		if err != nil {
			return err
		}
		now := v.e.clock()
		c.PayoutAmount = amount
		c.Verified = req.Verified
		c.VerifiedBy = caller
		c.VerifiedAt = &now
		if req.Verified {
			c.State = StateVerified
		}
		if err := tx.SaveClaim(ctx, c); err != nil {
			return err
		}
		_, err = appendEvent(ctx, tx, now, eventDraft{
			kind:   EventPayoutVerified,
			actor:  caller,
			claim:  &key,
			amount: &amount,
			payload: PayoutVerifiedPayload{
				InsuranceRate:  req.InsuranceRate,
				Verified:       req.Verified,
				PreviousAmount: previous,
				PayoutAmount:   amount,
			},
		})
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		v.e.log.Warn("verification rejected", "claim", key.String(), "caller", caller, "err", err)
		return Claim{}, err
	}
	v.e.log.Info("claim verified", "claim", key.String(), "validator", caller, "verified", out.Verified, "payout_amount", out.PayoutAmount.String())
	return out, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
