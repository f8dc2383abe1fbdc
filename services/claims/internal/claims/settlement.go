package claims

import (
	"context"
	"fmt"
)

type Receipt struct {
	Claim        Claim  `json:"claim"`
	Gross        Amount `json:"gross"`
	Fee          Amount `json:"fee"`
	Net          Amount `json:"net"`
	BalanceAfter Amount `json:"balance_after"`
	TransferRef  string `json:"transfer_ref"`
	EventSeq     uint64 `json:"event_seq"`
}

// SettlementEngine pays verified claims exactly once.
type SettlementEngine struct{ e *Engine }

// InFlight reports whether a payout currently holds the settlement guard.
func (s *SettlementEngine) InFlight() bool { return s.e.settling.Load() }

// ExecutePayout settles a verified claim. The guard is taken before any state
// is read: a nested or concurrent payout fails with ErrReentrancy instead of
// waiting. Balance and claim state are written before the Transferer runs, and
// the whole unit of work is discarded if the transfer fails.
func (s *SettlementEngine) ExecutePayout(ctx context.Context, caller Identity, owner Identity, claimID string) (Receipt, error) {
	key := ClaimKey{Owner: owner, ClaimID: claimID}
	if InSettlement(ctx) || !s.e.settling.CompareAndSwap(false, true) {
		s.e.log.Warn("payout rejected", "claim", key.String(), "caller", caller, "err", ErrReentrancy)
		return Receipt{}, fmt.Errorf("%w: payout already in flight", ErrReentrancy)
	}
	defer s.e.settling.Store(false)

	var out Receipt
	err := s.e.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		if err := requireValidator(ctx, tx, caller); err != nil {
			return err
		}
		ok, err := eligibleClaimant(ctx, tx, owner)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: claimant %q is not eligible", ErrUnauthorized, owner)
		}
		c, err := tx.Claim(ctx, key)
		if err != nil {
			return err
		}
		if !c.Verified {
			return fmt.Errorf("%w: %s", ErrNotVerified, key)
		}
		if c.State == StatePaid {
			return fmt.Errorf("%w: %s", ErrAlreadyPaid, key)
		}
		p, err := tx.Parameters(ctx)
		if err != nil {
			return err
		}
		if p.Paused {
			return ErrPaused
		}

		fee, net, err := SplitFee(c.PayoutAmount, p.FeePercentage)
		if err != nil {
			return err
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		if net.Cmp(balance) > 0 {
			return fmt.Errorf("%w: transfer %s exceeds balance %s", ErrInsufficientBalance, net, balance)
		}
		after, err := balance.Sub(net)
		if err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, after); err != nil {
			return err
		}
		now := s.e.clock()
		c.State = StatePaid
		c.PaidAt = &now
		c.PaidAmount = net
		c.FeeCharged = fee
		if err := tx.SaveClaim(ctx, c); err != nil {
			return err
		}

		ref, err := s.e.transferer.Transfer(withSettlement(ctx), Transfer{Owner: owner, ClaimID: claimID, Gross: c.PayoutAmount, Fee: fee, Net: net})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		c.TransferRef = ref
		if err := tx.SaveClaim(ctx, c); err != nil {
			return err
		}
		ev, err := appendEvent(ctx, tx, now, eventDraft{
			kind:   EventPayout,
			actor:  caller,
			claim:  &key,
			amount: &net,
			payload: PayoutPayload{
				Gross:        c.PayoutAmount,
				Fee:          fee,
				Net:          net,
				BalanceAfter: after,
				TransferRef:  ref,
			},
		})
		if err != nil {
			return err
		}
		out = Receipt{Claim: c, Gross: c.PayoutAmount, Fee: fee, Net: net, BalanceAfter: after, TransferRef: ref, EventSeq: ev.Seq}
		return nil
	})
	if err != nil {
		s.e.log.Warn("payout rejected", "claim", key.String(), "caller", caller, "err", err)
		return Receipt{}, err
	}
	s.e.log.Info("payout executed", "claim", key.String(), "validator", caller, "net", out.Net.String(), "fee", out.Fee.String(), "balance_after", out.BalanceAfter.String(), "transfer_ref", out.TransferRef)
	return out, nil
}
