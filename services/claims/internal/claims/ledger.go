package claims

import (
	"context"
	"fmt"
	"math/big"
)

// LedgerAccount is the single shared balance payouts draw from.
type LedgerAccount struct{ e *Engine }

func (l *LedgerAccount) Balance(ctx context.Context) (Amount, error) {
	var out Amount
	err := l.e.view(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Parameters(ctx); err != nil {
			return err
		}
		var err error
		out, err = tx.Balance(ctx)
		return err
	})
	return out, err
}

// AddFunds credits the balance. Only the governance owner may fund.
func (l *LedgerAccount) AddFunds(ctx context.Context, caller Identity, amount Amount) (Amount, error) {
	var after Amount
	err := l.e.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := requireOwner(ctx, tx, caller); err != nil {
			return err
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: funding amount must be positive", ErrInvalidParameter)
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		if after, err = balance.Add(amount); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, after); err != nil {
			return err
		}
		_, err = appendEvent(ctx, tx, l.e.clock(), eventDraft{
			kind:    EventFundsAdded,
			actor:   caller,
			amount:  &amount,
			payload: FundsAddedPayload{Amount: amount, BalanceAfter: after},
		})
		return err
	})
	if err != nil {
		l.e.log.Warn("funding rejected", "caller", caller, "amount", amount.String(), "err", err)
		return Amount{}, err
	}
	l.e.log.Info("funds added", "caller", caller, "amount", amount.String(), "balance", after.String())
	return after, nil
}

type Availability struct {
	Requested Amount `json:"requested"`
	Balance   Amount `json:"balance"`
	Available bool   `json:"available"`
	Shortfall Amount `json:"shortfall"`
}

// CheckAvailability reports whether the balance could cover a transfer of amount.
func (l *LedgerAccount) CheckAvailability(ctx context.Context, amount Amount) (Availability, error) {
	balance, err := l.Balance(ctx)
	if err != nil {
		return Availability{}, err
	}
	out := Availability{Requested: amount, Balance: balance, Available: amount.Cmp(balance) <= 0}
	if !out.Available {
		out.Shortfall, _ = amount.Sub(balance)
	}
	return out, nil
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

const (
	riskHighBps   = 7000
	riskMediumBps = 5000
)

type Exposure struct {
	Balance           Amount    `json:"balance"`
	OutstandingClaims int       `json:"outstanding_claims"`
	OutstandingGross  Amount    `json:"outstanding_gross"`
	OutstandingNet    Amount    `json:"outstanding_net"`
	ExposureBps       uint64    `json:"exposure_bps"`
	RiskLevel         RiskLevel `json:"risk_level"`
	Recommendations   []string  `json:"recommendations"`
}

// Exposure sums the liability of verified unpaid claims against the balance.
func (l *LedgerAccount) Exposure(ctx context.Context) (Exposure, error) {
	var out Exposure
	err := l.e.view(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.Parameters(ctx)
		if err != nil {
			return err
		}
		if out.Balance, err = tx.Balance(ctx); err != nil {
			return err
		}
		pending, err := tx.OutstandingClaims(ctx)
		if err != nil {
			return err
		}
		for _, c := range pending {
			_, net, err := SplitFee(c.PayoutAmount, p.FeePercentage)
			if err != nil {
				return err
			}
			if out.OutstandingGross, err = out.OutstandingGross.Add(c.PayoutAmount); err != nil {
				return err
			}
			if out.OutstandingNet, err = out.OutstandingNet.Add(net); err != nil {
				return err
			}
		}
		out.OutstandingClaims = len(pending)
		return nil
	})
	if err != nil {
		return Exposure{}, err
	}
	out.ExposureBps, out.RiskLevel = classifyExposure(out.OutstandingNet, out.Balance)
	out.Recommendations = recommendations(out.RiskLevel)
	return out, nil
}

func classifyExposure(liability, balance Amount) (uint64, RiskLevel) {
	if liability.IsZero() {
		return 0, RiskLow
	}
	if balance.IsZero() {
		return 0, RiskHigh
	}
	ratio := new(big.Int).Mul(liability.v.ToBig(), big.NewInt(basisPointsScale))
	ratio.Quo(ratio, balance.v.ToBig())
	bps := ratio.Uint64()
	if !ratio.IsUint64() {
		bps = ^uint64(0)
	}
	switch {
	case bps >= riskHighBps:
		return bps, RiskHigh
	case bps >= riskMediumBps:
		return bps, RiskMedium
	default:
		return bps, RiskLow
	}
}

func recommendations(level RiskLevel) []string {
	switch level {
	case RiskHigh:
		return []string{
			"add funds before settling further claims",
			"review verified claims awaiting payout",
		}
	case RiskMedium:
		return []string{"monitor exposure closely"}
	}
	return []string{}
}
