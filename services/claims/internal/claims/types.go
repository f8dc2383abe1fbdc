package claims

import (
	"fmt"
	"strings"
	"time"
)

// Identity names an actor: claimant, validator, or the governance owner.
type Identity string

func (id Identity) Valid() bool { return strings.TrimSpace(string(id)) != "" }

type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateVerified  State = "VERIFIED"
	StatePaid      State = "PAID"
)

// Roster names one of the authorization membership sets.
type Roster string

const (
	RosterWhitelist  Roster = "whitelist"
	RosterBlacklist  Roster = "blacklist"
	RosterValidators Roster = "validators"
)

func ParseRoster(s string) (Roster, error) {
	switch Roster(strings.ToLower(strings.TrimSpace(s))) {
	case RosterWhitelist:
		return RosterWhitelist, nil
	case RosterBlacklist:
		return RosterBlacklist, nil
	case RosterValidators, "validator":
		return RosterValidators, nil
	}
	return "", fmt.Errorf("%w: unknown roster %q", ErrInvalidParameter, s)
}

type ClaimKey struct {
	Owner   Identity `json:"owner"`
	ClaimID string   `json:"claim_id"`
}

func (k ClaimKey) String() string { return string(k.Owner) + "/" + k.ClaimID }

type Claim struct {
	Owner           Identity   `json:"owner"`
	ClaimID         string     `json:"claim_id"`
	Principal       Amount     `json:"principal"`
	Leverage        uint64     `json:"leverage"`
	InsuranceRate   uint64     `json:"insurance_rate"`
	EstimatedPayout Amount     `json:"estimated_payout"`
	PayoutAmount    Amount     `json:"payout_amount"`
	Verified        bool       `json:"verified"`
	State           State      `json:"state"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	VerifiedBy      Identity   `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	PaidAmount      Amount     `json:"paid_amount"`
	FeeCharged      Amount     `json:"fee_charged"`
	TransferRef     string     `json:"transfer_ref,omitempty"`
}

func (c Claim) Key() ClaimKey { return ClaimKey{Owner: c.Owner, ClaimID: c.ClaimID} }

type ParameterSet struct {
	Owner                Identity `json:"owner"`
	LiquidationThreshold uint64   `json:"liquidation_threshold"`
	FeePercentage        uint64   `json:"fee_percentage"`
	QuorumSize           uint64   `json:"quorum_size"`
	Paused               bool     `json:"paused"`
}

const (
	MaxFeePercentage  = 5
	MaxInsuranceRate  = 100
	payoutScale       = 10000
	percentScale      = 100
	basisPointsScale  = 10000
	DefaultQuorumSize = 1
)

func ValidateThreshold(t uint64) error {
	if t == 0 || t >= 100 {
		return fmt.Errorf("%w: liquidation threshold must be in (0,100), got %d", ErrInvalidParameter, t)
	}
	return nil
}

func ValidateFee(f uint64) error {
	if f > MaxFeePercentage {
		return fmt.Errorf("%w: fee percentage must be at most %d, got %d", ErrInvalidParameter, MaxFeePercentage, f)
	}
	return nil
}

func ValidateQuorum(q uint64) error {
	if q < 1 {
		return fmt.Errorf("%w: quorum size must be at least 1", ErrInvalidParameter)
	}
	return nil
}

// Genesis seeds an empty store.
type Genesis struct {
	Owner                Identity   `json:"owner" yaml:"owner"`
	LiquidationThreshold uint64     `json:"liquidation_threshold" yaml:"liquidation_threshold"`
	FeePercentage        uint64     `json:"fee_percentage" yaml:"fee_percentage"`
	QuorumSize           uint64     `json:"quorum_size" yaml:"quorum_size"`
	InitialBalance       Amount     `json:"initial_balance" yaml:"-"`
	Whitelist            []Identity `json:"whitelist,omitempty" yaml:"whitelist"`
	Blacklist            []Identity `json:"blacklist,omitempty" yaml:"blacklist"`
	Validators           []Identity `json:"validators,omitempty" yaml:"validators"`
}

func (g Genesis) Validate() error {
	if !g.Owner.Valid() {
		return fmt.Errorf("%w: genesis owner is required", ErrInvalidParameter)
	}
	if err := ValidateThreshold(g.LiquidationThreshold); err != nil {
		return err
	}
	if err := ValidateFee(g.FeePercentage); err != nil {
		return err
	}
	return ValidateQuorum(g.QuorumSize)
}

func (g Genesis) Parameters() ParameterSet {
	return ParameterSet{
		Owner:                g.Owner,
		LiquidationThreshold: g.LiquidationThreshold,
		FeePercentage:        g.FeePercentage,
		QuorumSize:           g.QuorumSize,
	}
}

// EstimatePayout computes principal*rate*(leverage-threshold)/10000 with truncation.
func EstimatePayout(principal Amount, leverage, threshold, rate uint64) (Amount, error) {
	if leverage <= threshold {
		return Amount{}, fmt.Errorf("%w: leverage %d must exceed threshold %d", ErrInvalidParameter, leverage, threshold)
	}
	scaled, err := principal.MulDiv(rate, 1)
	if err != nil {
		return Amount{}, err
	}
	return scaled.MulDiv(leverage-threshold, payoutScale)
}

// SplitFee returns the fee withheld and the net transfer for a payout.
func SplitFee(payout Amount, feePercentage uint64) (fee, net Amount, err error) {
	fee, err = payout.MulDiv(feePercentage, percentScale)
	if err != nil {
		return Amount{}, Amount{}, err
	}
	net, err = payout.Sub(fee)
	if err != nil {
		return Amount{}, Amount{}, err
	}
	return fee, net, nil
}
