package claimsclient

import (
	"encoding/json"
	"time"
)

// Amounts travel as base-10 strings so 256-bit values survive JSON.

type Parameters struct {
	Owner                string `json:"owner"`
	LiquidationThreshold uint64 `json:"liquidation_threshold"`
	FeePercentage        uint64 `json:"fee_percentage"`
	QuorumSize           uint64 `json:"quorum_size"`
	Paused               bool   `json:"paused"`
}

type SubmitClaimRequest struct {
	Owner         string `json:"owner,omitempty"`
	ClaimID       string `json:"claim_id"`
	Principal     string `json:"principal"`
	Leverage      uint64 `json:"leverage"`
	InsuranceRate uint64 `json:"insurance_rate"`
}

type Claim struct {
	Owner           string     `json:"owner"`
	ClaimID         string     `json:"claim_id"`
	Principal       string     `json:"principal"`
	Leverage        uint64     `json:"leverage"`
	InsuranceRate   uint64     `json:"insurance_rate"`
	EstimatedPayout string     `json:"estimated_payout"`
	PayoutAmount    string     `json:"payout_amount"`
	Verified        bool       `json:"verified"`
	State           string     `json:"state"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	VerifiedBy      string     `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	PaidAmount      string     `json:"paid_amount"`
	FeeCharged      string     `json:"fee_charged"`
	TransferRef     string     `json:"transfer_ref,omitempty"`
}

type Payout struct {
	Claim        Claim  `json:"claim"`
	Gross        string `json:"gross"`
	Fee          string `json:"fee"`
	Net          string `json:"net"`
	BalanceAfter string `json:"balance_after"`
	TransferRef  string `json:"transfer_ref"`
	EventSeq     uint64 `json:"event_seq"`
}

type Availability struct {
	Requested string `json:"requested"`
	Balance   string `json:"balance"`
	Available bool   `json:"available"`
	Shortfall string `json:"shortfall"`
}

type Exposure struct {
	Balance           string   `json:"balance"`
	OutstandingClaims int      `json:"outstanding_claims"`
	OutstandingGross  string   `json:"outstanding_gross"`
	OutstandingNet    string   `json:"outstanding_net"`
	ExposureBps       uint64   `json:"exposure_bps"`
	RiskLevel         string   `json:"risk_level"`
	Recommendations   []string `json:"recommendations"`
}

type Event struct {
	Seq      uint64          `json:"seq"`
	EventID  string          `json:"event_id"`
	Kind     string          `json:"kind"`
	Actor    string          `json:"actor"`
	Owner    string          `json:"owner,omitempty"`
	ClaimID  string          `json:"claim_id,omitempty"`
	Amount   *string         `json:"amount,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	At       time.Time       `json:"at"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
}

type ChainReport struct {
	Events int    `json:"events"`
	Head   string `json:"head"`
}

type Report struct {
	Since          time.Time `json:"since"`
	Until          time.Time `json:"until"`
	FirstSeq       uint64    `json:"first_seq,omitempty"`
	LastSeq        uint64    `json:"last_seq,omitempty"`
	Events         int       `json:"events"`
	OpeningBalance string    `json:"opening_balance"`
	ClosingBalance string    `json:"closing_balance"`

	ClaimsSubmitted    int    `json:"claims_submitted"`
	PrincipalSubmitted string `json:"principal_submitted"`
	EstimatedSubmitted string `json:"estimated_submitted"`
	Verifications      int    `json:"verifications"`
	VerifiedApproved   int    `json:"verified_approved"`
	VerifiedRejected   int    `json:"verified_rejected"`
	Payouts            int    `json:"payouts"`
	PaidGross          string `json:"paid_gross"`
	FeesWithheld       string `json:"fees_withheld"`
	PaidNet            string `json:"paid_net"`
	Deposits           int    `json:"deposits"`
	DepositedAmount    string `json:"deposited_amount"`
	GovernanceChanges  int    `json:"governance_changes"`
	RosterChanges      int    `json:"roster_changes"`

	Daily []DailyReport `json:"daily"`
}

type DailyReport struct {
	Date      string `json:"date"`
	Submitted int    `json:"submitted"`
	Verified  int    `json:"verified"`
	Paid      int    `json:"paid"`
	PaidNet   string `json:"paid_net"`
	Deposited string `json:"deposited"`
}
