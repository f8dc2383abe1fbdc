package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Report summarizes the audit log over [Since, Until).
type Report struct {
	Since          time.Time `json:"since"`
	Until          time.Time `json:"until"`
	FirstSeq       uint64    `json:"first_seq,omitempty"`
	LastSeq        uint64    `json:"last_seq,omitempty"`
	Events         int       `json:"events"`
	OpeningBalance Amount    `json:"opening_balance"`
	ClosingBalance Amount    `json:"closing_balance"`

	ClaimsSubmitted    int    `json:"claims_submitted"`
	PrincipalSubmitted Amount `json:"principal_submitted"`
	EstimatedSubmitted Amount `json:"estimated_submitted"`
	Verifications      int    `json:"verifications"`
	VerifiedApproved   int    `json:"verified_approved"`
	VerifiedRejected   int    `json:"verified_rejected"`
	Payouts            int    `json:"payouts"`
	PaidGross          Amount `json:"paid_gross"`
	FeesWithheld       Amount `json:"fees_withheld"`
	PaidNet            Amount `json:"paid_net"`
	Deposits           int    `json:"deposits"`
	DepositedAmount    Amount `json:"deposited_amount"`
	GovernanceChanges  int    `json:"governance_changes"`
	RosterChanges      int    `json:"roster_changes"`

	Daily []DailyReport `json:"daily"`
}

// DailyReport is one UTC calendar day of a Report.
type DailyReport struct {
	Date      string `json:"date"`
	Submitted int    `json:"submitted"`
	Verified  int    `json:"verified"`
	Paid      int    `json:"paid"`
	PaidNet   Amount `json:"paid_net"`
	Deposited Amount `json:"deposited"`
}

// ReportPeriod resolves a named period to the last complete one before now,
// in UTC: daily is yesterday, weekly the previous Monday-to-Sunday week,
// monthly, quarterly and yearly the previous calendar month, quarter and year.
func ReportPeriod(name string, now time.Time) (since, until time.Time, err error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "daily":
		return today.AddDate(0, 0, -1), today, nil
	case "weekly":
		monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		return monday.AddDate(0, 0, -7), monday, nil
	case "monthly":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -1, 0), first, nil
	case "quarterly":
		q := time.Date(now.Year(), now.Month()-(now.Month()-1)%3, 1, 0, 0, 0, 0, time.UTC)
		return q.AddDate(0, -3, 0), q, nil
	case "yearly":
		jan := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return jan.AddDate(-1, 0, 0), jan, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown report period %q", ErrInvalidParameter, name)
}

// Report folds the audit log into period totals. A zero since starts at
// genesis and a zero until ends now. Balances are the ledger balance at the
// period edges, so events before since are read too.
func (a *AuditLog) Report(ctx context.Context, since, until time.Time) (Report, error) {
	if until.IsZero() {
		until = a.e.clock()
	}
	since, until = since.UTC(), until.UTC()
	if !since.IsZero() && !since.Before(until) {
		return Report{}, fmt.Errorf("%w: report start must be before its end", ErrInvalidParameter)
	}
	events, err := a.Events(ctx, EventFilter{Until: until})
	if err != nil {
		return Report{}, err
	}

	rep := Report{Since: since, Until: until, Daily: []DailyReport{}}
	var balance Amount
	days := map[string]int{}
	day := func(at time.Time) *DailyReport {
		d := at.UTC().Format(time.DateOnly)
		i, ok := days[d]
		if !ok {
			i = len(rep.Daily)
			days[d] = i
			rep.Daily = append(rep.Daily, DailyReport{Date: d})
		}
		return &rep.Daily[i]
	}
	add := func(dst *Amount, v Amount) error {
		sum, err := dst.Add(v)
		if err != nil {
			return err
		}
		*dst = sum
		return nil
	}

	for _, ev := range events {
		inPeriod := !ev.At.Before(since)
		if inPeriod && rep.Events == 0 {
			rep.OpeningBalance = balance
			rep.FirstSeq = ev.Seq
		}
		switch ev.Kind {
		case EventInitialized:
			var p InitializedPayload
			if err := decodePayload(ev, &p); err != nil {
				return Report{}, err
			}
			balance = p.InitialBalance
		case EventFundsAdded:
			var p FundsAddedPayload
			if err := decodePayload(ev, &p); err != nil {
				return Report{}, err
			}
			balance = p.BalanceAfter
			if inPeriod {
				rep.Deposits++
				if err := add(&rep.DepositedAmount, p.Amount); err != nil {
					return Report{}, err
				}
				if err := add(&day(ev.At).Deposited, p.Amount); err != nil {
					return Report{}, err
				}
			}
		case EventPayout:
			var p PayoutPayload
			if err := decodePayload(ev, &p); err != nil {
				return Report{}, err
			}
			balance = p.BalanceAfter
			if inPeriod {
				rep.Payouts++
				for _, pair := range [][2]*Amount{{&rep.PaidGross, &p.Gross}, {&rep.FeesWithheld, &p.Fee}, {&rep.PaidNet, &p.Net}} {
					if err := add(pair[0], *pair[1]); err != nil {
						return Report{}, err
					}
				}
				d := day(ev.At)
				d.Paid++
				if err := add(&d.PaidNet, p.Net); err != nil {
					return Report{}, err
				}
			}
		case EventClaimSubmitted:
			if inPeriod {
				var p ClaimSubmittedPayload
				if err := decodePayload(ev, &p); err != nil {
					return Report{}, err
				}
				rep.ClaimsSubmitted++
				day(ev.At).Submitted++
				if err := add(&rep.PrincipalSubmitted, p.Principal); err != nil {
					return Report{}, err
				}
				if err := add(&rep.EstimatedSubmitted, p.EstimatedPayout); err != nil {
					return Report{}, err
				}
			}
		case EventPayoutVerified:
			if inPeriod {
				var p PayoutVerifiedPayload
				if err := decodePayload(ev, &p); err != nil {
					return Report{}, err
				}
				rep.Verifications++
				day(ev.At).Verified++
				if p.Verified {
					rep.VerifiedApproved++
				} else {
					rep.VerifiedRejected++
				}
			}
		case EventThresholdUpdated, EventFeeUpdated, EventQuorumUpdated, EventOwnershipTransferred, EventPaused, EventUnpaused:
			if inPeriod {
				rep.GovernanceChanges++
			}
		case EventWhitelistAdded, EventWhitelistRemoved, EventBlacklistAdded, EventBlacklistRemoved, EventValidatorAdded, EventValidatorRemoved:
			if inPeriod {
				rep.RosterChanges++
			}
		}
		if inPeriod {
			rep.Events++
			rep.LastSeq = ev.Seq
		}
	}
	if rep.Events == 0 {
		rep.OpeningBalance = balance
	}
	rep.ClosingBalance = balance
	return rep, nil
}

func decodePayload(ev Event, dst any) error {
	if err := json.Unmarshal(ev.Payload, dst); err != nil {
		return fmt.Errorf("%w: event %d payload: %v", ErrChainBroken, ev.Seq, err)
	}
	return nil
}
