package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/accordsai/claimlane/pkg/canonhash"
	"github.com/google/uuid"
)

type EventKind string

const (
	EventInitialized          EventKind = "Initialized"
	EventClaimSubmitted       EventKind = "ClaimSubmitted"
	EventPayoutVerified       EventKind = "PayoutVerified"
	EventPayout               EventKind = "Payout"
	EventFundsAdded           EventKind = "FundsAdded"
	EventThresholdUpdated     EventKind = "ThresholdUpdated"
	EventFeeUpdated           EventKind = "FeeUpdated"
	EventQuorumUpdated        EventKind = "QuorumUpdated"
	EventOwnershipTransferred EventKind = "OwnershipTransferred"
	EventPaused               EventKind = "Paused"
	EventUnpaused             EventKind = "Unpaused"
	EventWhitelistAdded       EventKind = "WhitelistAdded"
	EventWhitelistRemoved     EventKind = "WhitelistRemoved"
	EventBlacklistAdded       EventKind = "BlacklistAdded"
	EventBlacklistRemoved     EventKind = "BlacklistRemoved"
	EventValidatorAdded       EventKind = "ValidatorAdded"
	EventValidatorRemoved     EventKind = "ValidatorRemoved"
)

// Event is one entry of the append-only audit log. Hash covers every other
// field plus PrevHash, chaining each entry to its predecessor.
type Event struct {
	Seq      uint64          `json:"seq"`
	EventID  string          `json:"event_id"`
	Kind     EventKind       `json:"kind"`
	Actor    Identity        `json:"actor"`
	Owner    Identity        `json:"owner,omitempty"`
	ClaimID  string          `json:"claim_id,omitempty"`
	Amount   *Amount         `json:"amount,omitempty"`
	Payload  json.RawMessage `json:"payload"`
	At       time.Time       `json:"at"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
}

type InitializedPayload struct {
	Parameters     ParameterSet `json:"parameters"`
	InitialBalance Amount       `json:"initial_balance"`
	Whitelist      []Identity   `json:"whitelist"`
	Blacklist      []Identity   `json:"blacklist"`
	Validators     []Identity   `json:"validators"`
}

type ClaimSubmittedPayload struct {
	Principal       Amount `json:"principal"`
	Leverage        uint64 `json:"leverage"`
	InsuranceRate   uint64 `json:"insurance_rate"`
	Threshold       uint64 `json:"threshold"`
	EstimatedPayout Amount `json:"estimated_payout"`
}

type PayoutVerifiedPayload struct {
	InsuranceRate  uint64 `json:"insurance_rate"`
	Verified       bool   `json:"verified"`
	PreviousAmount Amount `json:"previous_amount"`
	PayoutAmount   Amount `json:"payout_amount"`
}

type PayoutPayload struct {
	Gross        Amount `json:"gross"`
	Fee          Amount `json:"fee"`
	Net          Amount `json:"net"`
	BalanceAfter Amount `json:"balance_after"`
	TransferRef  string `json:"transfer_ref"`
}

type FundsAddedPayload struct {
	Amount       Amount `json:"amount"`
	BalanceAfter Amount `json:"balance_after"`
}

type ParameterChangedPayload struct {
	Previous uint64 `json:"previous"`
	Current  uint64 `json:"current"`
}

type OwnershipTransferredPayload struct {
	Previous Identity `json:"previous"`
	Current  Identity `json:"current"`
}

type RosterChangedPayload struct {
	Roster   Roster   `json:"roster"`
	Identity Identity `json:"identity"`
}

type emptyPayload struct{}

func rosterEventKind(r Roster, added bool) EventKind {
	switch r {
	case RosterWhitelist:
		if added {
			return EventWhitelistAdded
		}
		return EventWhitelistRemoved
	case RosterBlacklist:
		if added {
			return EventBlacklistAdded
		}
		return EventBlacklistRemoved
	default:
		if added {
			return EventValidatorAdded
		}
		return EventValidatorRemoved
	}
}

type eventDraft struct {
	kind    EventKind
	actor   Identity
	claim   *ClaimKey
	amount  *Amount
	payload any
}

type hashInput struct {
	Seq      uint64          `json:"seq"`
	EventID  string          `json:"event_id"`
	Kind     EventKind       `json:"kind"`
	Actor    Identity        `json:"actor"`
	Owner    Identity        `json:"owner"`
	ClaimID  string          `json:"claim_id"`
	Amount   string          `json:"amount"`
	Payload  json.RawMessage `json:"payload"`
	At       string          `json:"at"`
	PrevHash string          `json:"prev_hash"`
}

// ComputeHash returns the chain hash for ev, ignoring ev.Hash.
func ComputeHash(ev Event) (string, error) {
	in := hashInput{
		Seq:      ev.Seq,
		EventID:  ev.EventID,
		Kind:     ev.Kind,
		Actor:    ev.Actor,
		Owner:    ev.Owner,
		ClaimID:  ev.ClaimID,
		Payload:  ev.Payload,
		At:       ev.At.UTC().Format(time.RFC3339Nano),
		PrevHash: ev.PrevHash,
	}
	if ev.Amount != nil {
		in.Amount = ev.Amount.String()
	}
	h, _, err := canonhash.SumObject(in)
	return h, err
}

func appendEvent(ctx context.Context, tx Tx, at time.Time, d eventDraft) (Event, error) {
	payload, err := json.Marshal(d.payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", d.kind, err)
	}
	last, err := tx.LastEvent(ctx)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		Seq:     1,
		EventID: "evt_" + uuid.NewString(),
		Kind:    d.kind,
		Actor:   d.actor,
		Amount:  d.amount,
		Payload: payload,
		At:      at,
	}
	if last != nil {
		ev.Seq = last.Seq + 1
		ev.PrevHash = last.Hash
	}
	if d.claim != nil {
		ev.Owner = d.claim.Owner
		ev.ClaimID = d.claim.ClaimID
	}
	if ev.Hash, err = ComputeHash(ev); err != nil {
		return Event{}, err
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// VerifyEvents checks sequence continuity and hash links of a full log.
func VerifyEvents(events []Event) error {
	prev := ""
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			return fmt.Errorf("%w: event %d has seq %d", ErrChainBroken, i+1, ev.Seq)
		}
		if ev.PrevHash != prev {
			return fmt.Errorf("%w: event %d does not link to its predecessor", ErrChainBroken, ev.Seq)
		}
		want, err := ComputeHash(ev)
		if err != nil {
			return err
		}
		if want != ev.Hash {
			return fmt.Errorf("%w: event %d hash mismatch", ErrChainBroken, ev.Seq)
		}
		prev = ev.Hash
	}
	return nil
}

// AuditLog is the read side of the audit stream.
type AuditLog struct{ e *Engine }

func (a *AuditLog) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	var out []Event
	err := a.e.store.View(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Events(ctx, filter)
		return err
	})
	return out, err
}

type ChainReport struct {
	Events int    `json:"events"`
	Head   string `json:"head"`
}

func (a *AuditLog) VerifyChain(ctx context.Context) (ChainReport, error) {
	events, err := a.Events(ctx, EventFilter{})
	if err != nil {
		return ChainReport{}, err
	}
	if err := VerifyEvents(events); err != nil {
		return ChainReport{Events: len(events)}, err
	}
	rep := ChainReport{Events: len(events)}
	if len(events) > 0 {
		rep.Head = events[len(events)-1].Hash
	}
	return rep, nil
}

// Snapshot rebuilds current state from the audit log.
func (a *AuditLog) Snapshot(ctx context.Context) (Snapshot, error) {
	events, err := a.Events(ctx, EventFilter{})
	if err != nil {
		return Snapshot{}, err
	}
	return Replay(events)
}
