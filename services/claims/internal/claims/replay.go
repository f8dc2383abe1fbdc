package claims

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is engine state rebuilt purely from audit events.
type Snapshot struct {
	Parameters ParameterSet          `json:"parameters"`
	Balance    Amount                `json:"balance"`
	Claims     map[ClaimKey]Claim    `json:"-"`
	Order      []ClaimKey            `json:"-"`
	Rosters    map[Roster][]Identity `json:"rosters"`
	Head       string                `json:"head"`
	Events     int                   `json:"events"`
}

func (s Snapshot) ClaimsByOwner(owner Identity) []Claim {
	out := []Claim{}
	for _, k := range s.Order {
		if k.Owner == owner {
			out = append(out, s.Claims[k])
		}
	}
	return out
}

// Replay verifies the chain and folds events into a Snapshot.
func Replay(events []Event) (Snapshot, error) {
	if err := VerifyEvents(events); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Claims: map[ClaimKey]Claim{}}
	rosters := map[Roster]map[Identity]struct{}{
		RosterWhitelist:  {},
		RosterBlacklist:  {},
		RosterValidators: {},
	}
	for i, ev := range events {
		if i == 0 && ev.Kind != EventInitialized {
			return Snapshot{}, fmt.Errorf("%w: log must start with %s", ErrChainBroken, EventInitialized)
		}
		if err := applyEvent(&snap, rosters, ev); err != nil {
			return Snapshot{}, fmt.Errorf("replay event %d (%s): %w", ev.Seq, ev.Kind, err)
		}
		snap.Head = ev.Hash
	}
	snap.Events = len(events)
	snap.Rosters = make(map[Roster][]Identity, len(rosters))
	for r, set := range rosters {
		ids := make([]Identity, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		snap.Rosters[r] = ids
	}
	return snap, nil
}

func applyEvent(snap *Snapshot, rosters map[Roster]map[Identity]struct{}, ev Event) error {
	key := ClaimKey{Owner: ev.Owner, ClaimID: ev.ClaimID}
	switch ev.Kind {
	case EventInitialized:
		var p InitializedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		snap.Parameters = p.Parameters
		snap.Balance = p.InitialBalance
		for r, ids := range map[Roster][]Identity{RosterWhitelist: p.Whitelist, RosterBlacklist: p.Blacklist, RosterValidators: p.Validators} {
			for _, id := range ids {
				rosters[r][id] = struct{}{}
			}
		}
	case EventClaimSubmitted:
		var p ClaimSubmittedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		if _, ok := snap.Claims[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateClaim, key)
		}
		snap.Claims[key] = Claim{
			Owner:           ev.Owner,
			ClaimID:         ev.ClaimID,
			Principal:       p.Principal,
			Leverage:        p.Leverage,
			InsuranceRate:   p.InsuranceRate,
			EstimatedPayout: p.EstimatedPayout,
			PayoutAmount:    p.EstimatedPayout,
			State:           StateSubmitted,
			SubmittedAt:     ev.At,
		}
		snap.Order = append(snap.Order, key)
	case EventPayoutVerified:
		var p PayoutVerifiedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		c, ok := snap.Claims[key]
		if !ok {
			return fmt.Errorf("%w: claim %s", ErrNotFound, key)
		}
		at := ev.At
		c.PayoutAmount = p.PayoutAmount
		c.Verified = p.Verified
		c.VerifiedBy = ev.Actor
		c.VerifiedAt = &at
		if p.Verified {
			c.State = StateVerified
		}
		snap.Claims[key] = c
	case EventPayout:
		var p PayoutPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		c, ok := snap.Claims[key]
		if !ok {
			return fmt.Errorf("%w: claim %s", ErrNotFound, key)
		}
		at := ev.At
		c.State = StatePaid
		c.PaidAt = &at
		c.PaidAmount = p.Net
		c.FeeCharged = p.Fee
		c.TransferRef = p.TransferRef
		snap.Claims[key] = c
		snap.Balance = p.BalanceAfter
	case EventFundsAdded:
		var p FundsAddedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		snap.Balance = p.BalanceAfter
	case EventThresholdUpdated, EventFeeUpdated, EventQuorumUpdated:
		var p ParameterChangedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		switch ev.Kind {
		case EventThresholdUpdated:
			snap.Parameters.LiquidationThreshold = p.Current
		case EventFeeUpdated:
			snap.Parameters.FeePercentage = p.Current
		default:
			snap.Parameters.QuorumSize = p.Current
		}
	case EventOwnershipTransferred:
		var p OwnershipTransferredPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		snap.Parameters.Owner = p.Current
	case EventPaused:
		snap.Parameters.Paused = true
	case EventUnpaused:
		snap.Parameters.Paused = false
	case EventWhitelistAdded, EventWhitelistRemoved, EventBlacklistAdded, EventBlacklistRemoved, EventValidatorAdded, EventValidatorRemoved:
		var p RosterChangedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		set, ok := rosters[p.Roster]
		if !ok {
			return fmt.Errorf("%w: unknown roster %q", ErrInvalidParameter, p.Roster)
		}
		if ev.Kind == rosterEventKind(p.Roster, true) {
			set[p.Identity] = struct{}{}
		} else {
			delete(set, p.Identity)
		}
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}
