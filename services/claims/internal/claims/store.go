package claims

import (
	"context"
	"time"
)

// Store runs units of work against persisted engine state. Update commits
// everything fn wrote or nothing at all; writers are serialized.
type Store interface {
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the state visible inside one unit of work.
type Tx interface {
	// Parameters returns ErrNotInitialized before genesis.
	Parameters(ctx context.Context) (ParameterSet, error)
	SaveParameters(ctx context.Context, p ParameterSet) error

	Balance(ctx context.Context) (Amount, error)
	SaveBalance(ctx context.Context, balance Amount) error

	// Claim returns ErrNotFound when the key is absent.
	Claim(ctx context.Context, key ClaimKey) (Claim, error)
	// ClaimsByOwner returns claims in submission order.
	ClaimsByOwner(ctx context.Context, owner Identity) ([]Claim, error)
	// OutstandingClaims returns verified claims that are not paid yet.
	OutstandingClaims(ctx context.Context) ([]Claim, error)
	// InsertClaim returns ErrDuplicateClaim when the key exists.
	InsertClaim(ctx context.Context, c Claim) error
	SaveClaim(ctx context.Context, c Claim) error

	IsMember(ctx context.Context, roster Roster, id Identity) (bool, error)
	Members(ctx context.Context, roster Roster) ([]Identity, error)
	AddMember(ctx context.Context, roster Roster, id Identity) (bool, error)
	RemoveMember(ctx context.Context, roster Roster, id Identity) (bool, error)

	// LastEvent returns nil when the log is empty.
	LastEvent(ctx context.Context) (*Event, error)
	AppendEvent(ctx context.Context, ev Event) error
	Events(ctx context.Context, filter EventFilter) ([]Event, error)
}

// EventFilter narrows an audit query. Zero fields match everything.
type EventFilter struct {
	Kinds    []EventKind
	Actor    Identity
	Owner    Identity
	ClaimID  string
	AfterSeq uint64
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f EventFilter) Match(ev Event) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Actor != "" && f.Actor != ev.Actor {
		return false
	}
	if f.Owner != "" && f.Owner != ev.Owner {
		return false
	}
	if f.ClaimID != "" && f.ClaimID != ev.ClaimID {
		return false
	}
	if ev.Seq <= f.AfterSeq {
		return false
	}
	if !f.Since.IsZero() && ev.At.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !ev.At.Before(f.Until) {
		return false
	}
	return true
}

type settlementKey struct{}

// withSettlement marks ctx as running inside a payout's transfer step.
func withSettlement(ctx context.Context) context.Context {
	return context.WithValue(ctx, settlementKey{}, true)
}

// InSettlement reports whether ctx was handed to a Transferer by an in-flight payout.
func InSettlement(ctx context.Context) bool {
	v, _ := ctx.Value(settlementKey{}).(bool)
	return v
}
