package claims

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transfer describes the funds movement a settlement asks the Transferer to perform.
type Transfer struct {
	Owner   Identity `json:"owner"`
	ClaimID string   `json:"claim_id"`
	Gross   Amount   `json:"gross"`
	Fee     Amount   `json:"fee"`
	Net     Amount   `json:"net"`
}

// Transferer moves Net to the claimant and returns a reference for the audit log.
// It runs inside the settlement unit of work; an error rolls the payout back.
type Transferer interface {
	Transfer(ctx context.Context, t Transfer) (string, error)
}

type TransfererFunc func(ctx context.Context, t Transfer) (string, error)

func (f TransfererFunc) Transfer(ctx context.Context, t Transfer) (string, error) { return f(ctx, t) }

// BookEntry is a Transferer for deployments where the ledger is the system of record.
var BookEntry Transferer = TransfererFunc(func(ctx context.Context, t Transfer) (string, error) {
	return "trf_" + uuid.NewString(), nil
})

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithTransferer(t Transferer) Option {
	return func(e *Engine) { e.transferer = t }
}

// Engine owns one independent claims system over a Store.
type Engine struct {
	store      Store
	now        func() time.Time
	log        *slog.Logger
	transferer Transferer
	settling   atomic.Bool

	Params       *ParameterStore
	Policy       *AuthorizationPolicy
	Registry     *ClaimRegistry
	Verification *VerificationWorkflow
	Settlement   *SettlementEngine
	Ledger       *LedgerAccount
	Audit        *AuditLog
}

func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		now:        time.Now,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		transferer: BookEntry,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Params = &ParameterStore{e: e}
	e.Policy = &AuthorizationPolicy{e: e}
	e.Registry = &ClaimRegistry{e: e}
	e.Verification = &VerificationWorkflow{e: e}
	e.Settlement = &SettlementEngine{e: e}
	e.Ledger = &LedgerAccount{e: e}
	e.Audit = &AuditLog{e: e}
	return e
}

// Bootstrap writes genesis state into an empty store. It reports false and
// leaves the store untouched when the store is already initialized.
func (e *Engine) Bootstrap(ctx context.Context, g Genesis) (bool, error) {
	if err := g.Validate(); err != nil {
		return false, err
	}
	created := false
	err := e.update(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Parameters(ctx); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotInitialized) {
			return err
		}
		params := g.Parameters()
		if err := tx.SaveParameters(ctx, params); err != nil {
			return err
		}
		if err := tx.SaveBalance(ctx, g.InitialBalance); err != nil {
			return err
		}
		for r, ids := range map[Roster][]Identity{RosterWhitelist: g.Whitelist, RosterBlacklist: g.Blacklist, RosterValidators: g.Validators} {
			for _, id := range ids {
				if !id.Valid() {
					return fmt.Errorf("%w: empty identity in %s", ErrInvalidParameter, r)
				}
				if _, err := tx.AddMember(ctx, r, id); err != nil {
					return err
				}
			}
		}
		payload := InitializedPayload{Parameters: params, InitialBalance: g.InitialBalance}
		payload.Whitelist, _ = tx.Members(ctx, RosterWhitelist)
		payload.Blacklist, _ = tx.Members(ctx, RosterBlacklist)
		payload.Validators, _ = tx.Members(ctx, RosterValidators)
		balance := g.InitialBalance
		if _, err := appendEvent(ctx, tx, e.clock(), eventDraft{kind: EventInitialized, actor: g.Owner, amount: &balance, payload: payload}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		e.log.Info("engine initialized", "owner", g.Owner, "threshold", g.LiquidationThreshold, "fee", g.FeePercentage, "balance", g.InitialBalance.String())
	}
	return created, nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// update runs a mutation. Mutations issued from inside a transfer would
// re-enter the store while the payout holds it, so they are refused.
func (e *Engine) update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if InSettlement(ctx) {
		return fmt.Errorf("%w: mutation issued during a transfer", ErrReentrancy)
	}
	return e.store.Update(ctx, fn)
}

func (e *Engine) view(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return e.store.View(ctx, fn)
}

func eligibleClaimant(ctx context.Context, tx Tx, id Identity) (bool, error) {
	black, err := tx.IsMember(ctx, RosterBlacklist, id)
	if err != nil || black {
		return false, err
	}
	return tx.IsMember(ctx, RosterWhitelist, id)
}

func requireValidator(ctx context.Context, tx Tx, caller Identity) error {
	ok, err := tx.IsMember(ctx, RosterValidators, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q is not an authorized validator", ErrUnauthorized, caller)
	}
	return nil
}

func requireOwner(ctx context.Context, tx Tx, caller Identity) (ParameterSet, error) {
	p, err := tx.Parameters(ctx)
	if err != nil {
		return ParameterSet{}, err
	}
	if caller == "" || caller != p.Owner {
		return ParameterSet{}, fmt.Errorf("%w: %q does not hold the governance capability", ErrUnauthorized, caller)
	}
	return p, nil
}
