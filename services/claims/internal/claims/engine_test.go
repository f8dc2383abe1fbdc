package claims

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	gov       Identity = "gov"
	alice     Identity = "alice"
	bob       Identity = "bob"
	mallory   Identity = "mallory"
	validator Identity = "val-1"
)

func steppingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func testGenesis() Genesis {
	return Genesis{
		Owner:                gov,
		LiquidationThreshold: 80,
		FeePercentage:        5,
		QuorumSize:           1,
		InitialBalance:       NewAmount(1000),
		Whitelist:            []Identity{alice, bob},
		Validators:           []Identity{validator},
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(NewMemoryStore(), append([]Option{WithClock(steppingClock())}, opts...)...)
	created, err := e.Bootstrap(context.Background(), testGenesis())
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func submit(t *testing.T, e *Engine, owner Identity, id string, principal uint64, leverage, rate uint64) Claim {
	t.Helper()
	c, err := e.Registry.SubmitClaim(context.Background(), owner, SubmitRequest{
		Owner: owner, ClaimID: id, Principal: NewAmount(principal), Leverage: leverage, InsuranceRate: rate,
	})
	require.NoError(t, err)
	return c
}

func verify(t *testing.T, e *Engine, owner Identity, id string, rate uint64) Claim {
	t.Helper()
	c, err := e.Verification.Verify(context.Background(), validator, VerifyRequest{Owner: owner, ClaimID: id, InsuranceRate: rate, Verified: true})
	require.NoError(t, err)
	return c
}

func TestWorkedExample(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	c := submit(t, e, alice, "c-1", 1000, 90, 50)
	require.Equal(t, "50", c.EstimatedPayout.String())
	require.Equal(t, StateSubmitted, c.State)
	require.False(t, c.Verified)

	c = verify(t, e, alice, "c-1", 50)
	require.Equal(t, "25", c.PayoutAmount.String())
	require.Equal(t, StateVerified, c.State)

	rcpt, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.NoError(t, err)
	require.Equal(t, "1", rcpt.Fee.String())
	require.Equal(t, "24", rcpt.Net.String())
	require.Equal(t, "976", rcpt.BalanceAfter.String())
	require.NotEmpty(t, rcpt.TransferRef)

	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "976", bal.String())

	got, err := e.Registry.GetClaim(ctx, alice, "c-1")
	require.NoError(t, err)
	require.Equal(t, StatePaid, got.State)
	require.Equal(t, "24", got.PaidAmount.String())
	require.Equal(t, rcpt.TransferRef, got.TransferRef)

	events, err := e.Audit.Events(ctx, EventFilter{Kinds: []EventKind{EventPayout}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "24", events[0].Amount.String())
	require.Equal(t, validator, events[0].Actor)
}

func TestEstimatedPayoutTruncates(t *testing.T) {
	cases := []struct {
		principal, leverage, threshold, rate uint64
		want                                 string
	}{
		{1000, 90, 80, 50, "50"},
		{999, 81, 80, 33, "3"},
		{1, 99, 1, 100, "0"},
		{12345, 150, 80, 7, "604"},
	}
	for _, tc := range cases {
		got, err := EstimatePayout(NewAmount(tc.principal), tc.leverage, tc.threshold, tc.rate)
		require.NoError(t, err)
		require.Equal(t, tc.want, got.String(), "%+v", tc)
	}
}

func TestSubmitDuplicateKeepsFirstRecord(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	first := submit(t, e, alice, "dup", 1000, 90, 50)

	_, err := e.Registry.SubmitClaim(ctx, alice, SubmitRequest{Owner: alice, ClaimID: "dup", Principal: NewAmount(5), Leverage: 99, InsuranceRate: 10})
	require.ErrorIs(t, err, ErrDuplicateClaim)

	got, err := e.Registry.GetClaim(ctx, alice, "dup")
	require.NoError(t, err)
	require.Equal(t, first.Principal.String(), got.Principal.String())
	require.Equal(t, first.EstimatedPayout.String(), got.EstimatedPayout.String())

	// The same claim id under another owner is a different claim.
	submit(t, e, bob, "dup", 1000, 90, 50)

	claimed, err := e.Registry.IsClaimed(ctx, alice, "dup")
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = e.Registry.IsClaimed(ctx, alice, "other")
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestSubmitPreconditions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	_, err := e.Policy.AddToBlacklist(ctx, gov, bob)
	require.NoError(t, err)

	valid := SubmitRequest{Owner: alice, ClaimID: "c", Principal: NewAmount(1000), Leverage: 90, InsuranceRate: 50}
	cases := []struct {
		name   string
		caller Identity
		mutate func(*SubmitRequest)
		want   error
	}{
		{"caller is not owner", bob, func(r *SubmitRequest) {}, ErrUnauthorized},
		{"not whitelisted", mallory, func(r *SubmitRequest) { r.Owner = mallory }, ErrUnauthorized},
		{"blacklisted", bob, func(r *SubmitRequest) { r.Owner = bob }, ErrUnauthorized},
		{"zero principal", alice, func(r *SubmitRequest) { r.Principal = Amount{} }, ErrInvalidParameter},
		{"leverage at threshold", alice, func(r *SubmitRequest) { r.Leverage = 80 }, ErrInvalidParameter},
		{"zero rate", alice, func(r *SubmitRequest) { r.InsuranceRate = 0 }, ErrInvalidParameter},
		{"rate above 100", alice, func(r *SubmitRequest) { r.InsuranceRate = 101 }, ErrInvalidParameter},
		{"empty claim id", alice, func(r *SubmitRequest) { r.ClaimID = "  " }, ErrInvalidParameter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := e.Registry.SubmitClaim(ctx, tc.caller, req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	claims, err := e.Registry.GetClaims(ctx, alice)
	require.NoError(t, err)
	require.Empty(t, claims)
	events, err := e.Audit.Events(ctx, EventFilter{Kinds: []EventKind{EventClaimSubmitted}})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestBlacklistOverridesWhitelist(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	submit(t, e, alice, "c-1", 1000, 90, 50)
	verify(t, e, alice, "c-1", 50)

	_, err := e.Policy.AddToBlacklist(ctx, gov, alice)
	require.NoError(t, err)

	white, err := e.Policy.IsWhitelisted(ctx, alice)
	require.NoError(t, err)
	require.True(t, white)
	eligible, err := e.Policy.IsEligibleClaimant(ctx, alice)
	require.NoError(t, err)
	require.False(t, eligible)

	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = e.Policy.RemoveFromBlacklist(ctx, gov, alice)
	require.NoError(t, err)
	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.NoError(t, err)
}

func TestPayoutRequiresVerifiedFlag(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	submit(t, e, alice, "c-1", 1000, 90, 50)

	_, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.ErrorIs(t, err, ErrNotVerified)

	c, err := e.Verification.Verify(ctx, validator, VerifyRequest{Owner: alice, ClaimID: "c-1", InsuranceRate: 50, Verified: false})
	require.NoError(t, err)
	require.Equal(t, StateSubmitted, c.State)
	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.ErrorIs(t, err, ErrNotVerified)

	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = e.Settlement.ExecutePayout(ctx, alice, alice, "c-1")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyPreconditions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	submit(t, e, alice, "c-1", 1000, 90, 50)

	_, err := e.Verification.Verify(ctx, alice, VerifyRequest{Owner: alice, ClaimID: "c-1", InsuranceRate: 50, Verified: true})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.Verification.Verify(ctx, validator, VerifyRequest{Owner: alice, ClaimID: "nope", InsuranceRate: 50, Verified: true})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = e.Verification.Verify(ctx, validator, VerifyRequest{Owner: alice, ClaimID: "c-1", InsuranceRate: 101, Verified: true})
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestReverificationCompoundsOnCurrentAmount(t *testing.T) {
	e := newTestEngine(t)
	submit(t, e, alice, "c-1", 1000, 90, 50)
	require.Equal(t, "25", verify(t, e, alice, "c-1", 50).PayoutAmount.String())
	require.Equal(t, "20", verify(t, e, alice, "c-1", 80).PayoutAmount.String())
	c := verify(t, e, alice, "c-1", 100)
	require.Equal(t, "20", c.PayoutAmount.String())
	require.Equal(t, StateVerified, c.State)
}

func TestClaimPaidAtMostOnce(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	submit(t, e, alice, "c-1", 1000, 90, 50)
	verify(t, e, alice, "c-1", 50)

	_, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.NoError(t, err)
	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.ErrorIs(t, err, ErrAlreadyPaid)
	_, err = e.Verification.Verify(ctx, validator, VerifyRequest{Owner: alice, ClaimID: "c-1", InsuranceRate: 100, Verified: true})
	require.ErrorIs(t, err, ErrAlreadyPaid)

	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "976", bal.String())
}

func TestBalanceEqualsInitialMinusNetPayouts(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	ids := []string{"a", "b", "c", "d"}
	principals := []uint64{1000, 2000, 400, 7777}

	total := NewAmount(0)
	for i, id := range ids {
		submit(t, e, alice, id, principals[i], 95, 60)
		verify(t, e, alice, id, 90)
		rcpt, err := e.Settlement.ExecutePayout(ctx, validator, alice, id)
		require.NoError(t, err)
		total, err = total.Add(rcpt.Net)
		require.NoError(t, err)
	}
	want, err := NewAmount(1000).Sub(total)
	require.NoError(t, err)
	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, want.String(), bal.String())
}

func TestInsufficientBalanceLeavesClaimVerified(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	submit(t, e, alice, "big", 100000, 99, 100)
	verify(t, e, alice, "big", 100)

	_, err := e.Settlement.ExecutePayout(ctx, validator, alice, "big")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	c, err := e.Registry.GetClaim(ctx, alice, "big")
	require.NoError(t, err)
	require.Equal(t, StateVerified, c.State)
	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())

	_, err = e.Ledger.AddFunds(ctx, gov, NewAmount(100000))
	require.NoError(t, err)
	rcpt, err := e.Settlement.ExecutePayout(ctx, validator, alice, "big")
	require.NoError(t, err)
	require.Equal(t, "19000", rcpt.Gross.String())
	require.Equal(t, "18050", rcpt.Net.String())
}

func TestNestedPayoutFromTransferIsRejected(t *testing.T) {
	ctx := context.Background()
	var nested, nestedSubmit error
	var seenBalance Amount
	var e *Engine
	e = newTestEngine(t, WithTransferer(TransfererFunc(func(ctx context.Context, tr Transfer) (string, error) {
		_, nested = e.Settlement.ExecutePayout(ctx, validator, alice, "c-2")
		_, nestedSubmit = e.Registry.SubmitClaim(ctx, alice, SubmitRequest{Owner: alice, ClaimID: "c-3", Principal: NewAmount(1), Leverage: 90, InsuranceRate: 1})
		seenBalance, _ = e.Ledger.Balance(ctx)
		return "ref-1", nil
	})))
	for _, id := range []string{"c-1", "c-2"} {
		submit(t, e, alice, id, 1000, 90, 50)
		verify(t, e, alice, id, 50)
	}

	rcpt, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.NoError(t, err)
	require.Equal(t, "ref-1", rcpt.TransferRef)
	require.ErrorIs(t, nested, ErrReentrancy)
	require.ErrorIs(t, nestedSubmit, ErrReentrancy)
	require.Equal(t, "1000", seenBalance.String())

	c2, err := e.Registry.GetClaim(ctx, alice, "c-2")
	require.NoError(t, err)
	require.Equal(t, StateVerified, c2.State)
	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "976", bal.String())
	require.False(t, e.Settlement.InFlight())
}

func TestConcurrentPayoutFailsFast(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	e := newTestEngine(t, WithTransferer(TransfererFunc(func(ctx context.Context, tr Transfer) (string, error) {
		first.Do(func() { close(entered) })
		<-release
		return "ref", nil
	})))
	for _, id := range []string{"c-1", "c-2"} {
		submit(t, e, alice, id, 1000, 90, 50)
		verify(t, e, alice, id, 50)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
		done <- err
	}()
	<-entered
	require.True(t, e.Settlement.InFlight())

	_, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-2")
	require.ErrorIs(t, err, ErrReentrancy)

	close(release)
	require.NoError(t, <-done)

	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-2")
	require.NoError(t, err)
	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "952", bal.String())
}

func TestReadsProceedWhileTransferBlocks(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	e := newTestEngine(t, WithTransferer(TransfererFunc(func(ctx context.Context, tr Transfer) (string, error) {
		close(entered)
		<-release
		return "ref", nil
	})))
	submit(t, e, alice, "c-1", 1000, 90, 50)
	verify(t, e, alice, "c-1", 50)

	done := make(chan error, 1)
	go func() {
		_, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
		done <- err
	}()
	<-entered

	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())
	c, err := e.Registry.GetClaim(ctx, alice, "c-1")
	require.NoError(t, err)
	require.Equal(t, StateVerified, c.State)

	writeDone := make(chan error, 1)
	go func() {
		_, err := e.Ledger.AddFunds(ctx, gov, NewAmount(1))
		writeDone <- err
	}()
	select {
	case err := <-writeDone:
		t.Fatalf("write completed while a payout held the store: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-writeDone)
	bal, err = e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "977", bal.String())
}

func TestTransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	fail := true
	e := newTestEngine(t, WithTransferer(TransfererFunc(func(ctx context.Context, tr Transfer) (string, error) {
		if fail {
			return "", errors.New("bank offline")
		}
		return "ref-ok", nil
	})))
	submit(t, e, alice, "c-1", 1000, 90, 50)
	verify(t, e, alice, "c-1", 50)
	before, err := e.Audit.Events(ctx, EventFilter{})
	require.NoError(t, err)

	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.ErrorIs(t, err, ErrTransferFailed)

	c, err := e.Registry.GetClaim(ctx, alice, "c-1")
	require.NoError(t, err)
	require.Equal(t, StateVerified, c.State)
	require.Nil(t, c.PaidAt)
	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())
	after, err := e.Audit.Events(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, after, len(before))

	fail = false
	rcpt, err := e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.NoError(t, err)
	require.Equal(t, "ref-ok", rcpt.TransferRef)
}

func TestPauseHaltsMutationsButNotReads(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	submit(t, e, alice, "c-1", 1000, 90, 50)
	verify(t, e, alice, "c-1", 50)

	_, err := e.Params.Pause(ctx, alice)
	require.ErrorIs(t, err, ErrUnauthorized)
	p, err := e.Params.Pause(ctx, gov)
	require.NoError(t, err)
	require.True(t, p.Paused)
	_, err = e.Params.Pause(ctx, gov)
	require.ErrorIs(t, err, ErrPaused)

	_, err = e.Registry.SubmitClaim(ctx, alice, SubmitRequest{Owner: alice, ClaimID: "c-2", Principal: NewAmount(1000), Leverage: 90, InsuranceRate: 50})
	require.ErrorIs(t, err, ErrPaused)
	_, err = e.Verification.Verify(ctx, validator, VerifyRequest{Owner: alice, ClaimID: "c-1", InsuranceRate: 50, Verified: true})
	require.ErrorIs(t, err, ErrPaused)
	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.ErrorIs(t, err, ErrPaused)

	claims, err := e.Registry.GetClaims(ctx, alice)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	_, err = e.Ledger.Balance(ctx)
	require.NoError(t, err)
	cur, err := e.Params.Current(ctx)
	require.NoError(t, err)
	require.True(t, cur.Paused)

	_, err = e.Params.Unpause(ctx, gov)
	require.NoError(t, err)
	_, err = e.Params.Unpause(ctx, gov)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.NoError(t, err)
}

func TestGovernanceBounds(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	for _, bad := range []uint64{0, 100, 150} {
		_, err := e.Params.UpdateThreshold(ctx, gov, bad)
		require.ErrorIs(t, err, ErrInvalidParameter, "threshold %d", bad)
	}
	p, err := e.Params.UpdateThreshold(ctx, gov, 99)
	require.NoError(t, err)
	require.EqualValues(t, 99, p.LiquidationThreshold)

	_, err = e.Params.UpdateFee(ctx, gov, 6)
	require.ErrorIs(t, err, ErrInvalidParameter)
	p, err = e.Params.UpdateFee(ctx, gov, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, p.FeePercentage)

	_, err = e.Params.UpdateQuorum(ctx, gov, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)
	p, err = e.Params.UpdateQuorum(ctx, gov, 3)
	require.NoError(t, err)
	q, err := e.Policy.QuorumSize(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, q)

	_, err = e.Params.UpdateFee(ctx, alice, 1)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = e.Params.TransferOwnership(ctx, gov, "")
	require.ErrorIs(t, err, ErrInvalidParameter)
	p, err = e.Params.TransferOwnership(ctx, gov, "gov-2")
	require.NoError(t, err)
	require.Equal(t, Identity("gov-2"), p.Owner)
	_, err = e.Params.UpdateFee(ctx, gov, 1)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.Params.UpdateFee(ctx, "gov-2", 1)
	require.NoError(t, err)

	kinds := []EventKind{EventThresholdUpdated, EventFeeUpdated, EventQuorumUpdated, EventOwnershipTransferred}
	events, err := e.Audit.Events(ctx, EventFilter{Kinds: kinds})
	require.NoError(t, err)
	require.Len(t, events, 5)
}

func TestRosterMutations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Policy.AddValidator(ctx, alice, "val-2")
	require.ErrorIs(t, err, ErrUnauthorized)

	added, err := e.Policy.AddValidator(ctx, gov, "val-2")
	require.NoError(t, err)
	require.True(t, added)
	added, err = e.Policy.AddValidator(ctx, gov, "val-2")
	require.NoError(t, err)
	require.False(t, added)

	ok, err := e.Policy.IsAuthorizedValidator(ctx, "val-2")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := e.Policy.RemoveFromWhitelist(ctx, gov, bob)
	require.NoError(t, err)
	require.True(t, removed)
	members, err := e.Policy.Members(ctx, RosterWhitelist)
	require.NoError(t, err)
	require.Equal(t, []Identity{alice}, members)

	_, err = e.Policy.Add(ctx, gov, Roster("greylist"), alice)
	require.ErrorIs(t, err, ErrInvalidParameter)

	events, err := e.Audit.Events(ctx, EventFilter{Kinds: []EventKind{EventValidatorAdded, EventWhitelistRemoved}})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestBootstrapOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := New(store)

	_, err := e.Ledger.Balance(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = e.Bootstrap(ctx, Genesis{Owner: gov, LiquidationThreshold: 0, QuorumSize: 1})
	require.ErrorIs(t, err, ErrInvalidParameter)

	created, err := e.Bootstrap(ctx, testGenesis())
	require.NoError(t, err)
	require.True(t, created)

	g := testGenesis()
	g.InitialBalance = NewAmount(5)
	created, err = New(store).Bootstrap(ctx, g)
	require.NoError(t, err)
	require.False(t, created)
	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())
}

func TestIndependentEngines(t *testing.T) {
	ctx := context.Background()
	a := newTestEngine(t)
	b := newTestEngine(t)
	submit(t, a, alice, "c-1", 1000, 90, 50)

	claimed, err := b.Registry.IsClaimed(ctx, alice, "c-1")
	require.NoError(t, err)
	require.False(t, claimed)
}
