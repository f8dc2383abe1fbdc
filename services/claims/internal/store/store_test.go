package store

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/accordsai/claimlane/pkg/authn"
	"github.com/accordsai/claimlane/pkg/db"
	"github.com/accordsai/claimlane/services/claims/internal/attestation"
	"github.com/accordsai/claimlane/services/claims/internal/claims"
	"github.com/accordsai/claimlane/services/claims/internal/idempotency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueryWithoutFilter(t *testing.T) {
	sql, args := eventQuery(claims.EventFilter{})
	require.True(t, strings.HasSuffix(sql, "FROM audit_events ORDER BY seq"), sql)
	require.Empty(t, args)
}

func TestEventQueryBindsEveryFilter(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args := eventQuery(claims.EventFilter{
		Kinds:    []claims.EventKind{claims.EventPayout, claims.EventPayoutVerified},
		Actor:    "val-1",
		Owner:    "alice",
		ClaimID:  "c-1",
		AfterSeq: 7,
		Since:    since,
		Until:    since.Add(time.Hour),
		Limit:    50,
	})
	require.Contains(t, sql, "kind = ANY($1) AND actor_id=$2 AND owner_id=$3 AND claim_id=$4 AND seq>$5 AND occurred_at>=$6 AND occurred_at<$7")
	require.True(t, strings.HasSuffix(sql, "ORDER BY seq LIMIT $8"), sql)
	require.Len(t, args, 8)
	require.Equal(t, []string{"Payout", "PayoutVerified"}, args[0])
	require.Equal(t, int64(7), args[4])
	require.Equal(t, 50, args[7])
}

func liveStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CLAIMLANE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set CLAIMLANE_TEST_DATABASE_URL to run live postgres tests")
	}
	ctx := context.Background()
	require.NoError(t, Migrate(dsn))
	pool, err := db.Connect(ctx, db.Options{URL: dsn, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `TRUNCATE claim_parameters, ledger_accounts, claims, roster_members, audit_events,
api_credentials, idempotency_records, attestation_receipts`)
	require.NoError(t, err)
	return New(pool)
}

func bootstrap(t *testing.T, e *claims.Engine) {
	t.Helper()
	created, err := e.Bootstrap(context.Background(), claims.Genesis{
		Owner:                "gov",
		LiquidationThreshold: 80,
		FeePercentage:        5,
		QuorumSize:           1,
		InitialBalance:       claims.MustParseAmount("1000"),
		Whitelist:            []claims.Identity{"alice"},
		Validators:           []claims.Identity{"val-1"},
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestPostgresSettlementLifecycle(t *testing.T) {
	ctx := context.Background()
	st := liveStore(t)
	e := claims.New(st)
	bootstrap(t, e)

	_, err := e.Registry.SubmitClaim(ctx, "alice", claims.SubmitRequest{
		Owner: "alice", ClaimID: "c-1", Principal: claims.NewAmount(1000), Leverage: 90, InsuranceRate: 50,
	})
	require.NoError(t, err)
	_, err = e.Registry.SubmitClaim(ctx, "alice", claims.SubmitRequest{
		Owner: "alice", ClaimID: "c-1", Principal: claims.NewAmount(1000), Leverage: 90, InsuranceRate: 50,
	})
	require.ErrorIs(t, err, claims.ErrDuplicateClaim)

	_, err = e.Verification.Verify(ctx, "val-1", claims.VerifyRequest{Owner: "alice", ClaimID: "c-1", InsuranceRate: 50, Verified: true})
	require.NoError(t, err)
	rcpt, err := e.Settlement.ExecutePayout(ctx, "val-1", "alice", "c-1")
	require.NoError(t, err)
	require.Equal(t, "24", rcpt.Net.String())
	require.Equal(t, "976", rcpt.BalanceAfter.String())

	_, err = e.Settlement.ExecutePayout(ctx, "val-1", "alice", "c-1")
	require.ErrorIs(t, err, claims.ErrAlreadyPaid)

	c, err := e.Registry.GetClaim(ctx, "alice", "c-1")
	require.NoError(t, err)
	require.Equal(t, claims.StatePaid, c.State)
	require.Equal(t, "1", c.FeeCharged.String())
	require.NotEmpty(t, c.TransferRef)

	report, err := e.Audit.VerifyChain(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Events)

	snap, err := e.Audit.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "976", snap.Balance.String())
	require.Equal(t, claims.StatePaid, snap.Claims[c.Key()].State)
}

func TestPostgresTransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	st := liveStore(t)
	fail := claims.TransfererFunc(func(ctx context.Context, tr claims.Transfer) (string, error) {
		return "", context.DeadlineExceeded
	})
	e := claims.New(st, claims.WithTransferer(fail))
	bootstrap(t, e)
	_, err := e.Registry.SubmitClaim(ctx, "alice", claims.SubmitRequest{
		Owner: "alice", ClaimID: "c-1", Principal: claims.NewAmount(1000), Leverage: 90, InsuranceRate: 50,
	})
	require.NoError(t, err)
	_, err = e.Verification.Verify(ctx, "val-1", claims.VerifyRequest{Owner: "alice", ClaimID: "c-1", InsuranceRate: 100, Verified: true})
	require.NoError(t, err)

	_, err = e.Settlement.ExecutePayout(ctx, "val-1", "alice", "c-1")
	require.ErrorIs(t, err, claims.ErrTransferFailed)

	bal, err := e.Ledger.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000", bal.String())
	c, err := e.Registry.GetClaim(ctx, "alice", "c-1")
	require.NoError(t, err)
	require.Equal(t, claims.StateVerified, c.State)
}

func TestPostgresConcurrentSubmitsKeepChainLinear(t *testing.T) {
	ctx := context.Background()
	st := liveStore(t)
	e := claims.New(st)
	bootstrap(t, e)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Registry.SubmitClaim(ctx, "alice", claims.SubmitRequest{
				Owner: "alice", ClaimID: "c-" + string(rune('a'+i)), Principal: claims.NewAmount(100), Leverage: 90, InsuranceRate: 10,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := e.Audit.VerifyChain(ctx)
	require.NoError(t, err)
	require.Equal(t, 9, report.Events)
	list, err := e.Registry.GetClaims(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 8)
}

func TestPostgresSideTables(t *testing.T) {
	ctx := context.Background()
	st := liveStore(t)

	hash := authn.HashToken("tok-1")
	_, err := st.LookupTokenHash(ctx, hash)
	require.ErrorIs(t, err, authn.ErrUnauthorized)
	require.NoError(t, st.IssueCredential(ctx, "alice", hash))
	id, err := st.LookupTokenHash(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, "alice", id)
	revoked, err := st.RevokeCredential(ctx, hash)
	require.NoError(t, err)
	require.True(t, revoked)

	actor := idempotency.ActorContext{Identity: "alice", IdempotencyKey: "k1"}
	require.NoError(t, idempotency.Save(ctx, st, actor, "POST /claims/v1/claims", 201, map[string]string{"claim_id": "c-1"}))
	status, body, found, err := idempotency.Replay(ctx, st, actor, "POST /claims/v1/claims")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 201, status)
	require.JSONEq(t, `{"claim_id":"c-1"}`, string(body))

	now := time.Now().UTC().Truncate(time.Second)
	r := attestation.Receipt{AttestationID: "att-1", Owner: "alice", ClaimID: "c-1", InsuranceRate: 50, Verified: true,
		IssuedAt: now, ReceivedAt: now, BodySHA256: "00", Status: attestation.StatusPending}
	inserted, err := st.ReserveReceipt(ctx, r)
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = st.ReserveReceipt(ctx, r)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, st.CompleteReceipt(ctx, "att-1", claims.NewAmount(25)))
	got, err := st.GetReceipt(ctx, "att-1")
	require.NoError(t, err)
	require.Equal(t, attestation.StatusApplied, got.Status)
	require.Equal(t, "25", got.PayoutAmount.String())
	require.NoError(t, st.ReleaseReceipt(ctx, "att-1"))
	_, err = st.GetReceipt(ctx, "att-1")
	require.NoError(t, err, "applied receipts survive release")
}
