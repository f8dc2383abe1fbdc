package claims

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReportFoldsPeriod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := New(NewMemoryStore(), WithClock(func() time.Time { return now }))
	_, err := e.Bootstrap(ctx, testGenesis())
	require.NoError(t, err)
	_, err = e.Ledger.AddFunds(ctx, gov, NewAmount(500))
	require.NoError(t, err)

	now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	submit(t, e, alice, "c-1", 1000, 90, 50)
	verify(t, e, alice, "c-1", 50)
	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "c-1")
	require.NoError(t, err)
	submit(t, e, bob, "c-2", 2000, 90, 100)
	_, err = e.Verification.Verify(ctx, validator, VerifyRequest{Owner: bob, ClaimID: "c-2", InsuranceRate: 100, Verified: false})
	require.NoError(t, err)
	_, err = e.Params.UpdateFee(ctx, gov, 4)
	require.NoError(t, err)

	now = time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	_, err = e.Ledger.AddFunds(ctx, gov, NewAmount(10))
	require.NoError(t, err)

	rep, err := e.Audit.Report(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 6, rep.Events)
	require.Equal(t, "1500", rep.OpeningBalance.String())
	require.Equal(t, "1476", rep.ClosingBalance.String())
	require.Equal(t, 2, rep.ClaimsSubmitted)
	require.Equal(t, "3000", rep.PrincipalSubmitted.String())
	require.Equal(t, "250", rep.EstimatedSubmitted.String())
	require.Equal(t, 2, rep.Verifications)
	require.Equal(t, 1, rep.VerifiedApproved)
	require.Equal(t, 1, rep.VerifiedRejected)
	require.Equal(t, 1, rep.Payouts)
	require.Equal(t, "25", rep.PaidGross.String())
	require.Equal(t, "1", rep.FeesWithheld.String())
	require.Equal(t, "24", rep.PaidNet.String())
	require.Zero(t, rep.Deposits)
	require.Equal(t, 1, rep.GovernanceChanges)
	require.Len(t, rep.Daily, 1)
	require.Equal(t, "2026-03-02", rep.Daily[0].Date)
	require.Equal(t, 2, rep.Daily[0].Submitted)
	require.Equal(t, 1, rep.Daily[0].Paid)
	require.Equal(t, "24", rep.Daily[0].PaidNet.String())

	now = now.Add(time.Hour)
	all, err := e.Audit.Report(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.EqualValues(t, 1, all.FirstSeq)
	require.Equal(t, "0", all.OpeningBalance.String())
	require.Equal(t, "1486", all.ClosingBalance.String())
	require.Equal(t, 2, all.Deposits)
	require.Equal(t, "510", all.DepositedAmount.String())
	require.Len(t, all.Daily, 3)

	empty, err := e.Audit.Report(ctx, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, empty.Events)
	require.Equal(t, "1486", empty.OpeningBalance.String())
	require.Equal(t, "1486", empty.ClosingBalance.String())

	_, err = e.Audit.Report(ctx, now, now.Add(-time.Hour))
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestReportPeriod(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	monday := time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)

	for _, tc := range []struct {
		name         string
		now          time.Time
		since, until time.Time
	}{
		{"daily", monday, day(2026, 10, 18), day(2026, 10, 19)},
		{"weekly", monday, day(2026, 10, 12), day(2026, 10, 19)},
		{"weekly", monday.AddDate(0, 0, -1), day(2026, 10, 5), day(2026, 10, 12)},
		{"monthly", monday, day(2026, 9, 1), day(2026, 10, 1)},
		{"quarterly", monday, day(2026, 7, 1), day(2026, 10, 1)},
		{"quarterly", day(2026, 2, 14), day(2025, 10, 1), day(2026, 1, 1)},
		{"Yearly", monday, day(2025, 1, 1), day(2026, 1, 1)},
	} {
		since, until, err := ReportPeriod(tc.name, tc.now)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.since, since, "%s since at %s", tc.name, tc.now)
		require.Equal(t, tc.until, until, "%s until at %s", tc.name, tc.now)
	}

	_, _, err := ReportPeriod("hourly", monday)
	require.ErrorIs(t, err, ErrInvalidParameter)
}
