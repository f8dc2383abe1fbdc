package claims

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExposureTracksVerifiedUnpaidClaims(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	exp, err := e.Ledger.Exposure(ctx)
	require.NoError(t, err)
	require.Equal(t, RiskLow, exp.RiskLevel)
	require.Zero(t, exp.OutstandingClaims)

	submit(t, e, alice, "pending", 1000, 90, 50)
	submit(t, e, alice, "m", 6400, 90, 100)
	verify(t, e, alice, "m", 100)

	exp, err = e.Ledger.Exposure(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, exp.OutstandingClaims)
	require.Equal(t, "640", exp.OutstandingGross.String())
	require.Equal(t, "608", exp.OutstandingNet.String())
	require.EqualValues(t, 6080, exp.ExposureBps)
	require.Equal(t, RiskMedium, exp.RiskLevel)
	require.NotEmpty(t, exp.Recommendations)

	submit(t, e, bob, "h", 1000, 90, 100)
	verify(t, e, bob, "h", 100)
	exp, err = e.Ledger.Exposure(ctx)
	require.NoError(t, err)
	require.Equal(t, "703", exp.OutstandingNet.String())
	require.Equal(t, RiskHigh, exp.RiskLevel)

	_, err = e.Settlement.ExecutePayout(ctx, validator, alice, "m")
	require.NoError(t, err)
	exp, err = e.Ledger.Exposure(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, exp.OutstandingClaims)
	require.Equal(t, "392", exp.Balance.String())
	require.EqualValues(t, 2423, exp.ExposureBps)
	require.Equal(t, RiskLow, exp.RiskLevel)
}

func TestClassifyExposureWithEmptyBalance(t *testing.T) {
	bps, level := classifyExposure(NewAmount(1), NewAmount(0))
	require.Zero(t, bps)
	require.Equal(t, RiskHigh, level)

	_, level = classifyExposure(NewAmount(0), NewAmount(0))
	require.Equal(t, RiskLow, level)
}

func TestCheckAvailability(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	av, err := e.Ledger.CheckAvailability(ctx, NewAmount(1000))
	require.NoError(t, err)
	require.True(t, av.Available)
	require.True(t, av.Shortfall.IsZero())

	av, err = e.Ledger.CheckAvailability(ctx, NewAmount(1250))
	require.NoError(t, err)
	require.False(t, av.Available)
	require.Equal(t, "250", av.Shortfall.String())
}

func TestAddFunds(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Ledger.AddFunds(ctx, alice, NewAmount(10))
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.Ledger.AddFunds(ctx, gov, NewAmount(0))
	require.ErrorIs(t, err, ErrInvalidParameter)

	after, err := e.Ledger.AddFunds(ctx, gov, NewAmount(10))
	require.NoError(t, err)
	require.Equal(t, "1010", after.String())

	events, err := e.Audit.Events(ctx, EventFilter{Kinds: []EventKind{EventFundsAdded}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "10", events[0].Amount.String())
}
