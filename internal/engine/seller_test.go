package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

func testSeller(t *testing.T, q Quoter, c Chain, s TxSubmitter, positions storage.PositionStore, n *fakeNotifier) *Seller {
	t.Helper()
	return NewSeller(q, c, s, positions, n, testOwner, 1, zaptest.NewLogger(t))
}

func openPosition(t *testing.T, positions *fakePositionStore) *storage.Position {
	t.Helper()
	pos := &storage.Position{Mint: testMint, BoughtAmount: 10000, SpentUSD: 100, BuyTx: "buytx"}
	require.NoError(t, positions.Insert(context.Background(), pos))
	return pos
}

func TestLiquidate_FullSellFirstTranche(t *testing.T) {
	positions := newFakePositionStore()
	pos := openPosition(t, positions)
	notifier := &fakeNotifier{}
	quoter := &fakeQuoter{usdPerToken: 0.012, tokenDecimals: 9}
	chain := &fakeChain{token: 10000 * 1e9, decimals: 9}
	submitter := &fakeSubmitter{onSuccess: func() { chain.token = 0 }}

	s := testSeller(t, quoter, chain, submitter, positions, notifier)
	closed, err := s.Liquidate(context.Background(), pos)
	require.NoError(t, err)
	require.False(t, closed.Open())
	require.InDelta(t, 10000.0, closed.SoldAmount, 1e-6)
	require.InDelta(t, 120.0, closed.ReceivedUSD, 1e-6)
	require.InDelta(t, 20.0, closed.PnL, 1e-6)
	require.NotEqual(t, storage.SellTxExternal, closed.SellTx)
	require.Equal(t, 1, submitter.calls)
}

func TestLiquidate_BalanceGoneClosesExternal(t *testing.T) {
	positions := newFakePositionStore()
	pos := openPosition(t, positions)
	chain := &fakeChain{token: 0, decimals: 9}
	submitter := &fakeSubmitter{}

	s := testSeller(t, &fakeQuoter{usdPerToken: 0.01, tokenDecimals: 9}, chain, submitter, positions, &fakeNotifier{})
	closed, err := s.Liquidate(context.Background(), pos)
	require.NoError(t, err)
	require.False(t, closed.Open())
	require.Equal(t, storage.SellTxExternal, closed.SellTx)
	require.Zero(t, submitter.calls)
}

func TestLiquidate_CascadesAfterFullSellFails(t *testing.T) {
	positions := newFakePositionStore()
	pos := openPosition(t, positions)
	quoter := &fakeQuoter{usdPerToken: 0.01, tokenDecimals: 9}
	chain := &fakeChain{token: 10000 * 1e9, decimals: 9}
	// Full-balance sell fails; smaller tranches land and halve what is left.
	submitter := &fakeSubmitter{failFirst: 1}
	submitter.onSuccess = func() { chain.token /= 2 }

	s := testSeller(t, quoter, chain, submitter, positions, &fakeNotifier{})
	_, err := s.Liquidate(context.Background(), pos)
	require.ErrorIs(t, err, ErrLiquidationIncomplete)
	require.Equal(t, 3, submitter.calls)

	// Proceeds from the successful tranches are already persisted and the
	// position remains open for the next attempt.
	stored, err := positions.Get(context.Background(), pos.ID)
	require.NoError(t, err)
	require.True(t, stored.Open())
	require.Greater(t, stored.SoldAmount, 0.0)
	require.Greater(t, stored.ReceivedUSD, 0.0)
}

func TestLiquidate_AllTranchesFail(t *testing.T) {
	positions := newFakePositionStore()
	pos := openPosition(t, positions)
	chain := &fakeChain{token: 10000 * 1e9, decimals: 9}
	submitter := &fakeSubmitter{failFirst: 100}

	s := testSeller(t, &fakeQuoter{usdPerToken: 0.01, tokenDecimals: 9}, chain, submitter, positions, &fakeNotifier{})
	_, err := s.Liquidate(context.Background(), pos)
	require.ErrorIs(t, err, ErrLiquidationFailed)

	stored, err := positions.Get(context.Background(), pos.ID)
	require.NoError(t, err)
	require.True(t, stored.Open())
	require.Zero(t, stored.SoldAmount)
}

func TestLiquidate_TrancheAmountsAreExact(t *testing.T) {
	positions := newFakePositionStore()
	pos := openPosition(t, positions)
	quoter := &fakeQuoter{usdPerToken: 0.01, tokenDecimals: 9}
	// A balance beyond float64's 53-bit integer precision: fractional math
	// would round the tranche amounts.
	balance := uint64(1)<<62 + 3
	chain := &fakeChain{token: balance, decimals: 9}
	submitter := &fakeSubmitter{failFirst: 100}

	s := testSeller(t, quoter, chain, submitter, positions, &fakeNotifier{})
	_, err := s.Liquidate(context.Background(), pos)
	require.ErrorIs(t, err, ErrLiquidationFailed)

	require.Equal(t, []uint64{balance, balance / 2, balance / 4}, quoter.amounts)
}

func TestLiquidate_FinishesWhenRemainderIsDust(t *testing.T) {
	positions := newFakePositionStore()
	pos := openPosition(t, positions)
	quoter := &fakeQuoter{usdPerToken: 0.01, tokenDecimals: 9}
	chain := &fakeChain{token: 10000 * 1e9, decimals: 9}
	// Each successful sell leaves a sub-dust remainder.
	submitter := &fakeSubmitter{}
	submitter.onSuccess = func() { chain.token = 10 }

	s := testSeller(t, quoter, chain, submitter, positions, &fakeNotifier{})
	closed, err := s.Liquidate(context.Background(), pos)
	require.NoError(t, err)
	require.False(t, closed.Open())
	require.Equal(t, 1, submitter.calls)
}
