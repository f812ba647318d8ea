// Package engine executes trades: the buy path on accepted signals and the
// cascading sell path when the monitor decides to exit. The database row is
// the single source of truth; nothing trades on in-memory state alone.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/jupiter"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/notify"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

// ErrInsufficientBalance reports that the wallet cannot fund the configured
// trade size.
var ErrInsufficientBalance = errors.New("insufficient USDC balance")

// Quoter is the slice of the aggregator client the engine needs.
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*jupiter.Quote, error)
	BuildSwap(ctx context.Context, q *jupiter.Quote, userPublicKey string) (*jupiter.SwapTransaction, error)
}

// Chain reads on-chain state.
type Chain interface {
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// TxSubmitter signs, submits and confirms a prebuilt transaction.
type TxSubmitter interface {
	SubmitAndConfirm(ctx context.Context, rawTx []byte, lastValidBlockHeight uint64) (solana.Signature, error)
}

// Engine runs the buy path.
type Engine struct {
	quoter    Quoter
	chain     Chain
	submitter TxSubmitter
	positions storage.PositionStore
	notifier  notify.Notifier
	owner     solana.PublicKey

	tradeSizeUSD float64
	logger       *zap.Logger
}

func New(quoter Quoter, chain Chain, submitter TxSubmitter, positions storage.PositionStore,
	notifier notify.Notifier, owner solana.PublicKey, tradeSizeUSD float64, logger *zap.Logger) *Engine {
	return &Engine{
		quoter:       quoter,
		chain:        chain,
		submitter:    submitter,
		positions:    positions,
		notifier:     notifier,
		owner:        owner,
		tradeSizeUSD: tradeSizeUSD,
		logger:       logger.Named("engine"),
	}
}

// Buy swaps the configured USD amount into mint and records the position.
// The confirmed transaction and the inserted row succeed or fail together
// from the caller's point of view: an insert failure after confirmation is
// returned as an error so the operator is alerted to an untracked holding.
func (e *Engine) Buy(ctx context.Context, mint string) (*storage.Position, error) {
	if _, err := e.positions.OpenByMint(ctx, mint); err == nil {
		return nil, fmt.Errorf("position already open for %s", mint)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("check open position: %w", err)
	}

	amount := jupiter.USDToLamports(e.tradeSizeUSD)

	usdcMint := solana.MustPublicKeyFromBase58(jupiter.USDCMint)
	balance, err := e.chain.TokenBalance(ctx, e.owner, usdcMint)
	if err != nil {
		return nil, fmt.Errorf("check USDC balance: %w", err)
	}
	if balance < amount {
		e.logger.Warn("Insufficient USDC for trade",
			zap.Uint64("balance", balance),
			zap.Uint64("needed", amount))
		e.notifier.Send(ctx, fmt.Sprintf("Skipped %s: wallet holds $%.2f USDC, trade size is $%.2f",
			mint, jupiter.LamportsToUSD(balance), e.tradeSizeUSD))
		return nil, ErrInsufficientBalance
	}

	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("parse mint %s: %w", mint, err)
	}
	decimals, err := e.chain.MintDecimals(ctx, mintKey)
	if err != nil {
		return nil, fmt.Errorf("read mint decimals: %w", err)
	}

	quote, err := e.quoter.Quote(ctx, jupiter.USDCMint, mint, amount)
	if err != nil {
		return nil, fmt.Errorf("quote buy: %w", err)
	}

	swap, err := e.quoter.BuildSwap(ctx, quote, e.owner.String())
	if err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}

	sig, err := e.submitter.SubmitAndConfirm(ctx, swap.Raw, swap.LastValidBlockHeight)
	if err != nil {
		return nil, fmt.Errorf("submit buy: %w", err)
	}

	bought := float64(quote.OutAmount) / math.Pow10(int(decimals))
	pos := &storage.Position{
		Mint:         mint,
		BoughtAmount: bought,
		SpentUSD:     e.tradeSizeUSD,
		BuyTx:        sig.String(),
		CreatedAt:    time.Now(),
	}
	if err := e.positions.Insert(ctx, pos); err != nil {
		// The swap confirmed but the row did not land. The holding is real
		// and untracked; surface loudly.
		e.notifier.Send(ctx, fmt.Sprintf("CRITICAL: bought %s (tx %s) but failed to record position: %v", mint, sig, err))
		return nil, fmt.Errorf("record position after confirmed buy %s: %w", sig, err)
	}

	e.logger.Info("Position opened",
		zap.Int64("position_id", pos.ID),
		zap.String("mint", mint),
		zap.Float64("bought", bought),
		zap.Float64("spent_usd", e.tradeSizeUSD),
		zap.String("tx", sig.String()))
	e.notifier.Send(ctx, fmt.Sprintf("Bought %.6f of %s for $%.2f\ntx: %s", bought, mint, e.tradeSizeUSD, sig))
	return pos, nil
}
