// internal/engine/seller.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/blockchain"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/jupiter"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/notify"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/retry"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

var (
	// ErrLiquidationFailed means no tranche sold; the position stays open.
	ErrLiquidationFailed = errors.New("liquidation failed: nothing sold")
	// ErrLiquidationIncomplete means some tranches sold but a residual
	// balance above dust remains; the position stays open with the
	// proceeds recorded.
	ErrLiquidationIncomplete = errors.New("liquidation incomplete: residual balance remains")
)

// sellTranches holds the divisors of the remaining balance tried in order:
// the whole balance, then half, then a quarter. A full-balance sell that
// keeps failing on shallow liquidity may still succeed in smaller pieces.
// Integer divisors keep tranche amounts exact for balances beyond float64
// precision.
var sellTranches = []uint64{1, 2, 4}

// Seller liquidates positions via the cascading sell path.
type Seller struct {
	quoter    Quoter
	chain     Chain
	submitter TxSubmitter
	positions storage.PositionStore
	notifier  notify.Notifier
	owner     solana.PublicKey

	tranchePolicy retry.Policy
	logger        *zap.Logger
}

func NewSeller(quoter Quoter, chain Chain, submitter TxSubmitter, positions storage.PositionStore,
	notifier notify.Notifier, owner solana.PublicKey, sellRetries uint, logger *zap.Logger) *Seller {
	return &Seller{
		quoter:    quoter,
		chain:     chain,
		submitter: submitter,
		positions: positions,
		notifier:  notifier,
		owner:     owner,
		tranchePolicy: retry.Policy{
			MaxTries:     sellRetries,
			InitialDelay: 2 * time.Second,
			MaxElapsed:   2 * time.Minute,
		},
		logger: logger.Named("seller"),
	}
}

// Liquidate sells the position's remaining on-chain balance, in cascading
// tranches of the balance that remains at each step. The live balance, not
// the recorded amount, is what gets sold: airdrops, transfers and partial
// prior sells are all absorbed. Each successful tranche is persisted
// immediately so proceeds survive a crash mid-cascade.
func (s *Seller) Liquidate(ctx context.Context, pos *storage.Position) (*storage.Position, error) {
	mintKey, err := solana.PublicKeyFromBase58(pos.Mint)
	if err != nil {
		return nil, fmt.Errorf("parse mint %s: %w", pos.Mint, err)
	}
	decimals, err := s.chain.MintDecimals(ctx, mintKey)
	if err != nil {
		return nil, fmt.Errorf("read mint decimals: %w", err)
	}
	dust := blockchain.DustThreshold(decimals)

	soldAny := false
	lastTx := ""

	for _, divisor := range sellTranches {
		balance, err := s.chain.TokenBalance(ctx, s.owner, mintKey)
		if err != nil {
			return nil, fmt.Errorf("read token balance: %w", err)
		}
		if balance <= dust {
			break
		}

		amount := balance / divisor
		if amount == 0 {
			continue
		}

		sig, received, err := s.sellTranche(ctx, pos.Mint, amount)
		if err != nil {
			s.logger.Warn("Sell tranche failed",
				zap.Int64("position_id", pos.ID),
				zap.Uint64("tranche_pct", 100/divisor),
				zap.Uint64("amount", amount),
				zap.Error(err))
			continue
		}

		soldAny = true
		lastTx = sig
		soldTokens := float64(amount) / math.Pow10(int(decimals))
		if err := s.positions.AddSellProceeds(ctx, pos.ID, soldTokens, received); err != nil {
			s.logger.Error("Failed to record sell proceeds",
				zap.Int64("position_id", pos.ID),
				zap.String("tx", sig),
				zap.Error(err))
		}
		s.logger.Info("Sold tranche",
			zap.Int64("position_id", pos.ID),
			zap.Uint64("tranche_pct", 100/divisor),
			zap.Float64("sold", soldTokens),
			zap.Float64("received_usd", received),
			zap.String("tx", sig))
		s.notifier.Send(ctx, fmt.Sprintf("Sold %.6f of %s for $%.2f\ntx: %s", soldTokens, pos.Mint, received, sig))
	}

	balance, err := s.chain.TokenBalance(ctx, s.owner, mintKey)
	if err != nil {
		return nil, fmt.Errorf("read final token balance: %w", err)
	}

	if balance <= dust {
		if !soldAny {
			// Nothing held and nothing sold by us: the position was
			// liquidated outside this process.
			closed, err := s.positions.Close(ctx, pos.ID, storage.SellTxExternal)
			if err != nil {
				return nil, fmt.Errorf("close externally sold position: %w", err)
			}
			s.logger.Info("Position closed: sold externally", zap.Int64("position_id", pos.ID))
			s.notifier.Send(ctx, fmt.Sprintf("Position %d (%s) closed: balance gone, sold externally", pos.ID, pos.Mint))
			return closed, nil
		}

		closed, err := s.positions.Close(ctx, pos.ID, lastTx)
		if err != nil {
			return nil, fmt.Errorf("close position: %w", err)
		}
		s.logger.Info("Position closed",
			zap.Int64("position_id", pos.ID),
			zap.Float64("pnl_usd", closed.PnL))
		s.notifier.Send(ctx, fmt.Sprintf("Closed %s: spent $%.2f, received $%.2f, PnL $%.2f",
			pos.Mint, closed.SpentUSD, closed.ReceivedUSD, closed.PnL))
		return closed, nil
	}

	if !soldAny {
		return nil, ErrLiquidationFailed
	}
	return nil, ErrLiquidationIncomplete
}

// sellTranche swaps amount of mint back to USDC, retried under the tranche
// policy. Returns the confirmed signature and the USD received.
func (s *Seller) sellTranche(ctx context.Context, mint string, amount uint64) (string, float64, error) {
	type result struct {
		sig      string
		received float64
	}
	res, err := retry.Do(ctx, s.tranchePolicy, func() (result, error) {
		quote, err := s.quoter.Quote(ctx, mint, jupiter.USDCMint, amount)
		if err != nil {
			return result{}, fmt.Errorf("quote sell: %w", err)
		}
		swap, err := s.quoter.BuildSwap(ctx, quote, s.owner.String())
		if err != nil {
			return result{}, fmt.Errorf("build swap: %w", err)
		}
		sig, err := s.submitter.SubmitAndConfirm(ctx, swap.Raw, swap.LastValidBlockHeight)
		if err != nil {
			return result{}, fmt.Errorf("submit sell: %w", err)
		}
		return result{sig: sig.String(), received: jupiter.LamportsToUSD(quote.OutAmount)}, nil
	})
	if err != nil {
		return "", 0, err
	}
	return res.sig, res.received, nil
}
