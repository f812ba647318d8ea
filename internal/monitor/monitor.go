// Package monitor watches open positions and decides when to exit. One
// monitor goroutine runs per open position; all trade state lives in the
// database, the monitor only caches price extremes and counters that are
// safe to lose on restart.
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/blockchain"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/jupiter"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/notify"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/safety"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

// Chain reads on-chain balances and mint metadata.
type Chain interface {
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// Quoter prices tokens via the aggregator.
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*jupiter.Quote, error)
}

// SafetyGate re-evaluates token tradability.
type SafetyGate interface {
	Check(ctx context.Context, mint string) (*safety.Verdict, error)
}

// Liquidator sells a position's remaining balance.
type Liquidator interface {
	Liquidate(ctx context.Context, pos *storage.Position) (*storage.Position, error)
}

// Config tunes the monitoring loop.
type Config struct {
	Interval      time.Duration
	GracePeriod   time.Duration
	MaxHoldTime   time.Duration
	SafetyRecheck time.Duration
	ErrorCooldown time.Duration

	TrailingStopPct float64 // fraction, e.g. 0.15
	TimeoutLossPct  float64 // percent, e.g. -5

	ConfirmTicks     int
	MaxCloseFailures int
}

// Monitor tracks one open position until it is closed or abandoned.
type Monitor struct {
	cfg       Config
	chain     Chain
	quoter    Quoter
	gate      SafetyGate
	seller    Liquidator
	positions storage.PositionStore
	notifier  notify.Notifier
	owner     solana.PublicKey
	logger    *zap.Logger

	pos      *storage.Position
	mintKey  solana.PublicKey
	decimals uint8
	dust     uint64

	state           State
	highest         float64
	confirmCount    int
	closeFailures   int
	lastSafetyCheck time.Time

	now func() time.Time
}

func New(cfg Config, chain Chain, quoter Quoter, gate SafetyGate, seller Liquidator,
	positions storage.PositionStore, notifier notify.Notifier, owner solana.PublicKey,
	pos *storage.Position, logger *zap.Logger) (*Monitor, error) {
	mintKey, err := solana.PublicKeyFromBase58(pos.Mint)
	if err != nil {
		return nil, fmt.Errorf("parse mint %s: %w", pos.Mint, err)
	}
	m := &Monitor{
		cfg:       cfg,
		chain:     chain,
		quoter:    quoter,
		gate:      gate,
		seller:    seller,
		positions: positions,
		notifier:  notifier,
		owner:     owner,
		logger: logger.Named("monitor").With(
			zap.Int64("position_id", pos.ID),
			zap.String("mint", pos.Mint)),
		pos:     pos,
		mintKey: mintKey,
		state:   StateEntered,
		now:     time.Now,
	}
	// The safety gate passed at entry, so the first recheck is one full
	// interval away.
	m.lastSafetyCheck = m.now()
	return m, nil
}

// Run monitors the position until it is closed, abandoned, or ctx is
// cancelled. Safe to call for resumed positions after a restart: everything
// it needs is re-derived from the row and the chain.
func (m *Monitor) Run(ctx context.Context) {
	decimals, err := m.chain.MintDecimals(ctx, m.mintKey)
	if err != nil {
		m.logger.Error("Failed to read mint decimals, monitor cannot start", zap.Error(err))
		m.notifier.Send(ctx, fmt.Sprintf("Monitor for %s could not start: %v", m.pos.Mint, err))
		return
	}
	m.decimals = decimals
	m.dust = blockchain.DustThreshold(decimals)
	m.state = StateMonitoring
	m.logger.Info("Monitoring position",
		zap.Float64("bought", m.pos.BoughtAmount),
		zap.Float64("spent_usd", m.pos.SpentUSD))

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopped", zap.String("state", m.state.String()))
			return
		case <-ticker.C:
			done, err := m.tick(ctx)
			if err != nil {
				m.recover(ctx, err)
				continue
			}
			if done {
				return
			}
		}
	}
}

// tick runs one evaluation round. Returns done=true when the position
// reached a terminal state.
func (m *Monitor) tick(ctx context.Context) (bool, error) {
	balance, err := m.chain.TokenBalance(ctx, m.owner, m.mintKey)
	if err != nil {
		return false, fmt.Errorf("read token balance: %w", err)
	}
	if balance <= m.dust {
		if _, err := m.positions.Close(ctx, m.pos.ID, storage.SellTxExternal); err != nil {
			return false, fmt.Errorf("close externally sold position: %w", err)
		}
		m.state = StateClosed
		m.logger.Info("Position closed: balance gone, sold externally")
		m.notifier.Send(ctx, fmt.Sprintf("Position %d (%s) closed: sold externally", m.pos.ID, m.pos.Mint))
		return true, nil
	}

	price, err := m.referencePrice(ctx)
	if err != nil {
		return false, fmt.Errorf("price position: %w", err)
	}
	if price > m.highest {
		m.highest = price
	}

	reason := m.evaluate(ctx, price)
	if reason == ExitNone {
		return false, nil
	}
	return m.close(ctx, reason, price)
}

// referencePrice quotes the sell of one whole token into USDC. Using a sell
// quote means the price already reflects the liquidity the exit depends on.
func (m *Monitor) referencePrice(ctx context.Context) (float64, error) {
	oneToken := uint64(math.Pow10(int(m.decimals)))
	q, err := m.quoter.Quote(ctx, m.pos.Mint, jupiter.USDCMint, oneToken)
	if err != nil {
		return 0, err
	}
	return jupiter.LamportsToUSD(q.OutAmount), nil
}

// evaluate applies the exit rules in priority order: safety recheck first,
// then trailing stop with confirmation hysteresis, then the timeout exit.
func (m *Monitor) evaluate(ctx context.Context, price float64) ExitReason {
	if m.now().Sub(m.lastSafetyCheck) >= m.cfg.SafetyRecheck {
		verdict, err := m.gate.Check(ctx, m.pos.Mint)
		if err != nil {
			// Leave the stamp untouched so the next tick retries instead
			// of waiting out a full recheck interval.
			m.logger.Warn("Safety recheck errored, will retry next interval", zap.Error(err))
		} else {
			m.lastSafetyCheck = m.now()
			if !verdict.Passed {
				m.logger.Warn("Safety recheck failed", zap.String("reason", verdict.Reason))
				// A token turning unsafe overrides the confirmation counter.
				return ExitSafety
			}
		}
	}

	held := m.now().Sub(m.pos.CreatedAt)
	if held < m.cfg.GracePeriod {
		return ExitNone
	}

	stop := m.highest * (1 - m.cfg.TrailingStopPct)
	if price <= stop {
		m.confirmCount++
		m.logger.Info("Price below trailing stop",
			zap.Float64("price", price),
			zap.Float64("stop", stop),
			zap.Int("confirm_count", m.confirmCount))
		if m.confirmCount >= m.cfg.ConfirmTicks {
			return ExitTrailingStop
		}
	} else {
		m.confirmCount = 0
	}

	if held > m.cfg.MaxHoldTime {
		entry := m.pos.SpentUSD / m.pos.BoughtAmount
		pnlPct := (price - entry) / entry * 100
		if pnlPct <= m.cfg.TimeoutLossPct {
			m.logger.Info("Max hold time reached at a loss", zap.Float64("pnl_pct", pnlPct))
			return ExitTimeout
		}
	}

	return ExitNone
}

// close runs the liquidation. A failed liquidation puts the monitor back
// into monitoring until the failure budget is spent, after which the row is
// stamped abandoned so it stops consuming a monitor slot.
func (m *Monitor) close(ctx context.Context, reason ExitReason, price float64) (bool, error) {
	m.state = StateClosing
	m.logger.Info("Closing position",
		zap.String("reason", reason.String()),
		zap.Float64("price", price),
		zap.Float64("highest", m.highest))
	m.notifier.Send(ctx, fmt.Sprintf("Closing %s: %s", m.pos.Mint, reason))

	closed, err := m.seller.Liquidate(ctx, m.pos)
	if err == nil {
		m.state = StateClosed
		m.logger.Info("Position closed", zap.Float64("pnl_usd", closed.PnL))
		return true, nil
	}

	m.closeFailures++
	m.logger.Error("Liquidation failed",
		zap.Int("close_failures", m.closeFailures),
		zap.Error(err))

	if m.closeFailures >= m.cfg.MaxCloseFailures {
		if _, cerr := m.positions.Close(ctx, m.pos.ID, storage.SellTxAbandoned); cerr != nil {
			return false, fmt.Errorf("abandon position: %w", cerr)
		}
		m.state = StateAbandoned
		m.logger.Error("Position abandoned after repeated liquidation failures")
		m.notifier.Send(ctx, fmt.Sprintf("ABANDONED %s after %d failed liquidations; manual intervention required",
			m.pos.Mint, m.closeFailures))
		return true, nil
	}

	// Back to monitoring; the next exit decision starts a fresh
	// confirmation window.
	m.state = StateMonitoring
	m.confirmCount = 0
	m.notifier.Send(ctx, fmt.Sprintf("Liquidation of %s failed (%d/%d), still monitoring: %v",
		m.pos.Mint, m.closeFailures, m.cfg.MaxCloseFailures, err))
	return false, nil
}

// recover handles a tick error: alert and back off. The next tick re-checks
// the balance first, so a position closed externally during the outage is
// detected as soon as monitoring resumes.
func (m *Monitor) recover(ctx context.Context, tickErr error) {
	m.logger.Error("Monitor tick failed", zap.Error(tickErr))
	m.notifier.Send(ctx, fmt.Sprintf("Monitor error for %s: %v", m.pos.Mint, tickErr))

	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.ErrorCooldown):
	}
}
