// Package bot wires the trading engine together and drives the main loop.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/blockchain"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/config"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/engine"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/health"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/jupiter"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/monitor"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/notify"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/safety"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage/postgres"
	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/wallet"
)

const (
	dbPingInterval    = 30 * time.Second
	dbMaxPingFailures = 3
)

// signalSource yields the next actionable mint.
type signalSource interface {
	Next(ctx context.Context) (string, error)
}

// safetyChecker gates trade entry.
type safetyChecker interface {
	Check(ctx context.Context, mint string) (*safety.Verdict, error)
}

// buyer executes one buy.
type buyer interface {
	Buy(ctx context.Context, mint string) (*storage.Position, error)
}

// Runner owns the full process lifecycle: construction, restart recovery,
// the trading loop and graceful shutdown.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *postgres.DB
	positions storage.PositionStore
	intake    signalSource
	gate      safetyChecker
	engine    buyer
	seller    *engine.Seller
	chain     *blockchain.Client
	quoter    *jupiter.Client
	notifier  notify.Notifier
	doctor    *health.Doctor
	monitors  *monitor.Registry
	owner     solana.PublicKey
}

func New(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// Run builds all components and blocks until shutdown.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.build(ctx); err != nil {
		return err
	}
	defer r.db.Close()

	if err := r.recoverPositions(ctx); err != nil {
		return fmt.Errorf("restart recovery: %w", err)
	}

	r.notifier.Send(ctx, fmt.Sprintf("Trading engine started, wallet %s", r.owner))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.doctor.Run(ctx) })
	g.Go(func() error { return r.tradeLoop(ctx) })

	err := g.Wait()
	r.monitors.Wait()
	r.logger.Info("Shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) build(ctx context.Context) error {
	// Load the wallet before opening the pool: it is the only fallible step
	// here, and failing first means no pool is left behind unclosed.
	w, err := wallet.NewFromBase58(r.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	r.owner = w.PublicKey
	r.logger.Info("Wallet loaded", zap.String("pubkey", w.String()))

	db, err := postgres.Connect(ctx, r.cfg.PostgresURL, r.logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	r.db = db

	r.chain = blockchain.NewClient(r.cfg.RPCURL, r.logger)
	submitter := blockchain.NewSubmitter(r.chain, w, r.logger)
	r.quoter = jupiter.NewClient(r.cfg.JupiterBaseURL, r.cfg.SlippageBps, r.logger)
	risk := safety.NewRugcheckClient(r.cfg.RiskBaseURL, r.logger)
	r.gate = safety.NewGate(r.quoter, risk, r.cfg.TradeSizeUSD, r.cfg.MaxPriceImpactPct, r.logger)
	r.notifier = notify.New(r.cfg.TelegramToken, r.cfg.TelegramChatID, r.logger)

	signals := postgres.NewSignalStore(db)
	r.positions = postgres.NewPositionStore(db)

	r.intake = engine.NewIntake(signals, r.positions, r.cfg.SignalMaxAge, r.cfg.Cooldown, r.logger)
	r.engine = engine.New(r.quoter, r.chain, submitter, r.positions, r.notifier, r.owner, r.cfg.TradeSizeUSD, r.logger)
	r.seller = engine.NewSeller(r.quoter, r.chain, submitter, r.positions, r.notifier, r.owner,
		uint(r.cfg.SellRetries), r.logger)
	r.doctor = health.NewDoctor(db, r.notifier, dbPingInterval, dbMaxPingFailures, r.logger)
	r.monitors = monitor.NewRegistry()
	return nil
}

// recoverPositions resumes monitoring for open positions left behind by the
// previous process. Rows older than the resume window are abandoned: their
// trailing-stop history is gone and pretending to monitor them would only
// hide a stuck holding.
func (r *Runner) recoverPositions(ctx context.Context) error {
	open, err := r.positions.ListOpen(ctx)
	if err != nil {
		return err
	}

	for _, pos := range open {
		age := time.Since(pos.CreatedAt)
		if age > r.cfg.ResumeMaxAge {
			if _, err := r.positions.Close(ctx, pos.ID, storage.SellTxAbandoned); err != nil {
				return fmt.Errorf("abandon stale position %d: %w", pos.ID, err)
			}
			r.logger.Warn("Abandoned stale position on startup",
				zap.Int64("position_id", pos.ID),
				zap.String("mint", pos.Mint),
				zap.Duration("age", age))
			r.notifier.Send(ctx, fmt.Sprintf("Abandoned stale position %d (%s), open for %s; check the wallet manually",
				pos.ID, pos.Mint, age.Round(time.Minute)))
			continue
		}

		r.logger.Info("Resuming position monitor",
			zap.Int64("position_id", pos.ID),
			zap.String("mint", pos.Mint))
		if err := r.launchMonitor(ctx, pos); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) launchMonitor(ctx context.Context, pos *storage.Position) error {
	m, err := monitor.New(r.monitorConfig(), r.chain, r.quoter, r.gate, r.seller,
		r.positions, r.notifier, r.owner, pos, r.logger)
	if err != nil {
		return fmt.Errorf("build monitor for position %d: %w", pos.ID, err)
	}
	r.monitors.Launch(ctx, m)
	return nil
}

func (r *Runner) monitorConfig() monitor.Config {
	return monitor.Config{
		Interval:         r.cfg.MonitorInterval,
		GracePeriod:      r.cfg.GracePeriod,
		MaxHoldTime:      r.cfg.MaxHoldTime,
		SafetyRecheck:    r.cfg.SafetyRecheck,
		ErrorCooldown:    r.cfg.ErrorCooldown,
		TrailingStopPct:  r.cfg.TrailingStopPct,
		TimeoutLossPct:   r.cfg.TimeoutLossPct,
		ConfirmTicks:     r.cfg.ConfirmTicks,
		MaxCloseFailures: r.cfg.MaxCloseFailures,
	}
}

// tradeLoop polls for signals whenever no position is being monitored. The
// engine is deliberately single-position: capital, attention and failure
// handling all assume one trade at a time.
func (r *Runner) tradeLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.monitors.Active() > 0 {
				continue
			}
			if err := r.cycle(ctx); err != nil {
				r.logger.Error("Trading cycle failed", zap.Error(err))
				r.notifier.Send(ctx, fmt.Sprintf("Trading cycle error: %v", err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.cfg.ErrorCooldown):
				}
			}
		}
	}
}

// cycle runs one intake-check-buy pass. A recovered panic is returned as an
// error so a bug in one cycle cannot take the process down mid-position.
func (r *Runner) cycle(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in trading cycle: %v", rec)
		}
	}()

	mint, err := r.intake.Next(ctx)
	if err != nil {
		if errors.Is(err, engine.ErrNoSignal) {
			return nil
		}
		return err
	}

	verdict, err := r.gate.Check(ctx, mint)
	if err != nil {
		return fmt.Errorf("safety check for %s: %w", mint, err)
	}
	if !verdict.Passed {
		r.logger.Info("Signal rejected by safety gate",
			zap.String("mint", mint),
			zap.String("reason", verdict.Reason))
		r.notifier.Send(ctx, fmt.Sprintf("Skipped %s: %s", mint, verdict.Reason))
		return nil
	}

	pos, err := r.engine.Buy(ctx, mint)
	if err != nil {
		if errors.Is(err, engine.ErrInsufficientBalance) {
			r.logger.Warn("Skipping signal: wallet cannot fund trade", zap.String("mint", mint))
			return nil
		}
		return fmt.Errorf("buy %s: %w", mint, err)
	}

	return r.launchMonitor(ctx, pos)
}
