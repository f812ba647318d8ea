// internal/engine/intake.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/storage"
)

// ErrNoSignal reports that no actionable signal is currently queued.
var ErrNoSignal = errors.New("no actionable signal")

// Intake pulls buy signals from the shared queue and filters out the ones
// the engine must not act on. Signals are consumed before filtering so a
// skipped signal can never come back on the next poll.
type Intake struct {
	signals   storage.SignalStore
	positions storage.PositionStore
	maxAge    time.Duration
	cooldown  time.Duration
	logger    *zap.Logger

	now func() time.Time
}

func NewIntake(signals storage.SignalStore, positions storage.PositionStore, maxAge, cooldown time.Duration, logger *zap.Logger) *Intake {
	return &Intake{
		signals:   signals,
		positions: positions,
		maxAge:    maxAge,
		cooldown:  cooldown,
		logger:    logger.Named("intake"),
		now:       time.Now,
	}
}

// Next returns the mint of the next signal worth trading, or ErrNoSignal.
// Stale signals never surface: the freshness cutoff is applied in the query
// itself.
func (i *Intake) Next(ctx context.Context) (string, error) {
	cutoff := i.now().Add(-i.maxAge)

	sig, err := i.signals.NextFresh(ctx, cutoff)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNoSignal
		}
		return "", fmt.Errorf("fetch signal: %w", err)
	}

	if err := i.signals.Consume(ctx, sig.Mint); err != nil {
		return "", fmt.Errorf("consume signal for %s: %w", sig.Mint, err)
	}

	if _, err := i.positions.OpenByMint(ctx, sig.Mint); err == nil {
		i.logger.Info("Signal skipped: position already open", zap.String("mint", sig.Mint))
		return "", ErrNoSignal
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("check open position for %s: %w", sig.Mint, err)
	}

	closedAt, err := i.positions.LastClosedAt(ctx, sig.Mint)
	if err != nil {
		return "", fmt.Errorf("check cooldown for %s: %w", sig.Mint, err)
	}
	if closedAt != nil && i.now().Sub(*closedAt) < i.cooldown {
		i.logger.Info("Signal skipped: token in cooldown",
			zap.String("mint", sig.Mint),
			zap.Time("closed_at", *closedAt))
		return "", ErrNoSignal
	}

	i.logger.Info("Signal accepted",
		zap.String("mint", sig.Mint),
		zap.Time("signal_ts", sig.CreatedAt))
	return sig.Mint, nil
}
