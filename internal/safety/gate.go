// Package safety gates every buy behind a round-trip liquidity probe and an
// external risk report. Both checks fail closed: an unverifiable token is an
// untradable token.
package safety

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/jupiter"
)

// Quoter is the slice of the aggregator client the gate needs.
type Quoter interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*jupiter.Quote, error)
}

// RiskReporter returns the risk findings for a mint.
type RiskReporter interface {
	Report(ctx context.Context, mint string) (*RiskReport, error)
}

// RiskReport is a token risk summary from the external analyzer.
type RiskReport struct {
	Risks []RiskItem
}

// RiskItem is one finding. Level "danger" blocks the trade.
type RiskItem struct {
	Name  string
	Level string
}

// Verdict is the outcome of a safety check.
type Verdict struct {
	Passed         bool
	PriceImpactPct float64
	Reason         string
}

// Gate combines the liquidity and risk checks.
type Gate struct {
	quoter       Quoter
	risk         RiskReporter
	tradeSizeUSD float64
	maxImpactPct float64
	riskTimeout  time.Duration
	logger       *zap.Logger
}

func NewGate(quoter Quoter, risk RiskReporter, tradeSizeUSD, maxImpactPct float64, logger *zap.Logger) *Gate {
	return &Gate{
		quoter:       quoter,
		risk:         risk,
		tradeSizeUSD: tradeSizeUSD,
		maxImpactPct: maxImpactPct,
		riskTimeout:  10 * time.Second,
		logger:       logger.Named("safety"),
	}
}

// Check evaluates mint for tradability at the configured trade size. The
// round-trip price impact is the sum of the buy and sell leg impacts, so a
// pool too shallow to exit cleanly fails even when entry looks cheap.
func (g *Gate) Check(ctx context.Context, mint string) (*Verdict, error) {
	amount := jupiter.USDToLamports(g.tradeSizeUSD)

	buy, err := g.quoter.Quote(ctx, jupiter.USDCMint, mint, amount)
	if err != nil {
		if errors.Is(err, jupiter.ErrNoRoute) {
			return &Verdict{Reason: "no route to buy token"}, nil
		}
		return nil, err
	}

	sell, err := g.quoter.Quote(ctx, mint, jupiter.USDCMint, buy.OutAmount)
	if err != nil {
		if errors.Is(err, jupiter.ErrNoRoute) {
			return &Verdict{Reason: "no route to sell token back"}, nil
		}
		return nil, err
	}

	impact := buy.PriceImpactPct + sell.PriceImpactPct
	if impact > g.maxImpactPct {
		g.logger.Info("Token rejected: price impact too high",
			zap.String("mint", mint),
			zap.Float64("round_trip_impact_pct", impact),
			zap.Float64("max_impact_pct", g.maxImpactPct))
		return &Verdict{PriceImpactPct: impact, Reason: "round-trip price impact too high"}, nil
	}

	if reason := g.checkRisk(ctx, mint); reason != "" {
		return &Verdict{PriceImpactPct: impact, Reason: reason}, nil
	}

	g.logger.Info("Token passed safety checks",
		zap.String("mint", mint),
		zap.Float64("round_trip_impact_pct", impact))
	return &Verdict{Passed: true, PriceImpactPct: impact}, nil
}

// checkRisk queries the risk analyzer once with a bounded timeout. An
// unreachable analyzer blocks the trade; there are no retries because a
// signal is only worth acting on while it is fresh.
func (g *Gate) checkRisk(ctx context.Context, mint string) string {
	ctx, cancel := context.WithTimeout(ctx, g.riskTimeout)
	defer cancel()

	report, err := g.risk.Report(ctx, mint)
	if err != nil {
		g.logger.Warn("Risk report unavailable, failing closed",
			zap.String("mint", mint),
			zap.Error(err))
		return "risk report unavailable"
	}

	for _, r := range report.Risks {
		if r.Level == "danger" {
			g.logger.Info("Token rejected: danger risk",
				zap.String("mint", mint),
				zap.String("risk", r.Name))
			return "risk: " + r.Name
		}
	}
	return ""
}
