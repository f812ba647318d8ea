package safety

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/jupiter"
)

type fakeQuoter struct {
	buyImpact  float64
	sellImpact float64
	buyErr     error
	sellErr    error
}

func (f *fakeQuoter) Quote(_ context.Context, inputMint, _ string, amount uint64) (*jupiter.Quote, error) {
	if inputMint == jupiter.USDCMint {
		if f.buyErr != nil {
			return nil, f.buyErr
		}
		return &jupiter.Quote{InAmount: amount, OutAmount: 42000, PriceImpactPct: f.buyImpact}, nil
	}
	if f.sellErr != nil {
		return nil, f.sellErr
	}
	return &jupiter.Quote{InAmount: amount, OutAmount: amount / 2, PriceImpactPct: f.sellImpact}, nil
}

type fakeRisk struct {
	report *RiskReport
	err    error
}

func (f *fakeRisk) Report(_ context.Context, _ string) (*RiskReport, error) {
	return f.report, f.err
}

func testGate(t *testing.T, q Quoter, r RiskReporter) *Gate {
	t.Helper()
	return NewGate(q, r, 100, 2.5, zaptest.NewLogger(t))
}

func TestCheck_Passes(t *testing.T) {
	g := testGate(t, &fakeQuoter{buyImpact: 0.5, sellImpact: 0.7}, &fakeRisk{report: &RiskReport{}})

	v, err := g.Check(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.True(t, v.Passed)
	require.InDelta(t, 1.2, v.PriceImpactPct, 1e-9)
}

func TestCheck_RoundTripImpactTooHigh(t *testing.T) {
	// Each leg is under the limit but the round trip is not.
	g := testGate(t, &fakeQuoter{buyImpact: 1.5, sellImpact: 1.5}, &fakeRisk{report: &RiskReport{}})

	v, err := g.Check(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.False(t, v.Passed)
	require.Contains(t, v.Reason, "price impact")
}

func TestCheck_NoBuyRoute(t *testing.T) {
	g := testGate(t, &fakeQuoter{buyErr: jupiter.ErrNoRoute}, &fakeRisk{report: &RiskReport{}})

	v, err := g.Check(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.False(t, v.Passed)
}

func TestCheck_NoSellRoute(t *testing.T) {
	g := testGate(t, &fakeQuoter{sellErr: jupiter.ErrNoRoute}, &fakeRisk{report: &RiskReport{}})

	v, err := g.Check(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.False(t, v.Passed)
}

func TestCheck_DangerRiskBlocks(t *testing.T) {
	risk := &fakeRisk{report: &RiskReport{Risks: []RiskItem{
		{Name: "Low liquidity", Level: "warn"},
		{Name: "Freeze authority", Level: "danger"},
	}}}
	g := testGate(t, &fakeQuoter{}, risk)

	v, err := g.Check(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.False(t, v.Passed)
	require.Contains(t, v.Reason, "Freeze authority")
}

func TestCheck_WarnRiskAllowed(t *testing.T) {
	risk := &fakeRisk{report: &RiskReport{Risks: []RiskItem{
		{Name: "Low liquidity", Level: "warn"},
	}}}
	g := testGate(t, &fakeQuoter{}, risk)

	v, err := g.Check(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.True(t, v.Passed)
}

func TestCheck_RiskUnavailableFailsClosed(t *testing.T) {
	g := testGate(t, &fakeQuoter{}, &fakeRisk{err: errors.New("timeout")})

	v, err := g.Check(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.False(t, v.Passed)
	require.Contains(t, v.Reason, "unavailable")
}

func TestRugcheckClient_ParsesSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tokens/SomeMint/report/summary", r.URL.Path)
		w.Write([]byte(`{"risks":[{"name":"Mint authority","level":"danger"},{"name":"Top holders","level":"warn"}]}`))
	}))
	defer srv.Close()

	c := NewRugcheckClient(srv.URL, zaptest.NewLogger(t))
	report, err := c.Report(context.Background(), "SomeMint")
	require.NoError(t, err)
	require.Len(t, report.Risks, 2)
	require.Equal(t, "danger", report.Risks[0].Level)
}

func TestRugcheckClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRugcheckClient(srv.URL, zaptest.NewLogger(t))
	_, err := c.Report(context.Background(), "SomeMint")
	require.Error(t, err)
}
