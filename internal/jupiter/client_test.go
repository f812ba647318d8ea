package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EvgenijLipst/crypto-scanner-sub002/internal/retry"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(baseURL, 100, zaptest.NewLogger(t))
	c.policy = retry.Policy{MaxTries: 3, InitialDelay: time.Millisecond, MaxElapsed: time.Second}
	return c
}

func TestQuote_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		require.Equal(t, USDCMint, r.URL.Query().Get("inputMint"))
		require.Equal(t, "100000000", r.URL.Query().Get("amount"))
		require.Equal(t, "100", r.URL.Query().Get("slippageBps"))

		w.Write([]byte(`{"inAmount":"100000000","outAmount":"42000","priceImpactPct":"0.0123"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	q, err := c.Quote(context.Background(), USDCMint, "SomeMint", 100000000)
	require.NoError(t, err)
	require.Equal(t, uint64(100000000), q.InAmount)
	require.Equal(t, uint64(42000), q.OutAmount)
	require.InDelta(t, 1.23, q.PriceImpactPct, 1e-9)
}

func TestQuote_NoRouteSurfacesAfterRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorCode":"COULD_NOT_FIND_ANY_ROUTE","error":"Could not find any route"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Quote(context.Background(), USDCMint, "SomeMint", 1000)
	require.ErrorIs(t, err, ErrNoRoute)
	require.Equal(t, 3, calls)
}

func TestQuote_TransientFailureThenSuccess(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"inAmount":"1000","outAmount":"500","priceImpactPct":"0"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	q, err := c.Quote(context.Background(), USDCMint, "SomeMint", 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(500), q.OutAmount)
	require.Equal(t, 2, calls)
}

func TestBuildSwap_RoundTripsQuoteResponse(t *testing.T) {
	rawTx := []byte{1, 2, 3, 4}
	quoteBody := `{"inAmount":"1000","outAmount":"500","priceImpactPct":"0.001","routePlan":[]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			w.Write([]byte(quoteBody))
		case "/swap":
			var req struct {
				QuoteResponse    json.RawMessage `json:"quoteResponse"`
				UserPublicKey    string          `json:"userPublicKey"`
				WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.JSONEq(t, quoteBody, string(req.QuoteResponse))
			require.Equal(t, "TestPubkey", req.UserPublicKey)
			require.True(t, req.WrapAndUnwrapSol)

			resp := map[string]interface{}{
				"swapTransaction":      base64.StdEncoding.EncodeToString(rawTx),
				"lastValidBlockHeight": 12345,
			}
			json.NewEncoder(w).Encode(resp)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	q, err := c.Quote(context.Background(), USDCMint, "SomeMint", 1000)
	require.NoError(t, err)

	swap, err := c.BuildSwap(context.Background(), q, "TestPubkey")
	require.NoError(t, err)
	require.Equal(t, rawTx, swap.Raw)
	require.Equal(t, uint64(12345), swap.LastValidBlockHeight)
}

func TestBuildSwap_MissingTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastValidBlockHeight":12345}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.BuildSwap(context.Background(), &Quote{raw: json.RawMessage(`{}`)}, "TestPubkey")
	require.Error(t, err)
}

func TestUSDToLamports(t *testing.T) {
	require.Equal(t, uint64(100000000), USDToLamports(100))
	require.Equal(t, uint64(1500000), USDToLamports(1.5))
	require.InDelta(t, 100.0, LamportsToUSD(100000000), 1e-9)
}
