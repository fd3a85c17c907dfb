package enrichment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-mint-listener/internal/models"
)

const happyAsset = `{
  "jsonrpc": "2.0",
  "id": "mint-listener",
  "result": {
    "id": "MINTX",
    "content": {
      "metadata": {"name": "Pumped", "symbol": "PMP"},
      "links": {"image": "https://img/x.png"}
    },
    "token_info": {
      "symbol": "PMP",
      "supply": 1000000,
      "decimals": 6,
      "price_info": {"price_per_token": 0.002, "currency": "USDC"}
    }
  }
}`

func newDASServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestEnricher(t *testing.T, url string) *Enricher {
	t.Helper()
	client, err := NewClient(url)
	require.NoError(t, err)
	return NewEnricher(client)
}

func TestEnrichHappyPath(t *testing.T) {
	srv, calls := newDASServer(t, http.StatusOK, happyAsset)
	e := newTestEnricher(t, srv.URL)

	res := e.Enrich(context.Background(), "MINTX")

	require.False(t, res.Degraded)
	assert.Empty(t, res.Reason)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, models.TokenMetadata{
		Name:      "Pumped",
		Symbol:    "PMP",
		Image:     "https://img/x.png",
		Price:     models.KnownPrice(0.002),
		Currency:  "USDC",
		Supply:    1000000,
		MarketCap: "2000.00",
	}, res.Metadata)
}

func TestEnrichSendsGetAssetRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, happyAsset)
	}))
	defer srv.Close()

	newTestEnricher(t, srv.URL).Enrich(context.Background(), "MINTX")

	require.NotNil(t, got)
	assert.Equal(t, "2.0", got["jsonrpc"])
	assert.Equal(t, "getAsset", got["method"])
	params := got["params"].(map[string]any)
	assert.Equal(t, "MINTX", params["id"])
	assert.Equal(t, map[string]any{"showFungible": true, "showInscription": true}, params["displayOptions"])
}

func TestEnrichProviderOutage(t *testing.T) {
	srv, _ := newDASServer(t, http.StatusInternalServerError, `internal error`)
	e := newTestEnricher(t, srv.URL)

	res := e.Enrich(context.Background(), "MINTX")

	assert.True(t, res.Degraded)
	assert.Equal(t, ReasonHTTPStatus, res.Reason)
	assert.Equal(t, models.DegradedMetadata(), res.Metadata)
	assert.Equal(t, "", res.Metadata.Image)
}

func TestEnrichMissingTokenInfo(t *testing.T) {
	srv, _ := newDASServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":"x","result":{"id":"MINTX","content":{}}}`)
	res := newTestEnricher(t, srv.URL).Enrich(context.Background(), "MINTX")

	assert.True(t, res.Degraded)
	assert.Equal(t, ReasonNoTokenInfo, res.Reason)
	assert.Equal(t, models.DegradedMetadata(), res.Metadata)
}

func TestEnrichMissingResult(t *testing.T) {
	srv, _ := newDASServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":"x","error":{"code":-32000,"message":"not found"}}`)
	res := newTestEnricher(t, srv.URL).Enrich(context.Background(), "MINTX")

	assert.True(t, res.Degraded)
	assert.Equal(t, ReasonRPCError, res.Reason)
}

func TestEnrichBadJSON(t *testing.T) {
	srv, _ := newDASServer(t, http.StatusOK, `{not json`)
	res := newTestEnricher(t, srv.URL).Enrich(context.Background(), "MINTX")

	assert.True(t, res.Degraded)
	assert.Equal(t, ReasonDecode, res.Reason)
}

func TestEnrichTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestEnricher(t, url).Enrich(context.Background(), "MINTX")

	assert.True(t, res.Degraded)
	assert.Equal(t, ReasonTransport, res.Reason)
	assert.Equal(t, models.DegradedMetadata(), res.Metadata)
}

func TestEnrichPlaceholderImageAndDefaults(t *testing.T) {
	srv, _ := newDASServer(t, http.StatusOK, `{"result":{"content":{"metadata":{}},"token_info":{}}}`)
	res := newTestEnricher(t, srv.URL).Enrich(context.Background(), "MINTX")

	require.False(t, res.Degraded)
	assert.Equal(t, DefaultPlaceholderImage, res.Metadata.Image)
	assert.Equal(t, models.UnknownToken, res.Metadata.Name)
	assert.Equal(t, models.NotAvailable, res.Metadata.Symbol)
	assert.Equal(t, models.NotAvailable, res.Metadata.Currency)
	assert.False(t, res.Metadata.Price.Valid)
	assert.Equal(t, uint64(0), res.Metadata.Supply)
	assert.Equal(t, models.NotAvailable, res.Metadata.MarketCap)
}

func TestEnrichCustomPlaceholder(t *testing.T) {
	srv, _ := newDASServer(t, http.StatusOK, `{"result":{"content":{},"token_info":{"supply":5}}}`)
	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	res := NewEnricher(client, WithPlaceholderImage("/img/none.png")).Enrich(context.Background(), "MINTX")
	assert.Equal(t, "/img/none.png", res.Metadata.Image)
	assert.Equal(t, uint64(5), res.Metadata.Supply)
}

func TestEnrichZeroPriceIsAPrice(t *testing.T) {
	srv, _ := newDASServer(t, http.StatusOK,
		`{"result":{"content":{},"token_info":{"supply":100,"price_info":{"price_per_token":0}}}}`)
	res := newTestEnricher(t, srv.URL).Enrich(context.Background(), "MINTX")

	assert.Equal(t, models.KnownPrice(0), res.Metadata.Price)
	assert.Equal(t, "0.00", res.Metadata.MarketCap)
	assert.Equal(t, models.NotAvailable, res.Metadata.Currency)
}

func TestEnrichIsIdempotent(t *testing.T) {
	srv, calls := newDASServer(t, http.StatusOK, happyAsset)
	e := newTestEnricher(t, srv.URL)

	first := e.Enrich(context.Background(), "MINTX")
	second := e.Enrich(context.Background(), "MINTX")

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEnrichCancelledContext(t *testing.T) {
	srv, calls := newDASServer(t, http.StatusOK, happyAsset)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestEnricher(t, srv.URL).Enrich(ctx, "MINTX")

	assert.True(t, res.Degraded)
	assert.Equal(t, ReasonContextDone, res.Reason)
	assert.Equal(t, int32(0), calls.Load())
}

// cancelOnTake ends the caller's context while it waits for a token
type cancelOnTake struct {
	cancel context.CancelFunc
}

func (l cancelOnTake) Take() time.Time {
	l.cancel()
	return time.Now()
}

func TestEnrichContextEndsWhileRateLimited(t *testing.T) {
	srv, calls := newDASServer(t, http.StatusOK, happyAsset)
	client, err := NewClient(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	e := NewEnricher(client, WithLimiter(cancelOnTake{cancel: cancel}))

	res := e.Enrich(ctx, "MINTX")

	assert.True(t, res.Degraded)
	assert.Equal(t, ReasonContextDone, res.Reason)
	assert.Equal(t, models.DegradedMetadata(), res.Metadata)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
}
