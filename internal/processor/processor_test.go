package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-mint-listener/internal/enrichment"
	"github.com/smartdevs17/solana-mint-listener/internal/hub"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/internal/monitor"
)

// MockDetector is a mock implementation of MintDetector
type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Detect(ctx context.Context, record models.RawLogRecord) (*models.DetectedMintEvent, error) {
	args := m.Called(ctx, record)
	if evt := args.Get(0); evt != nil {
		return evt.(*models.DetectedMintEvent), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockTransactionFetcher is a mock implementation of connection.TransactionFetcher
type MockTransactionFetcher struct {
	mock.Mock
}

func (m *MockTransactionFetcher) GetMintTransaction(ctx context.Context, signature string) (*models.MintTransaction, error) {
	args := m.Called(ctx, signature)
	if tx := args.Get(0); tx != nil {
		return tx.(*models.MintTransaction), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeEnricher returns fixed metadata, optionally delaying per mint
type fakeEnricher struct {
	delays map[string]time.Duration
}

func (f *fakeEnricher) Enrich(ctx context.Context, mint string) enrichment.Result {
	if d, ok := f.delays[mint]; ok {
		time.Sleep(d)
	}
	return enrichment.Result{Metadata: models.TokenMetadata{
		Name:      "Token " + mint,
		Symbol:    "TKN",
		Image:     enrichment.DefaultPlaceholderImage,
		Currency:  models.NotAvailable,
		MarketCap: models.NotAvailable,
	}}
}

type panickingEnricher struct{}

func (panickingEnricher) Enrich(ctx context.Context, mint string) enrichment.Result {
	panic("boom")
}

func record(sig string) models.RawLogRecord {
	return models.RawLogRecord{Signature: sig, Logs: []string{monitor.DefaultInstructionMarker}}
}

func detected(sig string) *models.DetectedMintEvent {
	return &models.DetectedMintEvent{Signature: sig, MintAddress: "MINT-" + sig, Creator: "CREATOR"}
}

func testConfig() *ProcessorConfig {
	return &ProcessorConfig{
		MaxConcurrentProcessing: 4,
		QueueSize:               16,
		ProcessingTimeout:       5 * time.Second,
		DedupSize:               16,
	}
}

func startProcessor(t *testing.T, d MintDetector, e MetadataEnricher, h *hub.Hub) *EventProcessor {
	t.Helper()
	p := NewEventProcessor(d, e, h, testConfig())
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func receive(t *testing.T, sub *hub.Subscription) models.EnrichedMintEvent {
	t.Helper()
	select {
	case evt := <-sub.Events():
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.EnrichedMintEvent{}
}

func TestProcessorPublishesInArrivalOrder(t *testing.T) {
	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	d := new(MockDetector)
	for _, sig := range []string{"S1", "S2", "S3"} {
		d.On("Detect", mock.Anything, record(sig)).Return(detected(sig), nil)
	}
	// The first record finishes last
	e := &fakeEnricher{delays: map[string]time.Duration{"MINT-S1": 100 * time.Millisecond}}

	p := startProcessor(t, d, e, h)
	for _, sig := range []string{"S1", "S2", "S3"} {
		require.NoError(t, p.Submit(context.Background(), record(sig)))
	}

	assert.Equal(t, "S1", receive(t, sub).Signature)
	assert.Equal(t, "S2", receive(t, sub).Signature)
	assert.Equal(t, "S3", receive(t, sub).Signature)
}

func TestProcessorSkipsRecordsWithoutEvent(t *testing.T) {
	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	d := new(MockDetector)
	d.On("Detect", mock.Anything, record("NOPE")).Return(nil, nil)
	d.On("Detect", mock.Anything, record("FAIL")).Return(nil, errors.New("rpc timeout"))
	d.On("Detect", mock.Anything, record("S1")).Return(detected("S1"), nil)

	p := startProcessor(t, d, &fakeEnricher{}, h)
	require.NoError(t, p.Submit(context.Background(), record("NOPE")))
	require.NoError(t, p.Submit(context.Background(), record("FAIL")))
	require.NoError(t, p.Submit(context.Background(), record("S1")))

	assert.Equal(t, "S1", receive(t, sub).Signature)
	assert.Eventually(t, func() bool { return p.GetStats().RecordsSkipped == 2 }, time.Second, 5*time.Millisecond)

	stats := p.GetStats()
	assert.Equal(t, uint64(3), stats.RecordsReceived)
	assert.Equal(t, uint64(1), stats.EventsPublished)
	assert.Equal(t, uint64(1), stats.ErrorCount)
	assert.Empty(t, sub.Events())
}

func TestProcessorDeduplicatesSignatures(t *testing.T) {
	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	d := new(MockDetector)
	d.On("Detect", mock.Anything, record("S1")).Return(detected("S1"), nil)
	d.On("Detect", mock.Anything, record("S2")).Return(detected("S2"), nil)

	p := startProcessor(t, d, &fakeEnricher{}, h)
	require.NoError(t, p.Submit(context.Background(), record("S1")))
	require.NoError(t, p.Submit(context.Background(), record("S1")))
	require.NoError(t, p.Submit(context.Background(), record("S2")))

	assert.Equal(t, "S1", receive(t, sub).Signature)
	assert.Equal(t, "S2", receive(t, sub).Signature)
	assert.Eventually(t, func() bool { return p.GetStats().Duplicates == 1 }, time.Second, 5*time.Millisecond)
}

func TestProcessorRecoversFromPanic(t *testing.T) {
	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	d := new(MockDetector)
	d.On("Detect", mock.Anything, record("S1")).Return(detected("S1"), nil)

	p := startProcessor(t, d, panickingEnricher{}, h)
	require.NoError(t, p.Submit(context.Background(), record("S1")))

	assert.Eventually(t, func() bool { return p.GetStats().Panics == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sub.Events())
	assert.True(t, p.IsRunning())
}

func TestProcessorSubmitAfterStopFails(t *testing.T) {
	p := NewEventProcessor(new(MockDetector), &fakeEnricher{}, hub.New(1), testConfig())
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	assert.Error(t, p.Submit(context.Background(), record("S1")))
	assert.False(t, p.GetHealth().Healthy)
}

func TestProcessorStopDrainsInFlight(t *testing.T) {
	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	d := new(MockDetector)
	d.On("Detect", mock.Anything, record("S1")).Return(detected("S1"), nil)
	e := &fakeEnricher{delays: map[string]time.Duration{"MINT-S1": 50 * time.Millisecond}}

	p := NewEventProcessor(d, e, h, testConfig())
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(context.Background(), record("S1")))
	require.NoError(t, p.Stop())

	assert.Equal(t, "S1", receive(t, sub).Signature)
}

func TestProcessorDrainsAfterStartContextCancelled(t *testing.T) {
	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	d := new(MockDetector)
	d.On("Detect", mock.Anything, record("S1")).Return(detected("S1"), nil)
	d.On("Detect", mock.Anything, record("S2")).Return(detected("S2"), nil)
	e := &fakeEnricher{delays: map[string]time.Duration{"MINT-S1": 50 * time.Millisecond}}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewEventProcessor(d, e, h, testConfig())
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Submit(context.Background(), record("S1")))
	require.NoError(t, p.Submit(context.Background(), record("S2")))

	cancel()
	require.NoError(t, p.Stop())

	assert.Equal(t, "S1", receive(t, sub).Signature)
	assert.Equal(t, "S2", receive(t, sub).Signature)
	assert.Equal(t, uint64(2), p.GetStats().EventsPublished)
}

// The scenarios below run the real detector and enricher against fakes of the provider

func runScenario(t *testing.T, dasStatus int, dasBody string, tx *models.MintTransaction) (models.EnrichedMintEvent, *EventProcessor, *hub.Subscription) {
	t.Helper()

	das := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(dasStatus)
		fmt.Fprint(w, dasBody)
	}))
	t.Cleanup(das.Close)

	client, err := enrichment.NewClient(das.URL)
	require.NoError(t, err)

	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(tx, nil)

	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	p := startProcessor(t, monitor.NewDetector(fetcher, ""), enrichment.NewEnricher(client), h)
	require.NoError(t, p.Submit(context.Background(), record("SIG1")))

	return receive(t, sub), p, sub
}

func TestScenarioHappyPath(t *testing.T) {
	decimals := uint8(6)
	evt, _, _ := runScenario(t, http.StatusOK,
		`{"result":{"content":{"metadata":{"name":"Pumped"},"links":{"image":"https://img/x.png"}},`+
			`"token_info":{"symbol":"PMP","supply":1000000,"price_info":{"price_per_token":0.002,"currency":"USDC"}}}}`,
		&models.MintTransaction{
			AccountKeys:       []string{"CREATOR"},
			PostTokenBalances: []models.TokenBalance{{Mint: "MINTX", Decimals: &decimals}},
		})

	assert.Equal(t, models.EnrichedMintEvent{
		Signature:   "SIG1",
		MintAddress: "MINTX",
		Creator:     "CREATOR",
		Supply:      1000000,
		Decimals:    models.KnownDecimals(6),
		Name:        "Pumped",
		Symbol:      "PMP",
		Image:       "https://img/x.png",
		Price:       models.KnownPrice(0.002),
		Currency:    "USDC",
		MarketCap:   "2000.00",
	}, evt)
}

func TestScenarioEnrichmentOutage(t *testing.T) {
	evt, p, _ := runScenario(t, http.StatusInternalServerError, `oops`,
		&models.MintTransaction{
			AccountKeys:       []string{"CREATOR"},
			PostTokenBalances: []models.TokenBalance{{Mint: "MINTX"}},
		})

	assert.Equal(t, "SIG1", evt.Signature)
	assert.Equal(t, "MINTX", evt.MintAddress)
	assert.Equal(t, models.UnknownToken, evt.Name)
	assert.Equal(t, "", evt.Image)
	assert.Equal(t, models.NotAvailable, evt.MarketCap)
	assert.False(t, evt.Price.Valid)
	assert.Eventually(t, func() bool { return p.GetStats().EventsDegraded == 1 }, time.Second, 5*time.Millisecond)
}

func TestScenarioMalformedMatchPublishesNothing(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(&models.MintTransaction{
		AccountKeys: []string{"CREATOR"},
	}, nil)

	h := hub.New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	p := startProcessor(t, monitor.NewDetector(fetcher, ""), &fakeEnricher{}, h)
	require.NoError(t, p.Submit(context.Background(), record("SIG1")))

	assert.Eventually(t, func() bool { return p.GetStats().RecordsSkipped == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sub.Events())
}

func TestSignatureSetEvictsOldest(t *testing.T) {
	s := newSignatureSet(2)
	assert.True(t, s.Add("A"))
	assert.False(t, s.Add("A"))
	assert.True(t, s.Add("B"))
	assert.True(t, s.Add("C"))

	assert.False(t, s.Contains("A"))
	assert.True(t, s.Contains("B"))
	assert.True(t, s.Contains("C"))
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Contains(""))
}
