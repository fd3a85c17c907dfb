package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
)

func event(sig string) models.EnrichedMintEvent {
	return models.EnrichedMintEvent{Signature: sig, MintAddress: "MINT-" + sig}
}

func drain(t *testing.T, sub *Subscription, n int) []models.EnrichedMintEvent {
	t.Helper()
	out := make([]models.EnrichedMintEvent, 0, n)
	for i := 0; i < n; i++ {
		select {
		case evt, ok := <-sub.Events():
			require.True(t, ok, "channel closed early")
			out = append(out, evt)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	return out
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	h := New(8)
	a, err := h.Register()
	require.NoError(t, err)
	b, err := h.Register()
	require.NoError(t, err)

	delivered := h.Publish(event("S1"))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []models.EnrichedMintEvent{event("S1")}, drain(t, a, 1))
	assert.Equal(t, []models.EnrichedMintEvent{event("S1")}, drain(t, b, 1))
	assert.Empty(t, a.Events())
	assert.Empty(t, b.Events())
}

func TestPublishPreservesOrder(t *testing.T) {
	h := New(16)
	sub, err := h.Register()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		h.Publish(event(fmt.Sprintf("S%d", i)))
	}

	got := drain(t, sub, 10)
	for i, evt := range got {
		assert.Equal(t, fmt.Sprintf("S%d", i), evt.Signature)
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	h := New(4)
	assert.Equal(t, 0, h.Publish(event("S1")))
	assert.Equal(t, uint64(1), h.GetStats().EventsPublished)
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	h := New(4)
	h.Publish(event("S1"))

	sub, err := h.Register()
	require.NoError(t, err)
	h.Publish(event("S2"))

	assert.Equal(t, "S2", drain(t, sub, 1)[0].Signature)
	assert.Empty(t, sub.Events())
}

func TestSlowSubscriberDropsWithoutBlockingOthers(t *testing.T) {
	reg := prometheus.NewRegistry()
	mm := metrics.NewManagerWithRegistry(reg, reg)

	h := New(2)
	h.SetMetricsManager(mm)
	slow, err := h.Register()
	require.NoError(t, err)
	fast, err := h.Register()
	require.NoError(t, err)

	var fastGot []models.EnrichedMintEvent
	for i := 0; i < 5; i++ {
		h.Publish(event(fmt.Sprintf("S%d", i)))
		fastGot = append(fastGot, drain(t, fast, 1)...)
	}

	assert.Len(t, fastGot, 5)
	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())

	kept := drain(t, slow, 2)
	assert.Equal(t, "S0", kept[0].Signature)
	assert.Equal(t, "S1", kept[1].Signature)

	stats := h.GetStats()
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Equal(t, uint64(7), stats.Deliveries)
	assert.Equal(t, 3.0, testutil.ToFloat64(mm.GetPrometheusMetrics().EventsDroppedTotal))
}

func TestDeregisterIsIdempotent(t *testing.T) {
	h := New(4)
	sub, err := h.Register()
	require.NoError(t, err)

	h.Deregister(sub)
	h.Deregister(sub)
	h.Deregister(nil)

	assert.Equal(t, 0, h.Count())
	_, ok := <-sub.Events()
	assert.False(t, ok)
	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestDeregisterDuringPublishIsSafe(t *testing.T) {
	h := New(1)
	keeper, err := h.Register()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			h.Publish(event(fmt.Sprintf("S%d", i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			sub, err := h.Register()
			if err != nil {
				return
			}
			h.Deregister(sub)
		}
	}()

	wg.Wait()
	assert.Equal(t, 1, h.Count())
	assert.Contains(t, h.SubscriberIDs(), keeper.ID)
}

func TestCloseClosesAllAndRejectsRegister(t *testing.T) {
	h := New(4)
	a, err := h.Register()
	require.NoError(t, err)
	b, err := h.Register()
	require.NoError(t, err)

	h.Close()
	h.Close()

	for _, sub := range []*Subscription{a, b} {
		_, ok := <-sub.Events()
		assert.False(t, ok)
	}
	h.Deregister(a)
	assert.Equal(t, 0, h.Publish(event("S1")))

	_, err = h.Register()
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.True(t, h.GetStats().Closed)
}
