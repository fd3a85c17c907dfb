package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// DefaultBufferSize is the per-subscriber channel capacity
const DefaultBufferSize = 256

// ErrHubClosed is returned by Register after Close
var ErrHubClosed = utils.NewAppError(utils.ErrCodeInternal, "Broadcast hub is closed")

// Subscription is one registered receiver
type Subscription struct {
	ID           uint64
	RegisteredAt time.Time

	ch      chan models.EnrichedMintEvent
	done    chan struct{}
	dropped atomic.Uint64
}

// Events returns the receive side of the subscription. It is closed on deregistration.
func (s *Subscription) Events() <-chan models.EnrichedMintEvent {
	return s.ch
}

// Done is closed when the subscription is removed from the hub
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped is the number of events this subscriber missed on a full buffer
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Stats holds hub statistics
type Stats struct {
	Subscribers     int       `json:"subscribers"`
	TotalRegistered uint64    `json:"total_registered"`
	EventsPublished uint64    `json:"events_published"`
	Deliveries      uint64    `json:"deliveries"`
	Dropped         uint64    `json:"dropped"`
	LastPublishedAt time.Time `json:"last_published_at"`
	BufferSize      int       `json:"buffer_size"`
	Closed          bool      `json:"closed"`
}

// Hub fans every published event out to all registered subscriptions.
// Register, Deregister and Close hold the write lock; Publish holds the read lock
// and never blocks, so channels are only closed when no send is in flight.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool

	statsMu sync.Mutex
	stats   Stats

	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// New creates a hub with the given per-subscriber buffer size
func New(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		stats:      Stats{BufferSize: bufferSize},
		logger:     utils.ComponentLogger("hub"),
	}
}

// SetMetricsManager attaches metrics recording
func (h *Hub) SetMetricsManager(m *metrics.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metricsManager = m
}

// Register adds a new subscription
func (h *Hub) Register() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	sub := &Subscription{
		ID:           h.nextID,
		RegisteredAt: time.Now(),
		ch:           make(chan models.EnrichedMintEvent, h.bufferSize),
		done:         make(chan struct{}),
	}
	h.subs[sub.ID] = sub
	count := len(h.subs)

	h.statsMu.Lock()
	h.stats.TotalRegistered++
	h.statsMu.Unlock()

	if h.metricsManager != nil {
		h.metricsManager.GetPrometheusMetrics().UpdateSubscribers(count)
	}
	h.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"subscribers":     count,
	}).Info("Subscriber registered")

	return sub, nil
}

// Deregister removes a subscription and closes its channel. Safe to call more than once.
func (h *Hub) Deregister(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	closeSubscription(sub)
	count := len(h.subs)

	if h.metricsManager != nil {
		h.metricsManager.GetPrometheusMetrics().UpdateSubscribers(count)
	}
	h.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"subscribers":     count,
		"dropped":         sub.Dropped(),
	}).Info("Subscriber deregistered")
}

// Publish delivers evt to every subscription registered at call time and returns
// the number of subscriptions that accepted it. A full buffer drops the event for
// that subscriber only.
func (h *Hub) Publish(evt models.EnrichedMintEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}

	delivered, dropped := 0, 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- evt:
			delivered++
		default:
			dropped++
			sub.dropped.Add(1)
			h.logger.WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"signature":       evt.Signature,
			}).Warn("Subscriber buffer full, dropping event")
		}
	}

	h.statsMu.Lock()
	h.stats.EventsPublished++
	h.stats.Deliveries += uint64(delivered)
	h.stats.Dropped += uint64(dropped)
	h.stats.LastPublishedAt = time.Now()
	h.statsMu.Unlock()

	if h.metricsManager != nil {
		pm := h.metricsManager.GetPrometheusMetrics()
		pm.RecordEventPublished()
		for i := 0; i < dropped; i++ {
			pm.RecordEventDropped()
		}
	}

	return delivered
}

// Close deregisters every subscription and rejects future registrations
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, sub := range h.subs {
		delete(h.subs, id)
		closeSubscription(sub)
	}

	h.statsMu.Lock()
	h.stats.Closed = true
	h.statsMu.Unlock()

	if h.metricsManager != nil {
		h.metricsManager.GetPrometheusMetrics().UpdateSubscribers(0)
	}
	h.logger.Info("Broadcast hub closed")
}

// Count returns the number of registered subscriptions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// SubscriberIDs returns the registered subscription ids
func (h *Hub) SubscriberIDs() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Keys(h.subs)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	count := h.Count()

	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	stats := h.stats
	stats.Subscribers = count
	return stats
}

func closeSubscription(sub *Subscription) {
	close(sub.done)
	close(sub.ch)
}
