// File: internal/relay/relay.go
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/hub"
	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// Sink delivers enriched events to an external system
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt models.EnrichedMintEvent) error
	Close() error
}

// Source is the hub side a relay subscribes to
type Source interface {
	Register() (*hub.Subscription, error)
	Deregister(sub *hub.Subscription)
}

// Relay is a hub subscriber that forwards every event to its sinks in order.
// A failing sink is logged and skipped; it never blocks the other sinks.
type Relay struct {
	source Source
	sinks  []Sink
	logger *logrus.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	sub     *hub.Subscription
	done    chan struct{}

	statsMu        sync.Mutex
	stats          Stats
	metricsManager *metrics.Manager
}

// Stats holds relay delivery counters
type Stats struct {
	Sinks         []string   `json:"sinks"`
	Delivered     uint64     `json:"delivered"`
	Failed        uint64     `json:"failed"`
	LastError     *string    `json:"last_error,omitempty"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty"`
}

// NewRelay creates a relay over the given sinks
func NewRelay(source Source, sinks ...Sink) *Relay {
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	return &Relay{
		source: source,
		sinks:  sinks,
		logger: utils.ComponentLogger("relay"),
		stats:  Stats{Sinks: names},
	}
}

// SetMetricsManager attaches metrics recording
func (r *Relay) SetMetricsManager(m *metrics.Manager) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.metricsManager = m
}

// Start registers with the hub and begins forwarding. Forwarding ends when the
// subscription is closed by Stop or by the hub closing, not when ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Relay already running")
	}

	sub, err := r.source.Register()
	if err != nil {
		return utils.WrapError(utils.ErrCodeInternal, "Failed to subscribe relay", err)
	}

	// Deliveries outlive ctx so Stop can drain what the hub already buffered
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.sub = sub
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.forward(runCtx, sub, r.done)

	r.logger.WithField("sinks", r.stats.Sinks).Info("Relay started")
	return nil
}

// Stop deregisters from the hub, waits for buffered events to be forwarded and closes the sinks
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel, sub, done := r.cancel, r.sub, r.done
	r.mu.Unlock()

	// Deregistering closes the channel, so the forwarder drains what is buffered and exits
	r.source.Deregister(sub)
	<-done
	cancel()

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.logger.WithError(err).WithField("sink", s.Name()).Error("Failed to close sink")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	r.logger.Info("Relay stopped")
	return firstErr
}

func (r *Relay) forward(ctx context.Context, sub *hub.Subscription, done chan<- struct{}) {
	defer close(done)

	for evt := range sub.Events() {
		for _, s := range r.sinks {
			r.deliver(ctx, s, evt)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, s Sink, evt models.EnrichedMintEvent) {
	start := time.Now()
	err := s.Deliver(ctx, evt)
	duration := time.Since(start)

	r.statsMu.Lock()
	if err != nil {
		r.stats.Failed++
		msg := err.Error()
		now := time.Now()
		r.stats.LastError = &msg
		r.stats.LastErrorTime = &now
	} else {
		r.stats.Delivered++
	}
	mm := r.metricsManager
	r.statsMu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
		r.logger.WithError(err).WithFields(logrus.Fields{
			"sink":      s.Name(),
			"signature": evt.Signature,
		}).Error("Relay delivery failed")
	}
	if mm != nil {
		mm.GetPrometheusMetrics().RecordRelayDelivery(s.Name(), status, duration)
	}
}

// GetStats returns relay statistics
func (r *Relay) GetStats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}
