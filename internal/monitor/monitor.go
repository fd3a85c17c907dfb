// File: internal/monitor/monitor.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/connection"
	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// Monitor defines the upstream subscription manager interface
type Monitor interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// Statistics and monitoring
	GetStats() *MonitorStats
	GetHealth() *HealthStatus
}

// RecordHandler receives every log record in arrival order. It may block to
// apply backpressure and must return once ctx is done.
type RecordHandler func(ctx context.Context, record models.RawLogRecord) error

// EventMonitor keeps exactly one log subscription open for the program and
// re-establishes it when it drops
type EventMonitor struct {
	// Dependencies
	streamer connection.LogStreamer
	handler  RecordHandler
	logger   *logrus.Entry

	// Configuration
	config *MonitorConfig

	// State management
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	sub     event.Subscription

	// Statistics
	stats          *MonitorStats
	metricsManager *metrics.Manager
}

// MonitorConfig holds monitor configuration
type MonitorConfig struct {
	ProgramID           string        `json:"program_id"`
	ReconnectBackoffMax time.Duration `json:"reconnect_backoff_max"`
}

// MonitorStats provides monitoring statistics
type MonitorStats struct {
	StartTime         time.Time     `json:"start_time"`
	Uptime            time.Duration `json:"uptime"`
	IsRunning         bool          `json:"is_running"`
	Subscribed        bool          `json:"subscribed"`
	ProgramID         string        `json:"program_id"`
	RecordsReceived   uint64        `json:"records_received"`
	Subscriptions     uint64        `json:"subscriptions"`
	Reconnects        uint64        `json:"reconnects"`
	SubscribeFailures uint64        `json:"subscribe_failures"`
	LastRecordAt      *time.Time    `json:"last_record_at,omitempty"`
	ErrorCount        uint64        `json:"error_count"`
	LastError         *string       `json:"last_error,omitempty"`
	LastErrorTime     *time.Time    `json:"last_error_time,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy      bool       `json:"healthy"`
	Running      bool       `json:"running"`
	Subscribed   bool       `json:"subscribed"`
	LastRecordAt *time.Time `json:"last_record_at,omitempty"`
	Issues       []string   `json:"issues,omitempty"`
}

// NewEventMonitor creates a new event monitor
func NewEventMonitor(streamer connection.LogStreamer, handler RecordHandler, config *MonitorConfig) *EventMonitor {
	if config.ReconnectBackoffMax <= 0 {
		config.ReconnectBackoffMax = 30 * time.Second
	}
	return &EventMonitor{
		streamer: streamer,
		handler:  handler,
		config:   config,
		logger:   utils.ComponentLogger("monitor").WithField("program_id", config.ProgramID),
		stats: &MonitorStats{
			ProgramID: config.ProgramID,
		},
	}
}

// SetMetricsManager attaches metrics recording
func (em *EventMonitor) SetMetricsManager(m *metrics.Manager) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.metricsManager = m
}

// Start opens the subscription. It returns immediately; failures to subscribe
// are retried in the background with capped backoff.
func (em *EventMonitor) Start(ctx context.Context) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Monitor already running", "")
	}

	em.logger.Info("Starting event monitor")

	runCtx, cancel := context.WithCancel(ctx)
	em.cancel = cancel
	em.running = true
	em.stats.StartTime = time.Now()
	em.stats.IsRunning = true

	// The context handed to the resubscribe func is cancelled once it returns,
	// so the stream is bound to runCtx instead.
	em.sub = event.ResubscribeErr(em.config.ReconnectBackoffMax, func(_ context.Context, lastErr error) (event.Subscription, error) {
		if lastErr != nil {
			em.recordReconnect(lastErr)
		}
		return em.subscribe(runCtx)
	})

	em.logger.WithField("reconnect_backoff_max", em.config.ReconnectBackoffMax).Info("Event monitor started")
	return nil
}

// Stop tears down the active subscription and waits for the reader to exit
func (em *EventMonitor) Stop() error {
	em.mu.Lock()
	if !em.running {
		em.mu.Unlock()
		return nil
	}
	em.logger.Info("Stopping event monitor")

	em.running = false
	em.stats.IsRunning = false
	cancel, sub := em.cancel, em.sub
	em.mu.Unlock()

	cancel()
	sub.Unsubscribe()

	em.setSubscribed(false)
	em.logger.Info("Event monitor stopped")
	return nil
}

// IsRunning returns whether the monitor is running
func (em *EventMonitor) IsRunning() bool {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.running
}

// subscribe opens one log stream and wraps its reader in an event.Subscription.
// The reader returns an error when the stream drops, which triggers a resubscribe.
func (em *EventMonitor) subscribe(ctx context.Context) (event.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := em.streamer.SubscribeLogs(ctx, em.config.ProgramID)
	if err != nil {
		em.recordSubscribeFailure(err)
		return nil, err
	}
	em.recordSubscribed()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer stream.Close()
		defer em.setSubscribed(false)

		recvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-recvCtx.Done():
			}
		}()

		for {
			record, err := stream.Recv(recvCtx)
			if err != nil {
				if recvCtx.Err() != nil {
					return nil
				}
				em.logger.WithError(err).Warn("Log subscription dropped")
				return err
			}

			em.recordReceived()
			if err := em.handler(recvCtx, *record); err != nil {
				if recvCtx.Err() != nil {
					return nil
				}
				em.logger.WithError(err).WithField("signature", record.Signature).Error("Record handler failed")
			}
		}
	}), nil
}

func (em *EventMonitor) recordReceived() {
	now := time.Now()
	em.mu.Lock()
	em.stats.RecordsReceived++
	em.stats.LastRecordAt = &now
	mm := em.metricsManager
	em.mu.Unlock()

	if mm != nil {
		mm.GetPrometheusMetrics().RecordLogRecordReceived()
	}
}

func (em *EventMonitor) recordSubscribed() {
	em.mu.Lock()
	em.stats.Subscriptions++
	em.stats.Subscribed = true
	mm := em.metricsManager
	em.mu.Unlock()

	if mm != nil {
		pm := mm.GetPrometheusMetrics()
		pm.RecordSubscription("success")
		pm.UpdateSubscriptionActive(true)
		pm.UpdateComponentHealth("monitor", true)
	}
	em.logger.Info("Log subscription established")
}

func (em *EventMonitor) recordSubscribeFailure(err error) {
	em.recordError(err)

	em.mu.Lock()
	em.stats.SubscribeFailures++
	mm := em.metricsManager
	em.mu.Unlock()

	if mm != nil {
		mm.GetPrometheusMetrics().RecordSubscription("error")
	}
	em.logger.WithError(err).Error("Failed to subscribe to program logs")
}

func (em *EventMonitor) recordReconnect(lastErr error) {
	em.recordError(lastErr)

	em.mu.Lock()
	em.stats.Reconnects++
	reconnects := em.stats.Reconnects
	em.mu.Unlock()

	em.logger.WithFields(logrus.Fields{
		"reconnects": reconnects,
		"last_error": lastErr.Error(),
	}).Warn("Re-establishing log subscription")
}

func (em *EventMonitor) setSubscribed(subscribed bool) {
	em.mu.Lock()
	em.stats.Subscribed = subscribed
	mm := em.metricsManager
	em.mu.Unlock()

	if mm != nil {
		mm.GetPrometheusMetrics().UpdateSubscriptionActive(subscribed)
		if !subscribed {
			mm.GetPrometheusMetrics().UpdateComponentHealth("monitor", false)
		}
	}
}

func (em *EventMonitor) recordError(err error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.stats.ErrorCount++
	msg := err.Error()
	now := time.Now()
	em.stats.LastError = &msg
	em.stats.LastErrorTime = &now
}

// GetStats returns a snapshot of monitor statistics
func (em *EventMonitor) GetStats() *MonitorStats {
	em.mu.RLock()
	defer em.mu.RUnlock()

	stats := *em.stats
	if em.running {
		stats.Uptime = time.Since(stats.StartTime)
	}
	return &stats
}

// GetHealth returns the monitor health status
func (em *EventMonitor) GetHealth() *HealthStatus {
	em.mu.RLock()
	defer em.mu.RUnlock()

	health := &HealthStatus{
		Running:      em.running,
		Subscribed:   em.stats.Subscribed,
		LastRecordAt: em.stats.LastRecordAt,
	}
	if !em.running {
		health.Issues = append(health.Issues, "monitor is not running")
	}
	if em.running && !em.stats.Subscribed {
		health.Issues = append(health.Issues, "log subscription is not established")
	}
	health.Healthy = len(health.Issues) == 0
	return health
}
