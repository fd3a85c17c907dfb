// File: internal/processor/processor.go
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/enrichment"
	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// Skip reasons recorded by the processor itself
const (
	SkipDuplicate = "duplicate"
	SkipPanic     = "panic"
	SkipShutdown  = "shutdown"
	SkipError     = "error"
	SkipNoEvent   = "no_event"
)

// Processor defines the record processor interface
type Processor interface {
	// Lifecycle management
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool

	// Record processing
	Submit(ctx context.Context, record models.RawLogRecord) error

	// Statistics and monitoring
	GetStats() *ProcessorStats
	GetHealth() *ProcessorHealth
}

// MintDetector turns a log record into a detected mint, or nil
type MintDetector interface {
	Detect(ctx context.Context, record models.RawLogRecord) (*models.DetectedMintEvent, error)
}

// MetadataEnricher resolves token metadata for a mint
type MetadataEnricher interface {
	Enrich(ctx context.Context, mint string) enrichment.Result
}

// Publisher receives enriched events in arrival order
type Publisher interface {
	Publish(evt models.EnrichedMintEvent) int
}

// EventProcessor runs detect and enrich for each record concurrently and
// publishes the results in the order the records were submitted
type EventProcessor struct {
	// Dependencies
	detector  MintDetector
	enricher  MetadataEnricher
	publisher Publisher
	logger    *logrus.Entry

	// Configuration
	config *ProcessorConfig

	// State management
	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	queue    chan *job
	sem      chan struct{}
	wg       sync.WaitGroup
	seqDone  chan struct{}
	inFlight int

	seen *signatureSet

	// Statistics
	statsMu        sync.Mutex
	stats          *ProcessorStats
	totalDuration  time.Duration
	metricsManager *metrics.Manager
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	MaxConcurrentProcessing int           `json:"max_concurrent_processing"`
	QueueSize               int           `json:"queue_size"`
	ProcessingTimeout       time.Duration `json:"processing_timeout"`
	DedupSize               int           `json:"dedup_size"`
}

// ProcessorStats provides processor statistics
type ProcessorStats struct {
	StartTime             time.Time     `json:"start_time"`
	Uptime                time.Duration `json:"uptime"`
	IsRunning             bool          `json:"is_running"`
	RecordsReceived       uint64        `json:"records_received"`
	EventsPublished       uint64        `json:"events_published"`
	EventsDegraded        uint64        `json:"events_degraded"`
	RecordsSkipped        uint64        `json:"records_skipped"`
	Duplicates            uint64        `json:"duplicates"`
	Panics                uint64        `json:"panics"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	ErrorCount            uint64        `json:"error_count"`
	LastError             *string       `json:"last_error,omitempty"`
	LastErrorTime         *time.Time    `json:"last_error_time,omitempty"`
}

// ProcessorHealth provides processor health information
type ProcessorHealth struct {
	Healthy       bool     `json:"healthy"`
	Running       bool     `json:"running"`
	QueueDepth    int      `json:"queue_depth"`
	QueueCapacity int      `json:"queue_capacity"`
	InFlight      int      `json:"in_flight"`
	Issues        []string `json:"issues,omitempty"`
}

type job struct {
	record   models.RawLogRecord
	received time.Time
	done     chan struct{}

	event    *models.EnrichedMintEvent
	degraded bool
	skip     string
}

// NewEventProcessor creates a new record processor
func NewEventProcessor(detector MintDetector, enricher MetadataEnricher, publisher Publisher, config *ProcessorConfig) *EventProcessor {
	if config.MaxConcurrentProcessing <= 0 {
		config.MaxConcurrentProcessing = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = 45 * time.Second
	}

	return &EventProcessor{
		detector:  detector,
		enricher:  enricher,
		publisher: publisher,
		config:    config,
		logger:    utils.ComponentLogger("processor"),
		seen:      newSignatureSet(config.DedupSize),
		stats:     &ProcessorStats{},
	}
}

// SetMetricsManager attaches metrics recording
func (ep *EventProcessor) SetMetricsManager(m *metrics.Manager) {
	ep.statsMu.Lock()
	defer ep.statsMu.Unlock()
	ep.metricsManager = m
}

// Start starts the sequencer. The processor keeps values from ctx but not its
// cancellation; call Stop to shut it down.
func (ep *EventProcessor) Start(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Processor already running", "")
	}

	// Cancelling ctx must not abandon in-flight records; only Stop ends the run
	ep.ctx, ep.cancel = context.WithCancel(context.WithoutCancel(ctx))
	ep.queue = make(chan *job, ep.config.QueueSize)
	ep.sem = make(chan struct{}, ep.config.MaxConcurrentProcessing)
	ep.seqDone = make(chan struct{})
	ep.running = true

	ep.statsMu.Lock()
	ep.stats.StartTime = time.Now()
	ep.stats.IsRunning = true
	ep.statsMu.Unlock()

	go ep.sequence(ep.queue, ep.seqDone)

	ep.logger.WithFields(logrus.Fields{
		"max_concurrent": ep.config.MaxConcurrentProcessing,
		"queue_size":     ep.config.QueueSize,
	}).Info("Record processor started")
	return nil
}

// Stop rejects new records, lets in-flight records finish and waits for the
// sequencer to publish them
func (ep *EventProcessor) Stop() error {
	ep.mu.Lock()
	if !ep.running {
		ep.mu.Unlock()
		return nil
	}
	ep.logger.Info("Stopping record processor")
	ep.running = false
	close(ep.queue)
	seqDone, cancel := ep.seqDone, ep.cancel
	ep.mu.Unlock()

	<-seqDone
	ep.wg.Wait()
	cancel()

	ep.statsMu.Lock()
	ep.stats.IsRunning = false
	ep.statsMu.Unlock()

	ep.logger.Info("Record processor stopped")
	return nil
}

// IsRunning returns whether the processor is running
func (ep *EventProcessor) IsRunning() bool {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return ep.running
}

// Submit queues a record for processing. It blocks while the concurrency limit
// or the queue is saturated, which pushes back on the upstream reader.
func (ep *EventProcessor) Submit(ctx context.Context, record models.RawLogRecord) error {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	if !ep.running {
		return utils.NewAppError(utils.ErrCodeProcessing, "Processor is not running")
	}

	select {
	case ep.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-ep.ctx.Done():
		return ep.ctx.Err()
	}

	j := &job{record: record, received: time.Now(), done: make(chan struct{})}
	select {
	case ep.queue <- j:
	case <-ctx.Done():
		<-ep.sem
		return ctx.Err()
	case <-ep.ctx.Done():
		<-ep.sem
		return ep.ctx.Err()
	}

	ep.statsMu.Lock()
	ep.stats.RecordsReceived++
	ep.inFlight++
	ep.statsMu.Unlock()

	ep.wg.Add(1)
	go ep.run(j)
	return nil
}

// run executes detect and enrich for one record. Every exit resolves the job.
func (ep *EventProcessor) run(j *job) {
	defer ep.wg.Done()
	defer func() { <-ep.sem }()
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			j.event = nil
			j.skip = SkipPanic
			ep.recordError(fmt.Errorf("panic processing %s: %v", j.record.Signature, r))
			ep.logger.WithFields(logrus.Fields{
				"signature": j.record.Signature,
				"panic":     r,
			}).Error("Recovered panic while processing record")
		}
	}()

	ctx, cancel := context.WithTimeout(ep.ctx, ep.config.ProcessingTimeout)
	defer cancel()

	detected, err := ep.detector.Detect(ctx, j.record)
	if err != nil {
		j.skip = SkipError
		ep.recordError(err)
		ep.logger.WithError(err).WithField("signature", j.record.Signature).Error("Error processing transaction")
		return
	}
	if detected == nil {
		j.skip = SkipNoEvent
		return
	}

	result := ep.enricher.Enrich(ctx, detected.MintAddress)
	if ep.ctx.Err() != nil {
		j.skip = SkipShutdown
		return
	}

	evt := models.NewEnrichedMintEvent(*detected, result.Metadata)
	j.event = &evt
	j.degraded = result.Degraded
}

// sequence publishes finished jobs strictly in submission order
func (ep *EventProcessor) sequence(queue <-chan *job, done chan<- struct{}) {
	defer close(done)

	for j := range queue {
		<-j.done
		ep.finish(j)
	}
}

func (ep *EventProcessor) finish(j *job) {
	elapsed := time.Since(j.received)
	logger := ep.logger.WithField("signature", j.record.Signature)

	if j.event != nil && ep.seen.Contains(j.event.Signature) {
		j.event = nil
		j.skip = SkipDuplicate
		logger.Debug("Signature already published, skipping")
	}

	published := false
	if j.event != nil {
		ep.seen.Add(j.event.Signature)
		delivered := ep.publisher.Publish(*j.event)
		published = true
		logger.WithFields(logrus.Fields{
			"mint":        j.event.MintAddress,
			"degraded":    j.degraded,
			"subscribers": delivered,
		}).Info("Published mint event")
	}

	ep.statsMu.Lock()
	ep.inFlight--
	ep.totalDuration += elapsed
	processed := ep.stats.EventsPublished + ep.stats.RecordsSkipped + 1
	ep.stats.AverageProcessingTime = ep.totalDuration / time.Duration(processed)
	if published {
		ep.stats.EventsPublished++
		if j.degraded {
			ep.stats.EventsDegraded++
		}
	} else {
		ep.stats.RecordsSkipped++
		switch j.skip {
		case SkipDuplicate:
			ep.stats.Duplicates++
		case SkipPanic:
			ep.stats.Panics++
		}
	}
	mm := ep.metricsManager
	ep.statsMu.Unlock()

	if mm != nil {
		pm := mm.GetPrometheusMetrics()
		pm.RecordProcessingDuration(elapsed)
		switch j.skip {
		case SkipDuplicate, SkipPanic, SkipShutdown:
			pm.RecordRecordSkipped(j.skip)
		}
	}
}

func (ep *EventProcessor) recordError(err error) {
	ep.statsMu.Lock()
	defer ep.statsMu.Unlock()

	ep.stats.ErrorCount++
	msg := err.Error()
	now := time.Now()
	ep.stats.LastError = &msg
	ep.stats.LastErrorTime = &now
}

// GetStats returns a snapshot of processor statistics
func (ep *EventProcessor) GetStats() *ProcessorStats {
	ep.statsMu.Lock()
	defer ep.statsMu.Unlock()

	stats := *ep.stats
	if stats.IsRunning {
		stats.Uptime = time.Since(stats.StartTime)
	}
	return &stats
}

// GetHealth returns processor health information
func (ep *EventProcessor) GetHealth() *ProcessorHealth {
	ep.mu.RLock()
	running := ep.running
	depth := len(ep.queue)
	ep.mu.RUnlock()

	ep.statsMu.Lock()
	inFlight := ep.inFlight
	ep.statsMu.Unlock()

	health := &ProcessorHealth{
		Running:       running,
		QueueDepth:    depth,
		QueueCapacity: ep.config.QueueSize,
		InFlight:      inFlight,
	}
	if !running {
		health.Issues = append(health.Issues, "processor is not running")
	}
	if depth*10 >= ep.config.QueueSize*9 && depth > 0 {
		health.Issues = append(health.Issues, "processing queue is nearly full")
	}
	health.Healthy = len(health.Issues) == 0
	return health
}
