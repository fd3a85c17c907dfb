package connection

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/smartdevs17/solana-mint-listener/internal/config"
	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// Manager defines the connection manager interface
type Manager interface {
	GetClient() *rpc.Client
	DialStream(ctx context.Context) (*ws.Client, error)
	HealthCheckWithContext(ctx context.Context) error
	IsConnected() bool
	Close() error
	Stats() ConnectionStats
}

// ConnectionManager owns the provider endpoints, the shared HTTP RPC client and the outbound rate limit
type ConnectionManager struct {
	config         *config.SolanaConfig
	client         *rpc.Client
	limiter        ratelimit.Limiter
	mu             sync.RWMutex
	logger         *logrus.Entry
	stats          ConnectionStats
	isHealthy      bool
	closed         bool
	metricsManager *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	StreamDials     uint64    `json:"stream_dials"`
	FailedDials     uint64    `json:"failed_dials"`
	RPCURL          string    `json:"rpc_url"`
	WSURL           string    `json:"ws_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(cfg *config.SolanaConfig) *ConnectionManager {
	return &ConnectionManager{
		config:  cfg,
		client:  rpc.New(cfg.RPCURL),
		limiter: NewLimiter(cfg.RequestsPerSecond),
		logger:  utils.ComponentLogger("connection"),
		stats: ConnectionStats{
			RPCURL: RedactURL(cfg.RPCURL),
			WSURL:  RedactURL(cfg.WSURL),
		},
	}
}

// NewLimiter returns a limiter for rps requests per second, unlimited when rps <= 0
func NewLimiter(rps int) ratelimit.Limiter {
	if rps <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(rps)
}

// SetMetricsManager attaches metrics recording
func (cm *ConnectionManager) SetMetricsManager(m *metrics.Manager) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.metricsManager = m
}

// GetClient returns the shared HTTP RPC client
func (cm *ConnectionManager) GetClient() *rpc.Client {
	return cm.client
}

// Take blocks until the next outbound request is allowed. It returns ctx's error
// when ctx ended during the wait, in which case the request should not be sent.
func (cm *ConnectionManager) Take(ctx context.Context) error {
	cm.limiter.Take()
	return ctx.Err()
}

// DialStream opens a new websocket connection to the provider.
// The returned client outlives ctx; callers close it.
func (cm *ConnectionManager) DialStream(ctx context.Context) (*ws.Client, error) {
	cm.mu.RLock()
	closed := cm.closed
	cm.mu.RUnlock()
	if closed {
		return nil, utils.NewAppError(utils.ErrCodeConnection, "Connection manager is closed")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cm.config.RequestTimeout)
	defer cancel()

	client, err := ws.Connect(dialCtx, cm.config.WSURL)

	cm.mu.Lock()
	cm.stats.StreamDials++
	if err != nil {
		cm.stats.FailedDials++
	} else {
		cm.stats.LastConnectedAt = time.Now()
	}
	mm := cm.metricsManager
	cm.mu.Unlock()

	if err != nil {
		if mm != nil {
			mm.GetPrometheusMetrics().RecordConnectionError("ws", "dial_failed")
		}
		cm.logger.WithError(err).WithField("url", cm.stats.WSURL).Warn("Websocket dial failed")
		return nil, utils.WrapError(utils.ErrCodeConnection, "Failed to connect to Solana websocket", err)
	}

	cm.logger.WithField("url", cm.stats.WSURL).Info("Connected to Solana websocket")
	return client, nil
}

// HealthCheckWithContext asks the provider for its health status
func (cm *ConnectionManager) HealthCheckWithContext(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	status, err := cm.client.GetHealth(checkCtx)
	healthy := err == nil && status == rpc.HealthOk

	cm.mu.Lock()
	cm.isHealthy = healthy
	cm.stats.IsHealthy = healthy
	cm.stats.LastHealthCheck = time.Now()
	mm := cm.metricsManager
	cm.mu.Unlock()

	if mm != nil {
		mm.GetPrometheusMetrics().UpdateComponentHealth("solana_rpc", healthy)
	}

	if err != nil {
		return utils.WrapError(utils.ErrCodeConnection, "Health check failed", err)
	}
	if !healthy {
		return utils.NewAppError(utils.ErrCodeConnection, "Node reported unhealthy", status)
	}
	return nil
}

// RecordRequest updates request counters for an outbound RPC call
func (cm *ConnectionManager) RecordRequest(method string, start time.Time, err error) {
	cm.mu.Lock()
	cm.stats.TotalRequests++
	if err != nil {
		cm.stats.FailedRequests++
	}
	mm := cm.metricsManager
	cm.mu.Unlock()

	if mm == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		mm.GetPrometheusMetrics().RecordConnectionError("rpc", method)
	}
	mm.GetPrometheusMetrics().RecordRPCRequest(method, status, time.Since(start))
}

// IsConnected returns whether the last health check passed
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return !cm.closed && cm.isHealthy
}

// Close releases the HTTP client
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true
	cm.isHealthy = false

	err := cm.client.Close()
	cm.logger.Info("Connection manager closed")
	return err
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats
}

// RedactURL hides the api-key query parameter so URLs can be logged
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("api-key") {
		q.Set("api-key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
