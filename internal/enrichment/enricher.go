package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// DefaultPlaceholderImage is used on the success path when the asset has no image link
const DefaultPlaceholderImage = "/placeholder.jpg"

// Degradation reasons
const (
	ReasonHTTPStatus  = "http_status"
	ReasonTransport   = "transport"
	ReasonDecode      = "decode"
	ReasonRPCError    = "rpc_error"
	ReasonNoResult    = "no_result"
	ReasonNoTokenInfo = "no_token_info"
	ReasonNoContent   = "no_content"
	ReasonContextDone = "context_done"
)

// Result is the outcome of one metadata lookup. Metadata is always fully populated.
type Result struct {
	Metadata models.TokenMetadata
	Degraded bool
	Reason   string
}

// AssetFetcher fetches a DAS asset for a mint
type AssetFetcher interface {
	GetAsset(ctx context.Context, mint string) (*Asset, error)
}

// Enricher turns a mint address into token metadata
type Enricher struct {
	fetcher          AssetFetcher
	placeholderImage string
	limiter          ratelimit.Limiter
	logger           *logrus.Entry
	metricsManager   *metrics.Manager
}

// Option configures an Enricher
type Option func(*Enricher)

// WithPlaceholderImage overrides the success-path fallback image
func WithPlaceholderImage(image string) Option {
	return func(e *Enricher) {
		if image != "" {
			e.placeholderImage = image
		}
	}
}

// WithLimiter applies an outbound rate limit to lookups
func WithLimiter(l ratelimit.Limiter) Option {
	return func(e *Enricher) {
		e.limiter = l
	}
}

// WithMetrics records lookup outcomes
func WithMetrics(m *metrics.Manager) Option {
	return func(e *Enricher) {
		e.metricsManager = m
	}
}

// NewEnricher creates a new enricher
func NewEnricher(fetcher AssetFetcher, opts ...Option) *Enricher {
	e := &Enricher{
		fetcher:          fetcher,
		placeholderImage: DefaultPlaceholderImage,
		limiter:          ratelimit.NewUnlimited(),
		logger:           utils.ComponentLogger("enricher"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich looks up metadata for mint. It never fails: every failure yields the degraded record.
func (e *Enricher) Enrich(ctx context.Context, mint string) Result {
	start := time.Now()
	e.limiter.Take()

	var asset *Asset
	err := ctx.Err()
	if err == nil {
		asset, err = e.fetcher.GetAsset(ctx, mint)
	}
	result := e.buildResult(asset, err)

	logger := e.logger.WithField("mint", mint)
	if result.Degraded {
		entry := logger.WithField("reason", result.Reason)
		if err != nil {
			entry = entry.WithError(err)
		}
		if result.Reason == ReasonNoResult || result.Reason == ReasonNoTokenInfo {
			entry.Warn("No asset data found")
		} else {
			entry.Error("Metadata lookup failed")
		}
	} else {
		logger.WithField("symbol", result.Metadata.Symbol).Debug("Metadata resolved")
	}

	if e.metricsManager != nil {
		status := "success"
		if result.Degraded {
			status = "degraded"
		}
		e.metricsManager.GetPrometheusMetrics().RecordEnrichment(status, time.Since(start))
	}

	return result
}

func (e *Enricher) buildResult(asset *Asset, err error) Result {
	if err != nil {
		return degraded(reasonFor(err))
	}
	if asset == nil {
		return degraded(ReasonNoResult)
	}
	if asset.TokenInfo == nil {
		return degraded(ReasonNoTokenInfo)
	}
	if asset.Content == nil {
		return degraded(ReasonNoContent)
	}

	info := asset.TokenInfo
	meta := models.TokenMetadata{
		Name:     models.UnknownToken,
		Symbol:   models.NotAvailable,
		Image:    e.placeholderImage,
		Currency: models.NotAvailable,
		Supply:   parseSupply(info.Supply.String()),
	}

	if asset.Content.Metadata != nil && asset.Content.Metadata.Name != "" {
		meta.Name = asset.Content.Metadata.Name
	}
	if asset.Content.Links != nil && asset.Content.Links.Image != "" {
		meta.Image = asset.Content.Links.Image
	}
	if info.Symbol != "" {
		meta.Symbol = info.Symbol
	}
	if info.PriceInfo != nil {
		if info.PriceInfo.PricePerToken != nil {
			meta.Price = models.KnownPrice(*info.PriceInfo.PricePerToken)
		}
		if info.PriceInfo.Currency != "" {
			meta.Currency = info.PriceInfo.Currency
		}
	}
	meta.MarketCap = MarketCap(meta.Price, meta.Supply)

	return Result{Metadata: meta}
}

func degraded(reason string) Result {
	return Result{
		Metadata: models.DegradedMetadata(),
		Degraded: true,
		Reason:   reason,
	}
}

func reasonFor(err error) string {
	var statusErr *StatusError
	var decodeErr *DecodeError
	var rpcErr *RPCError

	switch {
	case errors.As(err, &statusErr):
		return ReasonHTTPStatus
	case errors.As(err, &decodeErr):
		return ReasonDecode
	case errors.As(err, &rpcErr):
		return ReasonRPCError
	case errors.Is(err, ErrAssetNotFound):
		return ReasonNoResult
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonContextDone
	default:
		return ReasonTransport
	}
}
