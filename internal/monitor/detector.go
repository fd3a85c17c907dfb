package monitor

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/connection"
	"github.com/smartdevs17/solana-mint-listener/internal/metrics"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// DefaultInstructionMarker identifies a mint initialization in program logs
const DefaultInstructionMarker = "Program log: Instruction: InitializeMint2"

// Skip reasons reported to metrics
const (
	SkipNoMarker      = "no_marker"
	SkipNoSignature   = "no_signature"
	SkipNotFound      = "not_found"
	SkipNoMintBalance = "no_mint_balance"
	SkipLookupError   = "lookup_error"
)

// Detector decides whether a log record announces a new mint and extracts it
type Detector struct {
	fetcher        connection.TransactionFetcher
	marker         string
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewDetector creates a new detector. An empty marker selects the default.
func NewDetector(fetcher connection.TransactionFetcher, marker string) *Detector {
	if marker == "" {
		marker = DefaultInstructionMarker
	}
	return &Detector{
		fetcher: fetcher,
		marker:  marker,
		logger:  utils.ComponentLogger("detector"),
	}
}

// SetMetricsManager attaches metrics recording
func (d *Detector) SetMetricsManager(m *metrics.Manager) {
	d.metricsManager = m
}

// Matches reports whether any log line contains the marker
func (d *Detector) Matches(record models.RawLogRecord) bool {
	return lo.SomeBy(record.Logs, func(line string) bool {
		return strings.Contains(line, d.marker)
	})
}

// Detect returns the mint announced by record, or nil when the record is not a
// usable mint creation. Only transport failures of the lookup are returned as errors.
func (d *Detector) Detect(ctx context.Context, record models.RawLogRecord) (*models.DetectedMintEvent, error) {
	if !d.Matches(record) {
		d.skip(SkipNoMarker)
		return nil, nil
	}

	logger := d.logger.WithField("slot", record.Slot)
	logger.Debug("Detected mint instruction in logs")

	if record.Signature == "" {
		logger.Warn("Mint instruction without signature, skipping")
		d.skip(SkipNoSignature)
		return nil, nil
	}
	logger = logger.WithField("signature", record.Signature)

	tx, err := d.fetcher.GetMintTransaction(ctx, record.Signature)
	if errors.Is(err, connection.ErrTransactionNotFound) {
		logger.Debug("Transaction not found")
		d.skip(SkipNotFound)
		return nil, nil
	}
	if err != nil {
		d.skip(SkipLookupError)
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Transaction lookup failed", err)
	}

	// The first balance carrying a mint is taken as the new mint. Transactions that
	// touch several mints may therefore report an unrelated one.
	balance, ok := lo.Find(tx.PostTokenBalances, func(b models.TokenBalance) bool {
		return b.Mint != ""
	})
	if !ok {
		logger.Warn("No mint address found in post token balances")
		d.skip(SkipNoMintBalance)
		return nil, nil
	}

	detected := &models.DetectedMintEvent{
		Signature:   record.Signature,
		MintAddress: balance.Mint,
		Creator:     models.Unknown,
	}
	if len(tx.AccountKeys) > 0 && tx.AccountKeys[0] != "" {
		detected.Creator = tx.AccountKeys[0]
	}
	if balance.Decimals != nil {
		detected.Decimals = models.KnownDecimals(*balance.Decimals)
	}

	if d.metricsManager != nil {
		d.metricsManager.GetPrometheusMetrics().RecordMintDetected()
	}
	logger.WithFields(logrus.Fields{
		"mint":    detected.MintAddress,
		"creator": detected.Creator,
	}).Info("Mint detected")

	return detected, nil
}

func (d *Detector) skip(reason string) {
	if d.metricsManager != nil {
		d.metricsManager.GetPrometheusMetrics().RecordRecordSkipped(reason)
	}
}
