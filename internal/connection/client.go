package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// ErrTransactionNotFound is returned when the provider has no record of a signature
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrStreamClosed is returned by Recv once the stream has been closed
var ErrStreamClosed = errors.New("log stream closed")

// TransactionFetcher looks up a parsed transaction by signature
type TransactionFetcher interface {
	GetMintTransaction(ctx context.Context, signature string) (*models.MintTransaction, error)
}

// LogStream is one open program log subscription
type LogStream interface {
	Recv(ctx context.Context) (*models.RawLogRecord, error)
	Close()
}

// LogStreamer opens program log subscriptions
type LogStreamer interface {
	SubscribeLogs(ctx context.Context, programID string) (LogStream, error)
}

// SolanaClient wraps the solana-go clients with listener-specific functionality
type SolanaClient struct {
	manager    *ConnectionManager
	commitment rpc.CommitmentType
	logger     *logrus.Entry
}

// NewSolanaClient creates a new Solana client wrapper
func NewSolanaClient(manager *ConnectionManager) *SolanaClient {
	commitment := rpc.CommitmentType(manager.config.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentFinalized
	}
	return &SolanaClient{
		manager:    manager,
		commitment: commitment,
		logger:     utils.ComponentLogger("solana_client"),
	}
}

// GetMintTransaction fetches a transaction in jsonParsed encoding and reduces it to a MintTransaction
func (sc *SolanaClient) GetMintTransaction(ctx context.Context, signature string) (*models.MintTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid transaction signature", err.Error())
	}

	if err := sc.manager.Take(ctx); err != nil {
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Transaction lookup abandoned", err)
	}

	maxVersion := uint64(0)
	start := time.Now()
	result, err := sc.manager.GetClient().GetParsedTransaction(ctx, sig, &rpc.GetParsedTransactionOpts{
		Commitment:                     sc.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})

	if errors.Is(err, rpc.ErrNotFound) {
		sc.manager.RecordRequest("getTransaction", start, nil)
		return nil, ErrTransactionNotFound
	}
	sc.manager.RecordRequest("getTransaction", start, err)
	if err != nil {
		sc.logger.WithError(err).WithField("signature", signature).Error("Failed to get transaction")
		return nil, utils.WrapError(utils.ErrCodeBlockchain, "Failed to get transaction", err)
	}
	if result == nil || result.Transaction == nil {
		return nil, ErrTransactionNotFound
	}

	return ConvertParsedTransaction(signature, result), nil
}

// ConvertParsedTransaction extracts account keys and post token balances from a parsed transaction
func ConvertParsedTransaction(signature string, result *rpc.GetParsedTransactionResult) *models.MintTransaction {
	tx := &models.MintTransaction{
		Signature: signature,
		Slot:      result.Slot,
	}

	if result.Transaction != nil {
		for _, account := range result.Transaction.Message.AccountKeys {
			tx.AccountKeys = append(tx.AccountKeys, account.PublicKey.String())
		}
	}

	if result.Meta != nil {
		for _, balance := range result.Meta.PostTokenBalances {
			tb := models.TokenBalance{
				AccountIndex: balance.AccountIndex,
			}
			if !balance.Mint.IsZero() {
				tb.Mint = balance.Mint.String()
			}
			if balance.Owner != nil {
				tb.Owner = balance.Owner.String()
			}
			if balance.UiTokenAmount != nil {
				decimals := balance.UiTokenAmount.Decimals
				tb.Decimals = &decimals
			}
			tx.PostTokenBalances = append(tx.PostTokenBalances, tb)
		}
	}

	return tx
}

// SubscribeLogs opens a websocket and subscribes to logs mentioning programID
func (sc *SolanaClient) SubscribeLogs(ctx context.Context, programID string) (LogStream, error) {
	program, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid program id", err.Error())
	}

	client, err := sc.manager.DialStream(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := client.LogsSubscribeMentions(program, sc.commitment)
	if err != nil {
		client.Close()
		return nil, utils.WrapError(utils.ErrCodeConnection, "Failed to subscribe to program logs", err)
	}

	sc.logger.WithFields(logrus.Fields{
		"program_id": programID,
		"commitment": sc.commitment,
	}).Info("Subscribed to program logs")

	return &wsLogStream{client: client, sub: sub, closed: make(chan struct{})}, nil
}

// wsLogStream adapts a solana-go log subscription to LogStream
type wsLogStream struct {
	client    *ws.Client
	sub       *ws.LogSubscription
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *wsLogStream) Recv(ctx context.Context) (*models.RawLogRecord, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	default:
	}

	got, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, ErrStreamClosed
	}
	return ConvertLogResult(got), nil
}

func (s *wsLogStream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.sub.Unsubscribe()
		s.client.Close()
	})
}

// ConvertLogResult maps a websocket log notification to a RawLogRecord
func ConvertLogResult(got *ws.LogResult) *models.RawLogRecord {
	record := &models.RawLogRecord{
		Slot: got.Context.Slot,
		Logs: got.Value.Logs,
		Err:  got.Value.Err,
	}
	if got.Value.Signature != (solana.Signature{}) {
		record.Signature = got.Value.Signature.String()
	}
	return record
}
