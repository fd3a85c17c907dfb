package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/solana-mint-listener/internal/connection"
	"github.com/smartdevs17/solana-mint-listener/internal/models"
)

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

func u8(v uint8) *uint8 { return &v }

func mintRecord(sig string) models.RawLogRecord {
	return models.RawLogRecord{
		Signature: sig,
		Slot:      10,
		Logs: []string{
			"Program 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P invoke [1]",
			"Program log: Instruction: InitializeMint2",
		},
	}
}

func TestDetectIgnoresRecordsWithoutMarker(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	d := NewDetector(fetcher, "")

	evt, err := d.Detect(context.Background(), models.RawLogRecord{
		Signature: "SIG",
		Logs:      []string{"Program log: Instruction: Buy"},
	})

	assert.NoError(t, err)
	assert.Nil(t, evt)
	fetcher.AssertNotCalled(t, "GetMintTransaction", mock.Anything, mock.Anything)
}

func TestDetectSkipsMissingSignature(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	d := NewDetector(fetcher, "")

	evt, err := d.Detect(context.Background(), mintRecord(""))

	assert.NoError(t, err)
	assert.Nil(t, evt)
	fetcher.AssertNotCalled(t, "GetMintTransaction", mock.Anything, mock.Anything)
}

func TestDetectExtractsMint(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(&models.MintTransaction{
		Signature:   "SIG1",
		AccountKeys: []string{"CREATOR", "OTHER"},
		PostTokenBalances: []models.TokenBalance{
			{AccountIndex: 1, Mint: ""},
			{AccountIndex: 2, Mint: "MINTX", Decimals: u8(6)},
			{AccountIndex: 3, Mint: "MINTY", Decimals: u8(9)},
		},
	}, nil).Once()

	d := NewDetector(fetcher, "")
	evt, err := d.Detect(context.Background(), mintRecord("SIG1"))

	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, models.DetectedMintEvent{
		Signature:   "SIG1",
		MintAddress: "MINTX",
		Creator:     "CREATOR",
		Decimals:    models.KnownDecimals(6),
	}, *evt)
	fetcher.AssertExpectations(t)
}

func TestDetectZeroDecimalsIsKnown(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(&models.MintTransaction{
		AccountKeys:       []string{"CREATOR"},
		PostTokenBalances: []models.TokenBalance{{Mint: "MINTX", Decimals: u8(0)}},
	}, nil)

	evt, err := NewDetector(fetcher, "").Detect(context.Background(), mintRecord("SIG1"))

	require.NoError(t, err)
	assert.Equal(t, models.KnownDecimals(0), evt.Decimals)
	assert.True(t, evt.Decimals.Valid)
	assert.Equal(t, "0", evt.Decimals.String())

	// A zero-decimal token is reported as 0, never as "Unknown"
	raw, err := json.Marshal(evt.Decimals)
	require.NoError(t, err)
	assert.JSONEq(t, `0`, string(raw))
}

func TestDetectDefaultsCreatorAndDecimals(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(&models.MintTransaction{
		PostTokenBalances: []models.TokenBalance{{Mint: "MINTX"}},
	}, nil)

	evt, err := NewDetector(fetcher, "").Detect(context.Background(), mintRecord("SIG1"))

	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, models.Unknown, evt.Creator)
	assert.False(t, evt.Decimals.Valid)
	assert.Equal(t, "Unknown", evt.Decimals.String())
}

func TestDetectMalformedMatchHasNoMintBalance(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(&models.MintTransaction{
		AccountKeys:       []string{"CREATOR"},
		PostTokenBalances: []models.TokenBalance{},
	}, nil)

	evt, err := NewDetector(fetcher, "").Detect(context.Background(), mintRecord("SIG1"))

	assert.NoError(t, err)
	assert.Nil(t, evt)
}

func TestDetectTransactionNotFound(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(nil, connection.ErrTransactionNotFound)

	evt, err := NewDetector(fetcher, "").Detect(context.Background(), mintRecord("SIG1"))

	assert.NoError(t, err)
	assert.Nil(t, evt)
}

func TestDetectLookupFailure(t *testing.T) {
	fetcher := new(MockTransactionFetcher)
	fetcher.On("GetMintTransaction", mock.Anything, "SIG1").Return(nil, errors.New("connection reset")).Once()

	evt, err := NewDetector(fetcher, "").Detect(context.Background(), mintRecord("SIG1"))

	assert.Error(t, err)
	assert.Nil(t, evt)
	fetcher.AssertNumberOfCalls(t, "GetMintTransaction", 1)
}

func TestDetectCustomMarker(t *testing.T) {
	d := NewDetector(new(MockTransactionFetcher), "Instruction: Create")
	assert.True(t, d.Matches(models.RawLogRecord{Logs: []string{"Program log: Instruction: Create"}}))
	assert.False(t, d.Matches(models.RawLogRecord{Logs: []string{"Program log: Instruction: InitializeMint2"}}))
	assert.False(t, d.Matches(models.RawLogRecord{}))
}
