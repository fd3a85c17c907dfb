package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Sentinels used when a field cannot be resolved
const (
	Unknown      = "Unknown"
	NotAvailable = "N/A"
	UnknownToken = "Unknown Token"
)

// GreetingMessage is the first record written to every stream
const GreetingMessage = "Hello from DAS + SSE"

// RawLogRecord is one batch of program log lines delivered by the upstream feed
type RawLogRecord struct {
	Signature string   `json:"signature,omitempty"`
	Slot      uint64   `json:"slot"`
	Logs      []string `json:"logs"`
	Err       any      `json:"err,omitempty"`
}

// TokenBalance is a post-transaction token balance entry
type TokenBalance struct {
	AccountIndex uint16 `json:"account_index"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner,omitempty"`
	// Decimals is nil when the provider returned no ui token amount
	Decimals *uint8 `json:"decimals,omitempty"`
}

// MintTransaction is the subset of a parsed transaction the detector needs
type MintTransaction struct {
	Signature         string         `json:"signature"`
	Slot              uint64         `json:"slot"`
	AccountKeys       []string       `json:"account_keys"`
	PostTokenBalances []TokenBalance `json:"post_token_balances"`
}

// Decimals is a token decimals value that serializes to "Unknown" when unresolved
type Decimals struct {
	Value uint8
	Valid bool
}

// KnownDecimals returns a resolved decimals value
func KnownDecimals(v uint8) Decimals {
	return Decimals{Value: v, Valid: true}
}

func (d Decimals) String() string {
	if !d.Valid {
		return Unknown
	}
	return fmt.Sprintf("%d", d.Value)
}

func (d Decimals) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return json.Marshal(Unknown)
	}
	return json.Marshal(d.Value)
}

func (d *Decimals) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		*d = Decimals{}
		return nil
	}
	var v uint8
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*d = KnownDecimals(v)
	return nil
}

// Price is a per-token price that serializes to "N/A" when unavailable
type Price struct {
	Value float64
	Valid bool
}

// KnownPrice returns an available price
func KnownPrice(v float64) Price {
	return Price{Value: v, Valid: true}
}

func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(p.Value)
}

func (p *Price) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		*p = Price{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = KnownPrice(v)
	return nil
}

// DetectedMintEvent is a mint creation found in the program logs
type DetectedMintEvent struct {
	Signature   string
	MintAddress string
	Creator     string
	Decimals    Decimals
}

// TokenMetadata is the off-chain description of a mint
type TokenMetadata struct {
	Name      string
	Symbol    string
	Image     string
	Price     Price
	Currency  string
	Supply    uint64
	MarketCap string
}

// DegradedMetadata is returned whenever the metadata lookup fails
func DegradedMetadata() TokenMetadata {
	return TokenMetadata{
		Name:      UnknownToken,
		Symbol:    NotAvailable,
		Image:     "",
		Price:     Price{},
		Currency:  NotAvailable,
		Supply:    0,
		MarketCap: NotAvailable,
	}
}

// EnrichedMintEvent is the unit broadcast to subscribers
type EnrichedMintEvent struct {
	Signature   string   `json:"signature"`
	MintAddress string   `json:"mintAddress"`
	Creator     string   `json:"creator"`
	Supply      uint64   `json:"supply"`
	Decimals    Decimals `json:"decimals"`
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Image       string   `json:"image"`
	Price       Price    `json:"price"`
	Currency    string   `json:"currency"`
	MarketCap   string   `json:"marketCap"`
}

// NewEnrichedMintEvent merges a detected event with its metadata
func NewEnrichedMintEvent(detected DetectedMintEvent, meta TokenMetadata) EnrichedMintEvent {
	return EnrichedMintEvent{
		Signature:   detected.Signature,
		MintAddress: detected.MintAddress,
		Creator:     detected.Creator,
		Supply:      meta.Supply,
		Decimals:    detected.Decimals,
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Image:       meta.Image,
		Price:       meta.Price,
		Currency:    meta.Currency,
		MarketCap:   meta.MarketCap,
	}
}

// Greeting is the non-domain liveness record sent on connect
type Greeting struct {
	Message string `json:"message"`
}
