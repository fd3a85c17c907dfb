package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichedMintEventWireFormat(t *testing.T) {
	evt := NewEnrichedMintEvent(
		DetectedMintEvent{Signature: "SIG1", MintAddress: "MINTX", Creator: "CREATOR", Decimals: KnownDecimals(6)},
		TokenMetadata{
			Name:      "Pumped",
			Symbol:    "PMP",
			Image:     "https://img/x.png",
			Price:     KnownPrice(0.002),
			Currency:  "USDC",
			Supply:    1000000,
			MarketCap: "2000.00",
		},
	)

	b, err := json.Marshal(evt)
	require.NoError(t, err)

	assert.Equal(t,
		`{"signature":"SIG1","mintAddress":"MINTX","creator":"CREATOR","supply":1000000,"decimals":6,`+
			`"name":"Pumped","symbol":"PMP","image":"https://img/x.png","price":0.002,"currency":"USDC","marketCap":"2000.00"}`,
		string(b))
}

func TestEnrichedMintEventSentinels(t *testing.T) {
	evt := NewEnrichedMintEvent(
		DetectedMintEvent{Signature: "SIG2", MintAddress: "MINTY", Creator: Unknown},
		DegradedMetadata(),
	)

	b, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))

	assert.Equal(t, "Unknown", decoded["decimals"])
	assert.Equal(t, "Unknown", decoded["creator"])
	assert.Equal(t, "Unknown Token", decoded["name"])
	assert.Equal(t, "N/A", decoded["symbol"])
	assert.Equal(t, "", decoded["image"])
	assert.Equal(t, "N/A", decoded["price"])
	assert.Equal(t, "N/A", decoded["currency"])
	assert.Equal(t, float64(0), decoded["supply"])
	assert.Equal(t, "N/A", decoded["marketCap"])
}

func TestSentinelDecoding(t *testing.T) {
	var d Decimals
	require.NoError(t, json.Unmarshal([]byte(`"Unknown"`), &d))
	assert.False(t, d.Valid)
	require.NoError(t, json.Unmarshal([]byte(`9`), &d))
	assert.Equal(t, KnownDecimals(9), d)
	assert.Equal(t, "9", d.String())

	var p Price
	require.NoError(t, json.Unmarshal([]byte(`"N/A"`), &p))
	assert.False(t, p.Valid)
	require.NoError(t, json.Unmarshal([]byte(`0.5`), &p))
	assert.Equal(t, KnownPrice(0.5), p)
}

func TestGreetingWireFormat(t *testing.T) {
	b, err := json.Marshal(Greeting{Message: GreetingMessage})
	require.NoError(t, err)
	assert.Equal(t, `{"message":"Hello from DAS + SSE"}`, string(b))
}
