package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

const requestID = "mint-listener"

// ErrAssetNotFound is returned when the response carries no result
var ErrAssetNotFound = errors.New("asset not found")

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// DecodeError is returned when the response body is not valid JSON-RPC
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "can't decode response body: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RPCError is the JSON-RPC error object returned by the provider
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Asset is the subset of a DAS getAsset result used for enrichment
type Asset struct {
	ID        string        `json:"id"`
	Content   *AssetContent `json:"content"`
	TokenInfo *TokenInfo    `json:"token_info"`
}

type AssetContent struct {
	Metadata *AssetMetadata `json:"metadata"`
	Links    *AssetLinks    `json:"links"`
}

type AssetMetadata struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type AssetLinks struct {
	Image string `json:"image"`
}

type TokenInfo struct {
	Symbol    string      `json:"symbol"`
	Supply    json.Number `json:"supply"`
	Decimals  *uint8      `json:"decimals"`
	PriceInfo *PriceInfo  `json:"price_info"`
}

type PriceInfo struct {
	PricePerToken *float64 `json:"price_per_token"`
	Currency      string   `json:"currency"`
}

type getAssetRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  getAssetParams `json:"params"`
}

type getAssetParams struct {
	ID             string         `json:"id"`
	DisplayOptions displayOptions `json:"displayOptions"`
}

type displayOptions struct {
	ShowFungible    bool `json:"showFungible"`
	ShowInscription bool `json:"showInscription"`
}

type getAssetResponse struct {
	Result *Asset    `json:"result"`
	Error  *RPCError `json:"error"`
}

// ClientConfig configures the DAS client
type ClientConfig struct {
	// Timeout bounds a single request
	Timeout time.Duration

	// Default headers
	Headers map[string]string
}

// Client is a DAS API client
type Client struct {
	endpoint string
	http     *fasthttp.Client
	config   ClientConfig
}

// NewClient creates a DAS client for the given endpoint
func NewClient(endpoint string, config ...ClientConfig) (*Client, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid DAS endpoint", err.Error())
	}

	var cf ClientConfig
	if len(config) > 0 {
		cf = config[0]
	}
	if cf.Timeout <= 0 {
		cf.Timeout = 10 * time.Second
	}
	if cf.Headers == nil {
		cf.Headers = make(map[string]string)
	}

	return &Client{
		endpoint: endpoint,
		http: &fasthttp.Client{
			Name: "solana-mint-listener",
		},
		config: cf,
	}, nil
}

// GetAsset calls getAsset for a mint address
func (c *Client) GetAsset(ctx context.Context, mint string) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(getAssetRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  "getAsset",
		Params: getAssetParams{
			ID: mint,
			DisplayOptions: displayOptions{
				ShowFungible:    true,
				ShowInscription: true,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseResponse(resp)
		fasthttp.ReleaseRequest(req)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	req.SetRequestURI(c.endpoint)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, err
	}

	if status := resp.StatusCode(); status < 200 || status > 299 {
		return nil, &StatusError{StatusCode: status}
	}

	raw, err := resp.BodyUncompressed()
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	var out getAssetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if out.Result == nil {
		return nil, ErrAssetNotFound
	}
	return out.Result, nil
}

// deadline is the earlier of the context deadline and the configured timeout
func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.config.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
