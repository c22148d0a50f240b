// Package source provides the local lending-protocol data source: the
// interface the coordinator consumes and an HTTP client implementation for
// pool adapter APIs that report rates in ray.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

// ErrSourceUnavailable wraps any transient failure of the local source. The
// coordinator keeps the last known record until it ages out; this error is
// never fatal.
var ErrSourceUnavailable = errors.New("local source unavailable")

// Observation is one reading from the local source.
type Observation struct {
	APYBps uint32
	TVL    uint256.Int
	// LiquidityIndex is the protocol's cumulative index in ray, reported
	// for callers that project balances; the optimizer itself only needs
	// the rate.
	LiquidityIndex uint256.Int
	Protocol       model.ProtocolID
}

// LocalSource is the synchronous local data source.
type LocalSource interface {
	GetYield(ctx context.Context, token model.TokenID) (Observation, error)
}

// PoolClient fetches reserve data from a lending-pool adapter API.
type PoolClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	protocol   model.ProtocolID
}

// NewPoolClient creates a pool adapter client with retrying HTTP transport.
func NewPoolClient(baseURL, apiKey string, protocol model.ProtocolID) *PoolClient {
	return &PoolClient{
		baseURL:    baseURL,
		httpClient: newRetryClient(),
		apiKey:     apiKey,
		protocol:   protocol,
	}
}

// reserveResponse matches the pool adapter API response. Rates and
// magnitudes arrive as decimal strings; they do not fit JSON numbers.
type reserveResponse struct {
	LiquidityRateRay  string `json:"liquidity_rate_ray"`
	LiquidityIndexRay string `json:"liquidity_index_ray"`
	TotalLiquidity    string `json:"total_liquidity"`
	UpdatedAt         int64  `json:"updated_at"`
}

// GetYield retrieves the current reserve data for a token.
func (c *PoolClient) GetYield(ctx context.Context, token model.TokenID) (Observation, error) {
	url := fmt.Sprintf("%s/v1/reserves/%s", c.baseURL, token.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: creating request: %v", ErrSourceUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	logrus.Debugf("Fetching reserve data: %s", url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Observation{}, fmt.Errorf("%w: status %d, body: %s", ErrSourceUnavailable, resp.StatusCode, string(body))
	}

	var reserve reserveResponse
	if err := json.NewDecoder(resp.Body).Decode(&reserve); err != nil {
		return Observation{}, fmt.Errorf("%w: decoding response: %v", ErrSourceUnavailable, err)
	}

	rate, err := uint256.FromDecimal(reserve.LiquidityRateRay)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: bad liquidity rate %q", ErrSourceUnavailable, reserve.LiquidityRateRay)
	}
	index, err := uint256.FromDecimal(reserve.LiquidityIndexRay)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: bad liquidity index %q", ErrSourceUnavailable, reserve.LiquidityIndexRay)
	}
	tvl, err := uint256.FromDecimal(reserve.TotalLiquidity)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: bad total liquidity %q", ErrSourceUnavailable, reserve.TotalLiquidity)
	}
	if !yieldmath.FitsUint128(tvl) {
		return Observation{}, fmt.Errorf("%w: total liquidity exceeds 128 bits", ErrSourceUnavailable)
	}

	obs := Observation{
		APYBps:         yieldmath.RayToBps(rate),
		TVL:            *tvl,
		LiquidityIndex: *index,
		Protocol:       c.protocol,
	}
	logrus.WithFields(logrus.Fields{
		"token":   token.Hex(),
		"apy_bps": obs.APYBps,
	}).Debug("Reserve data fetched")
	return obs, nil
}

// newRetryClient creates an HTTP client with retry logic.
func newRetryClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 3 * time.Second
	retryClient.Logger = nil
	return retryClient.StandardClient()
}
