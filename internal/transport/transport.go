// Package transport carries encoded messages to the remote chain. The
// delivery channel is opaque: the coordinator hands over bytes and a fee,
// and anything past the relay endpoint is somebody else's problem. Inbound
// delivery is wired by the host process straight into the coordinator.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/crossyield/internal/types"
)

// ErrSendFailed wraps any synchronous send failure. The caller marks the
// ledger entry Failed immediately; nothing is left dangling in Pending on a
// send we know never left.
var ErrSendFailed = errors.New("transport send failed")

// Transport is the outbound half of the cross-chain channel. Delivery is
// fire-and-forget: a nil return means the relay accepted the payload, not
// that the remote chain saw it.
type Transport interface {
	Send(ctx context.Context, dest types.Destination, payload []byte, fee uint64) error
}

// RelayClient posts payloads to an HTTP relay endpoint.
type RelayClient struct {
	httpClient *http.Client
}

// NewRelayClient creates a relay client with retrying HTTP transport.
func NewRelayClient() *RelayClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	return &RelayClient{httpClient: retryClient.StandardClient()}
}

// Send posts the payload to the destination's relay endpoint. The fee and
// target chain travel as headers; the body is the raw encoded message.
func (c *RelayClient) Send(ctx context.Context, dest types.Destination, payload []byte, fee uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.RelayEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Destination-Chain", string(dest.Chain))
	req.Header.Set("X-Relay-Fee", strconv.FormatUint(fee, 10))
	if dest.APIKey != "" {
		req.Header.Set("X-API-Key", dest.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: relay returned status %d", ErrSendFailed, resp.StatusCode)
	}

	logrus.WithFields(logrus.Fields{
		"chain": dest.Chain,
		"bytes": len(payload),
		"fee":   fee,
	}).Debug("Payload handed to relay")
	return nil
}
