// Package assetintel implements the read-only asset-intelligence provider
// §6 names for C4's data-verification pass: external metadata and price
// history, looked up by base asset symbol over a header-authenticated HTTP
// API. Grounded on the tradernet.Client's transport shape (baseURL +
// *http.Client + typed JSON decode), adapted from a signed exchange call to
// a simple bearer-header public lookup since this provider carries no
// execution authority.
package assetintel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradecore/internal/errs"
)

// Client is a header-authenticated HTTP client for the asset-intelligence
// provider, satisfying aiorchestrator.AssetIntelligenceClient.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds an asset-intelligence client. An empty apiKey is valid
// for providers whose free tier needs no authentication.
func NewClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "asset_intel").Logger(),
	}
}

// Lookup fetches metadata (sector, market-cap rank, recent news sentiment)
// for the given base asset symbol, returned as opaque JSON the calling tool
// passes straight through to the LLM.
func (c *Client) Lookup(ctx context.Context, asset string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, errs.New(errs.PreconditionFailed, "asset-intelligence provider not configured")
	}

	reqURL := c.baseURL + "/v1/assets/" + url.PathEscape(asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "build asset-intel request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.Cancelled, "asset-intel request cancelled", ctx.Err())
		}
		return nil, errs.Wrap(errs.UpstreamUnavailable, "asset-intel request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamUnavailable, "read asset-intel response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.RateLimitedAfter("asset-intel provider rate limit", 5*time.Second)
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.NotFound, fmt.Sprintf("asset %q not found", asset))
	case resp.StatusCode >= 500:
		return nil, errs.New(errs.UpstreamUnavailable, fmt.Sprintf("asset-intel provider returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, errs.New(errs.UpstreamRejected, fmt.Sprintf("asset-intel provider rejected request: %d", resp.StatusCode))
	}

	return json.RawMessage(body), nil
}
