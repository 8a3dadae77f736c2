package tradernet

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/aristath/tradecore/internal/errs"
)

// Kline is a single candlestick.
type Kline struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"close_time"`
}

// Ticker24h is a rolling 24h ticker summary.
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"last_price,string"`
	PriceChangePercent float64 `json:"price_change_percent,string"`
	HighPrice          float64 `json:"high_price,string"`
	LowPrice           float64 `json:"low_price,string"`
	Volume             float64 `json:"volume,string"`
}

// GetKlines retrieves candlestick history for a symbol and interval.
func (c *Client) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	body, err := c.doPublic("/api/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var klines []Kline
	if err := json.Unmarshal(body, &klines); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse klines", err)
	}
	return klines, nil
}

// GetTicker24h retrieves the rolling 24h summary for a symbol.
func (c *Client) GetTicker24h(symbol string) (*Ticker24h, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := c.doPublic("/api/v1/ticker/24hr", params)
	if err != nil {
		return nil, err
	}
	var t Ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse ticker", err)
	}
	return &t, nil
}

// PairInfo describes a tradable pair's lot/tick constraints.
type PairInfo struct {
	Symbol       string  `json:"symbol"`
	BaseAsset    string  `json:"base_asset"`
	QuoteAsset   string  `json:"quote_asset"`
	LotSize      float64 `json:"lot_size,string"`
	TickSize     float64 `json:"tick_size,string"`
	MinNotional  float64 `json:"min_notional,string"`
}

// ListPairs retrieves tradable pair metadata.
func (c *Client) ListPairs() ([]PairInfo, error) {
	body, err := c.doPublic("/api/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Symbols []PairInfo `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse exchange info", err)
	}
	return resp.Symbols, nil
}

// AccountBalance is a single asset's free/locked balance.
type AccountBalance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free,string"`
	Locked float64 `json:"locked,string"`
}

// GetAccountBalances retrieves the account's balances across all assets.
func (c *Client) GetAccountBalances() ([]AccountBalance, error) {
	body, err := c.doPrivate("GET", "/api/v1/account", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Balances []AccountBalance `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse account balances", err)
	}
	return resp.Balances, nil
}

// ListenKey registers a user-data stream session; the returned key is used
// to subscribe via the websocket surface.
func (c *Client) ListenKey() (string, error) {
	body, err := c.doPrivate("POST", "/api/v1/userDataStream", nil)
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errs.Wrap(errs.Internal, "parse listen key", err)
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the listen key's expiry.
func (c *Client) KeepAliveListenKey(listenKey string) error {
	_, err := c.doPrivate("PUT", "/api/v1/userDataStream", url.Values{"listenKey": {listenKey}})
	return err
}
