package tradernet

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/aristath/tradecore/internal/errs"
)

// OrderRequest is a new order submission.
type OrderRequest struct {
	Symbol        string
	Side          string // BUY or SELL
	Type          string // MARKET, LIMIT, STOP_LOSS, ...
	Quantity      float64
	Price         float64 // ignored for MARKET
	StopPrice     float64 // for STOP_LOSS / TRAILING_STOP_LOSS
	ClientOrderID string  // deterministic id, see execution package
}

// OrderResult is the exchange's acknowledgement of an order.
type OrderResult struct {
	ExchangeOrderID  string  `json:"order_id"`
	ClientOrderID    string  `json:"client_order_id"`
	Status           string  `json:"status"`
	ExecutedQty      float64 `json:"executed_qty,string"`
	ExecutedPrice    float64 `json:"executed_price,string"`
}

// SubmitOrder places a new order. ClientOrderID is always sent, making the
// call safely retryable: a resubmission with the same id is a no-op
// upstream per the exchange's own idempotency contract.
func (c *Client) SubmitOrder(req OrderRequest) (*OrderResult, error) {
	if req.ClientOrderID == "" {
		return nil, errs.New(errs.InvalidInput, "client_order_id is required")
	}
	params := url.Values{
		"symbol":          {req.Symbol},
		"side":            {req.Side},
		"type":            {req.Type},
		"quantity":        {strconv.FormatFloat(req.Quantity, 'f', -1, 64)},
		"newClientOrderId": {req.ClientOrderID},
	}
	if req.Price > 0 {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}
	if req.StopPrice > 0 {
		params.Set("stopPrice", strconv.FormatFloat(req.StopPrice, 'f', -1, 64))
	}

	body, err := c.doPrivate("POST", "/api/v1/order", params)
	if err != nil {
		return nil, err
	}
	var result OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse order result", err)
	}
	return &result, nil
}

// QueryOrder retrieves the current state of a previously submitted order.
func (c *Client) QueryOrder(symbol, exchangeOrderID string) (*OrderResult, error) {
	params := url.Values{"symbol": {symbol}, "orderId": {exchangeOrderID}}
	body, err := c.doPrivate("GET", "/api/v1/order", params)
	if err != nil {
		return nil, err
	}
	var result OrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errs.Wrap(errs.Internal, "parse order result", err)
	}
	return &result, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(symbol, exchangeOrderID string) error {
	params := url.Values{"symbol": {symbol}, "orderId": {exchangeOrderID}}
	_, err := c.doPrivate("DELETE", "/api/v1/order", params)
	return err
}
