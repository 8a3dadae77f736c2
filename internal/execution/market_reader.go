package execution

import (
	"context"

	"github.com/aristath/tradecore/internal/clients/tradernet"
	"github.com/aristath/tradecore/internal/errs"
)

// RESTMarketReader implements MarketReader over the signed REST client,
// caching nothing: pair constraints and last price are cheap, low-volume
// pulls relative to the stream surface, and the engine only calls this at
// propose-time and on each TSL tick.
type RESTMarketReader struct {
	rest *tradernet.Client
}

// NewRESTMarketReader builds a MarketReader backed by the given REST client.
func NewRESTMarketReader(rest *tradernet.Client) *RESTMarketReader {
	return &RESTMarketReader{rest: rest}
}

func (r *RESTMarketReader) GetPairInfo(ctx context.Context, symbol string) (tradernet.PairInfo, error) {
	pairs, err := r.rest.ListPairs()
	if err != nil {
		return tradernet.PairInfo{}, err
	}
	for _, p := range pairs {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return tradernet.PairInfo{}, errs.New(errs.NotFound, "pair "+symbol+" not listed")
}

func (r *RESTMarketReader) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	ticker, err := r.rest.GetTicker24h(symbol)
	if err != nil {
		return 0, err
	}
	return ticker.LastPrice, nil
}
