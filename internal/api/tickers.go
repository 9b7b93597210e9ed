package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
)

// Interval bounds accepted by the history endpoint.
const (
	MinInterval = 1
	MaxInterval = 1000
)

// TickerQuery selects a page of the ticker list. Dates are dd-mm-yyyy and
// are sent empty when unset.
type TickerQuery struct {
	Skip      int    `url:"skip"`
	Limit     int    `url:"limit"`
	StartDate string `url:"start_date"`
	EndDate   string `url:"end_date"`
}

// Values encodes the query string.
func (q TickerQuery) Values() url.Values {
	return encodeQuery(q)
}

type historyQuery struct {
	Skip     int `url:"skip"`
	Limit    int `url:"limit"`
	Interval int `url:"interval,omitempty"`
}

type ohlcQuery struct {
	Ticker string `url:"ticker"`
}

// ListTickers fetches one page of the ticker list.
func (c *Client) ListTickers(ctx context.Context, q TickerQuery) (*models.TickerPage, error) {
	var page models.TickerPage
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/tickers",
		query:  q.Values(),
		retry:  true,
	}, &page)
	if err != nil {
		return nil, err
	}
	if page.Tickers == nil {
		page.Tickers = []models.QuoteRecord{}
	}
	return &page, nil
}

// ClampInterval bounds an aggregation interval to the accepted range.
// Zero means no aggregation and is returned unchanged.
func ClampInterval(interval int) int {
	switch {
	case interval == 0:
		return 0
	case interval < MinInterval:
		return MinInterval
	case interval > MaxInterval:
		return MaxInterval
	}
	return interval
}

// TickerHistory fetches the trade history of one instrument. An unknown
// instrument yields an empty history.
func (c *Client) TickerHistory(ctx context.Context, id models.InstrumentID, skip, limit, interval int) (*models.TickerHistory, error) {
	q := encodeQuery(historyQuery{Skip: skip, Limit: limit, Interval: ClampInterval(interval)})

	var hist models.TickerHistory
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/tickers/%d", id),
		query:  q,
		retry:  true,
	}, &hist)
	if err != nil {
		var nerr *apperrors.NetworkError
		if apperrors.As(err, &nerr) && nerr.Status == http.StatusNotFound {
			return &models.TickerHistory{Orders: []models.OrderRecord{}}, nil
		}
		return nil, err
	}
	if hist.Orders == nil {
		hist.Orders = []models.OrderRecord{}
	}
	return &hist, nil
}

// OHLC fetches the open/high/low/close summary rows for a ticker symbol.
func (c *Client) OHLC(ctx context.Context, ticker string) ([]models.Row, error) {
	if ticker == "" {
		return nil, apperrors.NewValidationError("ticker", ticker, "must not be empty")
	}
	var rows []models.Row
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/ohlc",
		query:  encodeQuery(ohlcQuery{Ticker: ticker}),
		retry:  true,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.Row{}
	}
	return rows, nil
}
