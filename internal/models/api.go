package models

// TickerPage is the response of GET /tickers.
type TickerPage struct {
	Tickers []QuoteRecord `json:"tickers_with_dates"`
	Total   int           `json:"total"`
}

// OrderRecord is one row of a ticker's trade history.
type OrderRecord struct {
	LTP       float64 `json:"ltp"`
	SellPrice float64 `json:"sellprice"`
	SellQty   float64 `json:"sellqty"`
	LTQ       float64 `json:"ltq"`
	Date      string  `json:"date"`
	Time      string  `json:"time"`
}

// TickerHistory is the response of GET /tickers/{id}.
type TickerHistory struct {
	Ticker string        `json:"ticker"`
	Total  int           `json:"total"`
	Orders []OrderRecord `json:"orders"`
}

// Credentials is the body of login and signup requests.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse carries the issued bearer token.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
}

// OrderLine is one element of a POST /place-order body.
type OrderLine struct {
	TickID        InstrumentID `json:"tick_id"`
	PurchasePrice float64      `json:"purchase_price"`
	PurchaseQty   int          `json:"purchase_qty"`
}

// Row is a generic record whose columns the client only displays: OHLC
// summaries, purchased orders, quality checks and portfolio positions.
type Row map[string]any

// RowPage is a page of generic rows.
type RowPage struct {
	Rows  []Row
	Total int
}

// PurchasedOrdersResponse is the response of GET /orders/purchased.
type PurchasedOrdersResponse struct {
	Orders []Row `json:"orders"`
	Total  int   `json:"total"`
}

// QualityChecksResponse is the response of GET /quality-checks.
type QualityChecksResponse struct {
	Issues      []Row `json:"issues"`
	TotalIssues int   `json:"total_issues"`
}

// PortfolioResponse is the response of POST /portfolio-position.
type PortfolioResponse struct {
	Positions []Row `json:"positions"`
	Total     int   `json:"total"`
}
