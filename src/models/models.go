package models

import "github.com/shopspring/decimal"

// Prices travel as decimal strings ("150.25"); a bare JSON number is also accepted.
type SubmitOrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	UserID   string          `json:"user_id"`
}

type SubmitOrderResponse struct {
	OrderID           string      `json:"order_id"`
	Status            string      `json:"status"`
	Message           string      `json:"message,omitempty"`
	FilledQuantity    int64       `json:"filled_quantity"`
	RemainingQuantity int64       `json:"remaining_quantity"`
	Trades            []TradeInfo `json:"trades,omitempty"`
}

type TradeInfo struct {
	TradeID       string          `json:"trade_id"`
	Symbol        string          `json:"symbol"`
	BuyOrderID    string          `json:"buy_order_id"`
	SellOrderID   string          `json:"sell_order_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
	AggressorSide string          `json:"aggressor_side"`
	Timestamp     int64           `json:"timestamp"` // unix timestamp in milliseconds
}

type CancelOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type OrderBookResponse struct {
	Symbol    string           `json:"symbol"`
	Timestamp int64            `json:"timestamp"` // unix timestamp in milliseconds
	Bids      []PriceLevelInfo `json:"bids"`      // sorted descending (highest first)
	Asks      []PriceLevelInfo `json:"asks"`      // sorted ascending (lowest first)
}

type PriceLevelInfo struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"` // aggregated quantity at this price
	Orders   int             `json:"orders"`
}

type BestPricesResponse struct {
	Symbol  string          `json:"symbol"`
	BestBid decimal.Decimal `json:"best_bid"` // 0 when no bids
	BestAsk decimal.Decimal `json:"best_ask"` // 0 when no asks
}

type OrderStatusResponse struct {
	OrderID           string          `json:"order_id"`
	UserID            string          `json:"user_id"`
	Symbol            string          `json:"symbol"`
	Side              string          `json:"side"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int64           `json:"quantity"`
	FilledQuantity    int64           `json:"filled_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	Status            string          `json:"status"`
	Sequence          uint64          `json:"sequence"`
	Timestamp         int64           `json:"timestamp"` // unix timestamp in milliseconds
}

type OrderListResponse struct {
	Orders []OrderStatusResponse `json:"orders"`
}

type TradeListResponse struct {
	Symbol string      `json:"symbol"`
	Trades []TradeInfo `json:"trades"`
}

type MatchResponse struct {
	Symbol         string `json:"symbol"`
	TradesExecuted int    `json:"trades_executed"`
}

type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	OrdersProcessed int64  `json:"orders_processed"`
}

type MetricsResponse struct {
	OrdersReceived         int64   `json:"orders_received"`
	OrdersMatched          int64   `json:"orders_matched"`
	OrdersCancelled        int64   `json:"orders_cancelled"`
	OrdersInBook           int64   `json:"orders_in_book"`
	TradesExecuted         int64   `json:"trades_executed"`
	LatencyP50Ms           float64 `json:"latency_p50_ms"`
	LatencyP99Ms           float64 `json:"latency_p99_ms"`
	LatencyP999Ms          float64 `json:"latency_p999_ms"`
	ThroughputOrdersPerSec float64 `json:"throughput_orders_per_sec"`
}
