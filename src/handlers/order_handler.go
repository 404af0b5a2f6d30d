package handlers

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"stock-exchange/src/engine"
	"stock-exchange/src/models"
)

type Options struct {
	DefaultDepth int
	MaxDepth     int
	MaxLatencies int
}

func (o *Options) applyDefaults() {
	if o.DefaultDepth <= 0 {
		o.DefaultDepth = 10
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 1000
	}
	if o.MaxLatencies <= 0 {
		o.MaxLatencies = 10000
	}
}

type OrderHandler struct {
	Engine        *engine.Engine
	StartTime     time.Time
	OrdersMatched int64

	opts        Options
	latencies   []time.Duration
	latenciesMu sync.RWMutex
}

func NewOrderHandler(eng *engine.Engine, opts Options) *OrderHandler {
	opts.applyDefaults()
	return &OrderHandler{
		Engine:    eng,
		StartTime: time.Now(),
		opts:      opts,
		latencies: make([]time.Duration, 0, opts.MaxLatencies),
	}
}

func (h *OrderHandler) SubmitOrder(c *fiber.Ctx) error {
	var req models.SubmitOrderRequest

	if err := c.BodyParser(&req); err != nil {
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Str("path", c.Path()).
			Msg("Invalid request: malformed JSON")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	side, err := engine.ParseSide(req.Side)
	if err != nil {
		return writeError(c, err)
	}

	startTime := time.Now()
	result, err := h.Engine.Submit(c.UserContext(), engine.OrderRequest{
		Symbol:   req.Symbol,
		Side:     side,
		Price:    req.Price,
		Quantity: req.Quantity,
		UserID:   req.UserID,
	})
	h.recordLatency(time.Since(startTime))

	if err != nil {
		log.Warn().
			Err(err).
			Str("symbol", req.Symbol).
			Str("side", req.Side).
			Str("user_id", req.UserID).
			Str("ip", c.IP()).
			Msg("Order rejected")
		return writeError(c, err)
	}

	trades := make([]models.TradeInfo, 0, len(result.Trades))
	for _, trade := range result.Trades {
		trades = append(trades, tradeInfo(trade))
	}

	response := models.SubmitOrderResponse{
		OrderID:           result.OrderID.String(),
		Status:            string(result.Status),
		FilledQuantity:    result.FilledQuantity,
		RemainingQuantity: result.RemainingQuantity,
		Trades:            trades,
	}

	if result.FilledQuantity > 0 {
		atomic.AddInt64(&h.OrdersMatched, 1)
	}

	log.Info().
		Str("order_id", response.OrderID).
		Str("status", response.Status).
		Int64("filled_quantity", result.FilledQuantity).
		Int64("remaining_quantity", result.RemainingQuantity).
		Int("trades_count", len(result.Trades)).
		Msg("Order processed")

	switch result.Status {
	case engine.StatusOpen:
		response.Message = "Order added to book"
		return c.Status(fiber.StatusCreated).JSON(response)
	case engine.StatusPartiallyFilled:
		return c.Status(fiber.StatusAccepted).JSON(response)
	case engine.StatusCancelled:
		response.Message = "Order cancelled by self-trade prevention"
		return c.Status(fiber.StatusOK).JSON(response)
	default:
		return c.Status(fiber.StatusOK).JSON(response)
	}
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	orderID, err := engine.ParseOrderID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{Error: "Order not found"})
	}

	if err := h.Engine.Cancel(orderID); err != nil {
		log.Warn().
			Err(err).
			Str("order_id", orderID.String()).
			Str("ip", c.IP()).
			Msg("Cancel order failed")
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(models.CancelOrderResponse{
		OrderID: orderID.String(),
		Status:  string(engine.StatusCancelled),
	})
}

func (h *OrderHandler) GetOrderStatus(c *fiber.Ctx) error {
	orderID, err := engine.ParseOrderID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{Error: "Order not found"})
	}

	order, err := h.Engine.GetOrder(orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orderStatus(order))
}

func (h *OrderHandler) GetUserOrders(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(orderList(h.Engine.GetUserOrders(c.Params("userId"))))
}

func (h *OrderHandler) GetOpenOrders(c *fiber.Ctx) error {
	orders, err := h.Engine.GetOpenOrders(c.Params("symbol"))
	if err != nil {
		return writeQueryError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(orderList(orders))
}

func (h *OrderHandler) GetTrades(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	trades, err := h.Engine.GetTrades(symbol)
	if err != nil {
		return writeQueryError(c, err)
	}

	out := make([]models.TradeInfo, 0, len(trades))
	for _, trade := range trades {
		out = append(out, tradeInfo(trade))
	}
	return c.Status(fiber.StatusOK).JSON(models.TradeListResponse{Symbol: symbol, Trades: out})
}

func (h *OrderHandler) GetBestPrices(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	bid, err := h.Engine.BestBid(symbol)
	if err != nil {
		return writeQueryError(c, err)
	}
	ask, err := h.Engine.BestAsk(symbol)
	if err != nil {
		return writeQueryError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.BestPricesResponse{Symbol: symbol, BestBid: bid, BestAsk: ask})
}

func (h *OrderHandler) MatchSymbol(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	n, err := h.Engine.MatchOrders(symbol)
	if err != nil {
		return writeQueryError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(models.MatchResponse{Symbol: symbol, TradesExecuted: n})
}

func (h *OrderHandler) ListSymbols(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(models.SymbolsResponse{Symbols: h.Engine.Symbols()})
}

func (h *OrderHandler) GetOrderBook(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	depth, err := strconv.Atoi(c.Query("depth", strconv.Itoa(h.opts.DefaultDepth)))
	if err != nil || depth <= 0 {
		depth = h.opts.DefaultDepth
	}

	// edge case: enforce maximum depth limit
	if depth > h.opts.MaxDepth {
		depth = h.opts.MaxDepth
	}

	bidLevels, askLevels, err := h.Engine.Depth(symbol, depth)
	if err != nil {
		return writeQueryError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(models.OrderBookResponse{
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
		Bids:      levelInfo(bidLevels),
		Asks:      levelInfo(askLevels),
	})
}

func (h *OrderHandler) HealthCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:          "healthy",
		UptimeSeconds:   int64(time.Since(h.StartTime).Seconds()),
		OrdersProcessed: h.Engine.Stats().OrdersReceived,
	})
}

func (h *OrderHandler) Metrics(c *fiber.Ctx) error {
	stats := h.Engine.Stats()
	p50, p99, p999 := h.calculateLatencyPercentiles()

	return c.Status(fiber.StatusOK).JSON(models.MetricsResponse{
		OrdersReceived:         stats.OrdersReceived,
		OrdersMatched:          atomic.LoadInt64(&h.OrdersMatched),
		OrdersCancelled:        stats.OrdersCancelled,
		OrdersInBook:           stats.OrdersResting,
		TradesExecuted:         stats.TradesExecuted,
		LatencyP50Ms:           p50,
		LatencyP99Ms:           p99,
		LatencyP999Ms:          p999,
		ThroughputOrdersPerSec: h.calculateThroughput(stats.OrdersReceived),
	})
}

func (h *OrderHandler) recordLatency(latency time.Duration) {
	h.latenciesMu.Lock()
	defer h.latenciesMu.Unlock()

	h.latencies = append(h.latencies, latency)

	// edge case: maintain rolling window by removing oldest measurements
	if len(h.latencies) > h.opts.MaxLatencies {
		h.latencies = h.latencies[len(h.latencies)-h.opts.MaxLatencies:]
	}
}

func (h *OrderHandler) calculateLatencyPercentiles() (p50, p99, p999 float64) {
	h.latenciesMu.RLock()
	sorted := make([]time.Duration, len(h.latencies))
	copy(sorted, h.latencies)
	h.latenciesMu.RUnlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) float64 {
		idx := int(float64(len(sorted)) * q)
		// edge case: ensure index is within bounds
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return float64(sorted[idx].Nanoseconds()) / 1e6
	}
	return at(0.50), at(0.99), at(0.999)
}

func (h *OrderHandler) calculateThroughput(received int64) float64 {
	uptime := time.Since(h.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(received) / uptime
}

func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Internal server error"

	switch {
	case engine.IsValidationError(err):
		status, message = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, engine.ErrOrderNotFound):
		status, message = fiber.StatusNotFound, "Order not found"
	case errors.Is(err, engine.ErrOrderNotOpen):
		status, message = fiber.StatusConflict, "Cannot cancel: order is not open"
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled engine error")
	}
	return c.Status(status).JSON(models.ErrorResponse{Error: message})
}

// writeQueryError reports an unknown symbol on read endpoints as 404.
func writeQueryError(c *fiber.Ctx, err error) error {
	if errors.Is(err, engine.ErrUnknownSymbol) {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{Error: "Symbol not found"})
	}
	return writeError(c, err)
}

func tradeInfo(t engine.Trade) models.TradeInfo {
	return models.TradeInfo{
		TradeID:       t.ID.String(),
		Symbol:        t.Symbol,
		BuyOrderID:    t.BuyOrderID.String(),
		SellOrderID:   t.SellOrderID.String(),
		Price:         t.Price,
		Quantity:      t.Quantity,
		AggressorSide: t.AggressorSide.String(),
		Timestamp:     t.ExecutedAt.UnixMilli(),
	}
}

func orderStatus(o engine.Order) models.OrderStatusResponse {
	return models.OrderStatusResponse{
		OrderID:           o.ID.String(),
		UserID:            o.UserID,
		Symbol:            o.Symbol,
		Side:              o.Side.String(),
		Price:             o.Price,
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity(),
		Status:            string(o.Status),
		Sequence:          o.Sequence,
		Timestamp:         o.CreatedAt.UnixMilli(),
	}
}

func orderList(orders []engine.Order) models.OrderListResponse {
	out := make([]models.OrderStatusResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderStatus(o))
	}
	return models.OrderListResponse{Orders: out}
}

func levelInfo(levels []engine.LevelSnapshot) []models.PriceLevelInfo {
	out := make([]models.PriceLevelInfo, 0, len(levels))
	for _, l := range levels {
		out = append(out, models.PriceLevelInfo{Price: l.Price, Quantity: l.Quantity, Orders: l.Orders})
	}
	return out
}
