package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SelfTradePolicy decides what happens when both sides of a match belong
// to the same user.
type SelfTradePolicy string

const (
	SelfTradeAllow           SelfTradePolicy = "allow"
	SelfTradeCancelResting   SelfTradePolicy = "cancel-resting"
	SelfTradeCancelAggressor SelfTradePolicy = "cancel-aggressor"
)

func ParseSelfTradePolicy(s string) (SelfTradePolicy, error) {
	switch p := SelfTradePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", SelfTradeAllow:
		return SelfTradeAllow, nil
	case SelfTradeCancelResting, SelfTradeCancelAggressor:
		return p, nil
	default:
		return "", fmt.Errorf("unknown self-trade policy %q", s)
	}
}

// Engine is the matching engine: one OrderBook per listed symbol plus the
// exchange-wide order registry and sequence counters.
type Engine struct {
	booksMu sync.RWMutex
	books   map[string]*OrderBook

	registryMu sync.RWMutex
	orders     map[OrderID]*Order
	byUser     map[string][]*Order

	orderIDs *Sequencer
	tradeIDs *Sequencer
	sequence *Sequencer

	selfTrade       SelfTradePolicy
	feed            *TradeFeed
	log             zerolog.Logger
	now             func() time.Time
	checkInvariants bool

	ordersReceived  atomic.Int64
	ordersCancelled atomic.Int64
	tradesExecuted  atomic.Int64
}

type Option func(*Engine)

func WithSymbols(symbols ...string) Option {
	return func(e *Engine) {
		for _, s := range symbols {
			e.listSymbol(s)
		}
	}
}

func WithSelfTradePolicy(p SelfTradePolicy) Option {
	return func(e *Engine) { e.selfTrade = p }
}

func WithTradeFeed(feed *TradeFeed) Option {
	return func(e *Engine) { e.feed = feed }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithInvariantChecks walks the touched book after every mutation and
// panics on corruption. O(n) per call.
func WithInvariantChecks(enabled bool) Option {
	return func(e *Engine) { e.checkInvariants = enabled }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		books:     make(map[string]*OrderBook),
		orders:    make(map[OrderID]*Order),
		byUser:    make(map[string][]*Order),
		orderIDs:  NewSequencer(0),
		tradeIDs:  NewSequencer(0),
		sequence:  NewSequencer(0),
		selfTrade: SelfTradeAllow,
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListSymbol makes a symbol tradable. Listing twice is a no-op.
func (e *Engine) ListSymbol(symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return &ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	e.listSymbol(symbol)
	return nil
}

func (e *Engine) listSymbol(symbol string) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return
	}
	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	if _, exists := e.books[symbol]; !exists {
		e.books[symbol] = NewOrderBook(symbol)
		e.log.Info().Str("symbol", symbol).Msg("Symbol listed")
	}
}

func (e *Engine) Symbols() []string {
	e.booksMu.RLock()
	defer e.booksMu.RUnlock()
	out := make([]string, 0, len(e.books))
	for s := range e.books {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) book(symbol string) (*OrderBook, error) {
	e.booksMu.RLock()
	defer e.booksMu.RUnlock()
	ob, ok := e.books[symbol]
	if !ok {
		return nil, &ValidationError{
			Field:   "symbol",
			Message: fmt.Sprintf("unknown symbol %q", symbol),
			Err:     ErrUnknownSymbol,
		}
	}
	return ob, nil
}

// Book returns the live book for read-only queries.
func (e *Engine) Book(symbol string) (*OrderBook, error) {
	return e.book(symbol)
}

type SubmitResult struct {
	OrderID           OrderID
	Status            OrderStatus
	FilledQuantity    int64
	RemainingQuantity int64
	Trades            []Trade
}

// Submit validates req, admits it to its symbol's book and crosses the book
// until it no longer crosses. Trades are produced before Submit returns.
func (e *Engine) Submit(ctx context.Context, req OrderRequest) (*SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ob, err := e.book(req.Symbol)
	if err != nil {
		return nil, err
	}

	e.ordersReceived.Add(1)

	ob.mu.Lock()
	defer ob.mu.Unlock()

	// ids and sequence are stamped under the symbol lock so that, within a
	// symbol, sequence order is book arrival order
	order := &Order{
		ID:        OrderID(e.orderIDs.Next()),
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    StatusOpen,
		Sequence:  e.sequence.Next(),
		CreatedAt: e.now(),
	}
	e.register(order)

	e.log.Info().
		Str("order_id", order.ID.String()).
		Str("user_id", order.UserID).
		Str("symbol", order.Symbol).
		Str("side", order.Side.String()).
		Str("price", order.Price.String()).
		Int64("quantity", order.Quantity).
		Uint64("sequence", order.Sequence).
		Msg("Order admitted")

	ob.insert(order)
	trades := e.cross(ob)
	e.verify(ob)

	return &SubmitResult{
		OrderID:           order.ID,
		Status:            order.Status,
		FilledQuantity:    order.FilledQuantity,
		RemainingQuantity: order.RemainingQuantity(),
		Trades:            trades,
	}, nil
}

// PlaceOrder is Submit for callers that only need the id.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (OrderID, error) {
	res, err := e.Submit(ctx, req)
	if err != nil {
		return 0, err
	}
	return res.OrderID, nil
}

func (e *Engine) register(o *Order) {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()
	e.orders[o.ID] = o
	e.byUser[o.UserID] = append(e.byUser[o.UserID], o)
}

// cross pairs best bid against best ask while they cross. Caller holds ob.mu.
func (e *Engine) cross(ob *OrderBook) []Trade {
	var trades []Trade
	for {
		bid, ask := ob.bestBid(), ob.bestAsk()
		if bid == nil || ask == nil {
			return trades
		}
		if bid.Price.LessThan(ask.Price) {
			return trades
		}

		// the later arrival is the aggressor; the resting order sets the price
		aggressor, resting := bid, ask
		if ask.Sequence > bid.Sequence {
			aggressor, resting = ask, bid
		}

		if bid.UserID == ask.UserID && e.selfTrade != SelfTradeAllow {
			victim := resting
			if e.selfTrade == SelfTradeCancelAggressor {
				victim = aggressor
			}
			ob.remove(victim)
			victim.cancel()
			e.ordersCancelled.Add(1)
			e.log.Warn().
				Str("symbol", ob.Symbol).
				Str("user_id", victim.UserID).
				Str("cancelled_order_id", victim.ID.String()).
				Str("policy", string(e.selfTrade)).
				Msg("Self-trade prevented")
			continue
		}

		qty := min(bid.RemainingQuantity(), ask.RemainingQuantity())
		price := resting.Price
		invariant(qty > 0, "book %s: crossing with empty order", ob.Symbol)
		invariant(priceWithinLimits(price, bid, ask),
			"book %s: execution price %s outside [%s, %s]", ob.Symbol, price, ask.Price, bid.Price)

		ob.applyFill(bid, qty)
		ob.applyFill(ask, qty)

		trade := Trade{
			ID:            TradeID(e.tradeIDs.Next()),
			Symbol:        ob.Symbol,
			BuyOrderID:    bid.ID,
			SellOrderID:   ask.ID,
			BuyUserID:     bid.UserID,
			SellUserID:    ask.UserID,
			Price:         price,
			Quantity:      qty,
			AggressorSide: aggressor.Side,
			Sequence:      e.sequence.Next(),
			ExecutedAt:    e.now(),
		}
		ob.appendTrade(trade)
		trades = append(trades, trade)
		e.tradesExecuted.Add(1)

		e.log.Debug().
			Str("trade_id", trade.ID.String()).
			Str("symbol", trade.Symbol).
			Str("buy_order_id", bid.ID.String()).
			Str("sell_order_id", ask.ID.String()).
			Str("price", price.String()).
			Int64("quantity", qty).
			Msg("Trade executed")

		if e.feed != nil {
			if err := e.feed.publish(trade); err != nil {
				e.log.Warn().Err(err).Str("trade_id", trade.ID.String()).Msg("Trade not published")
			}
		}

		if bid.RemainingQuantity() == 0 {
			ob.remove(bid)
		}
		if ask.RemainingQuantity() == 0 {
			ob.remove(ask)
		}
	}
}

func priceWithinLimits(price decimal.Decimal, bid, ask *Order) bool {
	return !price.LessThan(ask.Price) && !price.GreaterThan(bid.Price)
}

func (e *Engine) verify(ob *OrderBook) {
	if !e.checkInvariants {
		return
	}
	if err := ob.checkInvariants(); err != nil {
		panic(InvariantViolation{Message: err.Error()})
	}
}

// MatchOrders runs the crossing loop on demand and returns how many trades
// it produced. A book maintained by Submit is never left crossed, so this
// normally returns 0.
func (e *Engine) MatchOrders(symbol string) (int, error) {
	ob, err := e.book(symbol)
	if err != nil {
		return 0, err
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	trades := e.cross(ob)
	e.verify(ob)
	return len(trades), nil
}

// Cancel removes an open order from its book. Fills that already happened stand.
func (e *Engine) Cancel(id OrderID) error {
	order, ok := e.lookup(id)
	if !ok {
		return ErrOrderNotFound
	}
	ob, err := e.book(order.Symbol)
	if err != nil {
		return err
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	// edge case: a fill may have won the lock first
	if order.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotOpen, id, order.Status)
	}
	removed := ob.remove(order)
	invariant(removed, "book %s: open order %s not resting", ob.Symbol, id)
	order.cancel()
	e.ordersCancelled.Add(1)
	e.verify(ob)

	e.log.Info().
		Str("order_id", id.String()).
		Str("symbol", order.Symbol).
		Int64("filled_quantity", order.FilledQuantity).
		Msg("Order cancelled")
	return nil
}

// CancelOrder reports whether the order was cancelled by this call.
func (e *Engine) CancelOrder(id OrderID) bool {
	return e.Cancel(id) == nil
}

func (e *Engine) lookup(id OrderID) (*Order, bool) {
	e.registryMu.RLock()
	defer e.registryMu.RUnlock()
	o, ok := e.orders[id]
	return o, ok
}

// snapshotOf copies o under its book's read lock.
func (e *Engine) snapshotOf(o *Order) Order {
	ob, err := e.book(o.Symbol)
	invariant(err == nil, "order %s references unlisted symbol %s", o.ID, o.Symbol)
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return o.snapshot()
}

func (e *Engine) GetOrder(id OrderID) (Order, error) {
	o, ok := e.lookup(id)
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return e.snapshotOf(o), nil
}

func (e *Engine) GetOpenOrders(symbol string) ([]Order, error) {
	ob, err := e.book(symbol)
	if err != nil {
		return nil, err
	}
	return ob.OpenOrders(), nil
}

// GetUserOrders returns every order the user ever submitted, terminal ones
// included, in submission order.
func (e *Engine) GetUserOrders(userID string) []Order {
	e.registryMu.RLock()
	owned := make([]*Order, len(e.byUser[userID]))
	copy(owned, e.byUser[userID])
	e.registryMu.RUnlock()

	out := make([]Order, 0, len(owned))
	for _, o := range owned {
		out = append(out, e.snapshotOf(o))
	}
	return out
}

func (e *Engine) GetTrades(symbol string) ([]Trade, error) {
	ob, err := e.book(symbol)
	if err != nil {
		return nil, err
	}
	return ob.Trades(), nil
}

func (e *Engine) BestBid(symbol string) (decimal.Decimal, error) {
	ob, err := e.book(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return ob.BestBidPrice(), nil
}

func (e *Engine) BestAsk(symbol string) (decimal.Decimal, error) {
	ob, err := e.book(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return ob.BestAskPrice(), nil
}

func (e *Engine) Depth(symbol string, depth int) (bids, asks []LevelSnapshot, err error) {
	ob, err := e.book(symbol)
	if err != nil {
		return nil, nil, err
	}
	bids, asks = ob.Depth(depth)
	return bids, asks, nil
}

type Stats struct {
	OrdersReceived  int64
	OrdersCancelled int64
	OrdersResting   int64
	TradesExecuted  int64
	Symbols         int
}

func (e *Engine) Stats() Stats {
	e.booksMu.RLock()
	books := make([]*OrderBook, 0, len(e.books))
	for _, ob := range e.books {
		books = append(books, ob)
	}
	e.booksMu.RUnlock()

	var resting int64
	for _, ob := range books {
		resting += int64(ob.Len())
	}
	return Stats{
		OrdersReceived:  e.ordersReceived.Load(),
		OrdersCancelled: e.ordersCancelled.Load(),
		OrdersResting:   resting,
		TradesExecuted:  e.tradesExecuted.Load(),
		Symbols:         len(books),
	}
}
