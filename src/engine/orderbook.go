package engine

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const btreeDegree = 32

// OrderBook is the two-sided book for one symbol. mu is the symbol lock:
// the engine holds it for the whole of an admission, cancel or match pass.
type OrderBook struct {
	Symbol string

	bids   *btree.BTreeG[*PriceLevel] // highest price first
	asks   *btree.BTreeG[*PriceLevel] // lowest price first
	index  map[OrderID]*list.Element
	trades []Trade

	mu sync.RWMutex
}

type LevelSnapshot struct {
	Price    decimal.Decimal
	Quantity int64
	Orders   int
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids: btree.NewG(btreeDegree, func(a, b *PriceLevel) bool {
			return a.Price.GreaterThan(b.Price)
		}),
		asks: btree.NewG(btreeDegree, func(a, b *PriceLevel) bool {
			return a.Price.LessThan(b.Price)
		}),
		index: make(map[OrderID]*list.Element),
	}
}

func (ob *OrderBook) side(s OrderSide) *btree.BTreeG[*PriceLevel] {
	if s == SideBuy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) insert(o *Order) {
	invariant(o.IsOpen(), "book %s: inserting %s order %s", ob.Symbol, o.Status, o.ID)
	_, dup := ob.index[o.ID]
	invariant(!dup, "book %s: order %s already resting", ob.Symbol, o.ID)

	tree := ob.side(o.Side)
	level, ok := tree.Get(&PriceLevel{Price: o.Price})
	if !ok {
		level = newPriceLevel(o.Price)
		tree.ReplaceOrInsert(level)
	}
	ob.index[o.ID] = level.push(o)
}

func (ob *OrderBook) remove(o *Order) bool {
	elem, ok := ob.index[o.ID]
	if !ok {
		return false
	}

	tree := ob.side(o.Side)
	level, found := tree.Get(&PriceLevel{Price: o.Price})
	invariant(found, "book %s: order %s indexed but level %s missing", ob.Symbol, o.ID, o.Price)

	level.unlink(elem)
	delete(ob.index, o.ID)

	// edge case: remove empty price level
	if level.Len() == 0 {
		tree.Delete(level)
	}
	return true
}

func (ob *OrderBook) contains(id OrderID) bool {
	_, ok := ob.index[id]
	return ok
}

// applyFill fills a resting order and keeps its level volume in step.
func (ob *OrderBook) applyFill(o *Order, quantity int64) {
	if ob.contains(o.ID) {
		level, ok := ob.side(o.Side).Get(&PriceLevel{Price: o.Price})
		invariant(ok, "book %s: level %s missing for order %s", ob.Symbol, o.Price, o.ID)
		level.volume -= quantity
		invariant(level.volume >= 0, "book %s: negative volume at %s", ob.Symbol, o.Price)
	}
	o.fill(quantity)
}

func (ob *OrderBook) best(s OrderSide) *Order {
	level, ok := ob.side(s).Min()
	if !ok {
		return nil
	}
	return level.head()
}

func (ob *OrderBook) bestBid() *Order { return ob.best(SideBuy) }

func (ob *OrderBook) bestAsk() *Order { return ob.best(SideSell) }

func (ob *OrderBook) bestPrice(s OrderSide) decimal.Decimal {
	level, ok := ob.side(s).Min()
	if !ok {
		return decimal.Zero
	}
	return level.Price
}

func (ob *OrderBook) appendTrade(t Trade) {
	ob.trades = append(ob.trades, t)
}

// BestBidPrice returns zero when there are no bids.
func (ob *OrderBook) BestBidPrice() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bestPrice(SideBuy)
}

// BestAskPrice returns zero when there are no asks.
func (ob *OrderBook) BestAskPrice() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bestPrice(SideSell)
}

func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}

func (ob *OrderBook) Depth(depth int) (bids []LevelSnapshot, asks []LevelSnapshot) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.levels(ob.bids, depth), ob.levels(ob.asks, depth)
}

func (ob *OrderBook) levels(tree *btree.BTreeG[*PriceLevel], depth int) []LevelSnapshot {
	if depth <= 0 {
		return nil
	}
	out := make([]LevelSnapshot, 0, min(depth, tree.Len()))
	tree.Ascend(func(level *PriceLevel) bool {
		if len(out) >= depth {
			return false
		}
		out = append(out, LevelSnapshot{
			Price:    level.Price,
			Quantity: level.Volume(),
			Orders:   level.Len(),
		})
		return true
	})
	return out
}

// OpenOrders returns copies of every resting order, bids then asks, each in priority order.
func (ob *OrderBook) OpenOrders() []Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	out := make([]Order, 0, len(ob.index))
	collect := func(level *PriceLevel) bool {
		level.each(func(o *Order) bool {
			out = append(out, o.snapshot())
			return true
		})
		return true
	}
	ob.bids.Ascend(collect)
	ob.asks.Ascend(collect)
	return out
}

func (ob *OrderBook) Trades() []Trade {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	out := make([]Trade, len(ob.trades))
	copy(out, ob.trades)
	return out
}

// CheckInvariants walks the whole book. It is O(n) and meant for tests and
// the engine's optional post-admission check.
func (ob *OrderBook) CheckInvariants() error {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.checkInvariants()
}

func (ob *OrderBook) checkInvariants() error {
	seen := make(map[OrderID]OrderSide, len(ob.index))

	walk := func(s OrderSide, tree *btree.BTreeG[*PriceLevel]) error {
		var prev *PriceLevel
		var err error
		tree.Ascend(func(level *PriceLevel) bool {
			if level.Len() == 0 {
				err = fmt.Errorf("%s: empty %s level at %s", ob.Symbol, s, level.Price)
				return false
			}
			if prev != nil {
				if (s == SideBuy && !prev.Price.GreaterThan(level.Price)) ||
					(s == SideSell && !prev.Price.LessThan(level.Price)) {
					err = fmt.Errorf("%s: %s levels out of order at %s", ob.Symbol, s, level.Price)
					return false
				}
			}
			prev = level

			var volume int64
			var lastSeq uint64
			level.each(func(o *Order) bool {
				switch {
				case o.Side != s:
					err = fmt.Errorf("%s: order %s on wrong side", ob.Symbol, o.ID)
				case !o.IsOpen():
					err = fmt.Errorf("%s: %s order %s resting", ob.Symbol, o.Status, o.ID)
				case o.RemainingQuantity() <= 0:
					err = fmt.Errorf("%s: order %s resting with remaining %d", ob.Symbol, o.ID, o.RemainingQuantity())
				case !o.Price.Equal(level.Price):
					err = fmt.Errorf("%s: order %s at %s filed under %s", ob.Symbol, o.ID, o.Price, level.Price)
				case o.Sequence <= lastSeq:
					err = fmt.Errorf("%s: FIFO broken at %s (order %s)", ob.Symbol, level.Price, o.ID)
				}
				if _, dup := seen[o.ID]; dup {
					err = fmt.Errorf("%s: order %s appears twice", ob.Symbol, o.ID)
				}
				if err != nil {
					return false
				}
				seen[o.ID] = s
				lastSeq = o.Sequence
				volume += o.RemainingQuantity()
				return true
			})
			if err == nil && volume != level.Volume() {
				err = fmt.Errorf("%s: level %s volume %d, orders sum to %d", ob.Symbol, level.Price, level.Volume(), volume)
			}
			return err == nil
		})
		return err
	}

	if err := walk(SideBuy, ob.bids); err != nil {
		return err
	}
	if err := walk(SideSell, ob.asks); err != nil {
		return err
	}
	if len(seen) != len(ob.index) {
		return fmt.Errorf("%s: index holds %d orders, levels hold %d", ob.Symbol, len(ob.index), len(seen))
	}

	bid, ask := ob.bestBid(), ob.bestAsk()
	if bid != nil && ask != nil && !bid.Price.LessThan(ask.Price) {
		return fmt.Errorf("%s: book crossed, bid %s >= ask %s", ob.Symbol, bid.Price, ask.Price)
	}
	return nil
}
