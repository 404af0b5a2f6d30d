package engine

import (
	"container/list"

	"github.com/shopspring/decimal"
)

// PriceLevel holds every resting order at one price in arrival order.
type PriceLevel struct {
	Price  decimal.Decimal
	orders *list.List // *Order, front = oldest
	volume int64      // sum of remaining quantity
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		orders: list.New(),
	}
}

func (pl *PriceLevel) push(o *Order) *list.Element {
	pl.volume += o.RemainingQuantity()
	return pl.orders.PushBack(o)
}

func (pl *PriceLevel) unlink(e *list.Element) *Order {
	o := pl.orders.Remove(e).(*Order)
	pl.volume -= o.RemainingQuantity()
	return o
}

func (pl *PriceLevel) head() *Order {
	front := pl.orders.Front()
	if front == nil {
		return nil
	}
	return front.Value.(*Order)
}

func (pl *PriceLevel) Len() int {
	return pl.orders.Len()
}

func (pl *PriceLevel) Volume() int64 {
	return pl.volume
}

func (pl *PriceLevel) each(fn func(o *Order) bool) {
	for e := pl.orders.Front(); e != nil; e = e.Next() {
		if !fn(e.Value.(*Order)) {
			return
		}
	}
}
