package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderID uint64

func (id OrderID) String() string {
	return fmt.Sprintf("ORD-%d", uint64(id))
}

// ParseOrderID accepts both "ORD-42" and "42".
func ParseOrderID(s string) (OrderID, error) {
	trimmed := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "ORD-")
	n, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid order id %q", s)
	}
	return OrderID(n), nil
}

type OrderSide uint8

const (
	SideBuy OrderSide = iota + 1
	SideSell
)

func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func ParseSide(s string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return 0, &ValidationError{Field: "side", Message: "side must be BUY or SELL"}
	}
}

type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// Order is one resting or incoming instruction. The engine owns the *Order;
// everything handed to callers is a value copy.
type Order struct {
	ID             OrderID
	UserID         string
	Symbol         string
	Side           OrderSide
	Price          decimal.Decimal
	Quantity       int64
	FilledQuantity int64
	Status         OrderStatus
	Sequence       uint64 // time component of price-time priority
	CreatedAt      time.Time
}

func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

func (o *Order) IsTerminal() bool {
	return o.Status == StatusFilled || o.Status == StatusCancelled
}

// IsOpen reports whether the order may rest on a book.
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen || o.Status == StatusPartiallyFilled
}

func (o *Order) fill(quantity int64) {
	invariant(quantity > 0, "order %s: non-positive fill %d", o.ID, quantity)
	invariant(!o.IsTerminal(), "order %s: fill on terminal order (%s)", o.ID, o.Status)
	invariant(o.FilledQuantity+quantity <= o.Quantity,
		"order %s: overfill %d+%d > %d", o.ID, o.FilledQuantity, quantity, o.Quantity)

	o.FilledQuantity += quantity
	if o.RemainingQuantity() == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

func (o *Order) cancel() {
	invariant(!o.IsTerminal(), "order %s: cancel on terminal order (%s)", o.ID, o.Status)
	o.Status = StatusCancelled
}

func (o *Order) snapshot() Order {
	return *o
}

// OrderRequest is the caller-supplied part of an order.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Price    decimal.Decimal
	Quantity int64
	UserID   string
}

func (r OrderRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return &ValidationError{Field: "symbol", Message: "symbol is required"}
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return &ValidationError{Field: "side", Message: "side must be BUY or SELL"}
	}
	if !r.Price.IsPositive() {
		return &ValidationError{Field: "price", Message: "price must be positive"}
	}
	if r.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "quantity must be positive"}
	}
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Field: "user_id", Message: "user id is required"}
	}
	return nil
}
