package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TradeID uint64

func (id TradeID) String() string {
	return fmt.Sprintf("TRD-%d", uint64(id))
}

// Trade is an immutable record of one execution.
type Trade struct {
	ID            TradeID
	Symbol        string
	BuyOrderID    OrderID
	SellOrderID   OrderID
	BuyUserID     string
	SellUserID    string
	Price         decimal.Decimal
	Quantity      int64
	AggressorSide OrderSide
	Sequence      uint64
	ExecutedAt    time.Time
}

func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
