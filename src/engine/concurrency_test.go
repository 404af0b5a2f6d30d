package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

// TestConcurrentSubmitAndCancel hammers one symbol from many goroutines and
// then checks that no resting order was double-executed or left crossed.
// Run with -race.
func TestConcurrentSubmitAndCancel(t *testing.T) {
	e := NewEngine(WithSymbols("AAPL"))

	numGoroutines := 32
	ordersPerGoroutine := 100

	var wg sync.WaitGroup
	ids := make(chan OrderID, numGoroutines*ordersPerGoroutine)

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < ordersPerGoroutine; j++ {
				side := SideBuy
				if (g+j)%2 == 0 {
					side = SideSell
				}
				res, err := e.Submit(context.Background(), OrderRequest{
					Symbol:   "AAPL",
					Side:     side,
					Price:    decimal.NewFromInt(int64(100 + (j % 5) - 2)),
					Quantity: int64(1 + j%7),
					UserID:   fmt.Sprintf("user-%d", g),
				})
				if err != nil {
					t.Errorf("Submit failed: %v", err)
					return
				}
				ids <- res.OrderID
				if j%10 == 0 {
					_ = e.Cancel(res.OrderID)
				}
			}
		}(g)
	}
	wg.Wait()
	close(ids)

	ob, _ := e.Book("AAPL")
	if err := ob.CheckInvariants(); err != nil {
		t.Fatalf("Book corrupted: %v", err)
	}

	filled := make(map[OrderID]int64)
	trades, _ := e.GetTrades("AAPL")
	for _, tr := range trades {
		filled[tr.BuyOrderID] += tr.Quantity
		filled[tr.SellOrderID] += tr.Quantity
	}

	count := 0
	for id := range ids {
		count++
		o, err := e.GetOrder(id)
		if err != nil {
			t.Fatalf("GetOrder failed: %v", err)
		}
		if o.FilledQuantity != filled[id] {
			t.Fatalf("Order %s filled %d, trade log says %d", id, o.FilledQuantity, filled[id])
		}
		if o.FilledQuantity > o.Quantity {
			t.Fatalf("Order %s overfilled", id)
		}
	}
	if count != numGoroutines*ordersPerGoroutine {
		t.Errorf("Expected %d orders, got: %d", numGoroutines*ordersPerGoroutine, count)
	}
}

// TestConcurrentCancelRacesFill: exactly one of cancel and fill wins per order
func TestConcurrentCancelRacesFill(t *testing.T) {
	for round := 0; round < 200; round++ {
		e := NewEngine(WithSymbols("AAPL"))
		rest, _ := e.Submit(context.Background(), OrderRequest{Symbol: "AAPL", Side: SideSell, Price: decimal.NewFromInt(10), Quantity: 5, UserID: "a"})

		var wg sync.WaitGroup
		var cancelErr error
		var res *SubmitResult
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancelErr = e.Cancel(rest.OrderID)
		}()
		go func() {
			defer wg.Done()
			res, _ = e.Submit(context.Background(), OrderRequest{Symbol: "AAPL", Side: SideBuy, Price: decimal.NewFromInt(10), Quantity: 5, UserID: "b"})
		}()
		wg.Wait()

		o, _ := e.GetOrder(rest.OrderID)
		if cancelErr == nil {
			if o.Status != StatusCancelled || len(res.Trades) != 0 {
				t.Fatalf("Cancel won but order %s / %d trades", o.Status, len(res.Trades))
			}
		} else {
			if o.Status != StatusFilled || len(res.Trades) != 1 {
				t.Fatalf("Fill won but order %s / %d trades", o.Status, len(res.Trades))
			}
		}
	}
}

func TestConcurrentSymbolsInParallel(t *testing.T) {
	symbols := []string{"AAPL", "MSFT", "GOOG", "AMZN"}
	e := NewEngine(WithSymbols(symbols...))

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				side := SideBuy
				if i%2 == 1 {
					side = SideSell
				}
				if _, err := e.Submit(context.Background(), OrderRequest{
					Symbol: sym, Side: side, Price: decimal.NewFromInt(50), Quantity: 1, UserID: "u",
				}); err != nil {
					t.Errorf("Submit failed: %v", err)
					return
				}
			}
		}(sym)
	}
	wg.Wait()

	for _, sym := range symbols {
		trades, _ := e.GetTrades(sym)
		if len(trades) != 100 {
			t.Errorf("%s: expected 100 trades, got: %d", sym, len(trades))
		}
	}
}
