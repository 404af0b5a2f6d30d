package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingHandler struct {
	mu     sync.Mutex
	trades []Trade
}

func (r *recordingHandler) HandleTrade(_ context.Context, trade Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func (r *recordingHandler) snapshot() []Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

func TestTradeFeedDeliversInOrder(t *testing.T) {
	feed := NewTradeFeed(4, zerolog.Nop())
	rec := &recordingHandler{}
	failures := 0
	feed.Subscribe("recorder", rec)
	feed.Subscribe("flaky", TradeHandlerFunc(func(context.Context, Trade) error {
		failures++
		return errors.New("downstream unavailable")
	}))
	feed.Start(context.Background())

	e := NewEngine(WithSymbols("AAPL"), WithTradeFeed(feed))
	for i := 0; i < 10; i++ {
		submit(t, e, "a", SideSell, "10", 1)
	}
	submit(t, e, "b", SideBuy, "10", 10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := feed.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := rec.snapshot()
	if len(got) != 10 {
		t.Fatalf("Expected 10 trades delivered, got: %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Fatalf("Trades out of order: %s after %s", got[i].ID, got[i-1].ID)
		}
	}
	if failures != 10 {
		t.Errorf("Expected failing handler called 10 times, got: %d", failures)
	}
}

func TestTradeFeedRejectsAfterClose(t *testing.T) {
	feed := NewTradeFeed(1, zerolog.Nop())
	feed.Start(context.Background())
	if err := feed.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := feed.publish(Trade{ID: 1}); !errors.Is(err, ErrFeedClosed) {
		t.Errorf("Expected ErrFeedClosed, got: %v", err)
	}
	if err := feed.Close(context.Background()); err != nil {
		t.Errorf("Expected second Close to be a no-op, got: %v", err)
	}
}

func TestTradeFeedCloseWithoutStart(t *testing.T) {
	feed := NewTradeFeed(0, zerolog.Nop())
	if err := feed.Close(context.Background()); err != nil {
		t.Errorf("Expected nil, got: %v", err)
	}
}
