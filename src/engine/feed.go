package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var ErrFeedClosed = errors.New("trade feed closed")

// TradeHandler consumes executed trades off the matching path.
// Settlement, market data and persistence subscribers implement it.
type TradeHandler interface {
	HandleTrade(ctx context.Context, trade Trade) error
}

type TradeHandlerFunc func(ctx context.Context, trade Trade) error

func (f TradeHandlerFunc) HandleTrade(ctx context.Context, trade Trade) error {
	return f(ctx, trade)
}

// TradeFeed delivers trades to handlers from a single goroutine, in the
// order they were published.
type TradeFeed struct {
	queue    chan Trade
	handlers []namedHandler
	log      zerolog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}
	stop    chan struct{}
}

type namedHandler struct {
	name    string
	handler TradeHandler
}

func NewTradeFeed(buffer int, log zerolog.Logger) *TradeFeed {
	if buffer <= 0 {
		buffer = 1024
	}
	return &TradeFeed{
		queue: make(chan Trade, buffer),
		log:   log,
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
}

// Subscribe must be called before Start.
func (f *TradeFeed) Subscribe(name string, h TradeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		f.log.Warn().Str("handler", name).Msg("Subscribe after start ignored")
		return
	}
	f.handlers = append(f.handlers, namedHandler{name: name, handler: h})
}

func (f *TradeFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	go f.run(ctx)
}

func (f *TradeFeed) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case trade, ok := <-f.queue:
			if !ok {
				return
			}
			f.dispatch(ctx, trade)
		case <-f.stop:
			// edge case: drain what was published before Close
			for {
				select {
				case trade := <-f.queue:
					f.dispatch(ctx, trade)
				default:
					return
				}
			}
		}
	}
}

func (f *TradeFeed) dispatch(ctx context.Context, trade Trade) {
	for _, h := range f.handlers {
		if err := h.handler.HandleTrade(ctx, trade); err != nil {
			f.log.Error().
				Err(err).
				Str("handler", h.name).
				Str("trade_id", trade.ID.String()).
				Str("symbol", trade.Symbol).
				Msg("Trade handler failed")
		}
	}
}

// publish blocks when the buffer is full; a slow subscriber applies
// backpressure to matching rather than dropping trades.
func (f *TradeFeed) publish(trade Trade) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}
	f.queue <- trade
	return nil
}

// Close stops accepting trades and waits until queued ones are delivered
// or ctx expires.
func (f *TradeFeed) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	started := f.started
	f.mu.Unlock()

	if !started {
		return nil
	}
	close(f.stop)

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
