package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"stock-exchange/src/config"
	"stock-exchange/src/engine"
)

func sampleTrade(id uint64, symbol string) engine.Trade {
	return engine.Trade{
		ID:            engine.TradeID(id),
		Symbol:        symbol,
		BuyOrderID:    2,
		SellOrderID:   1,
		BuyUserID:     "bob",
		SellUserID:    "alice",
		Price:         decimal.RequireFromString("101.25"),
		Quantity:      7,
		AggressorSide: engine.SideBuy,
		Sequence:      1<<60 + id,
		ExecutedAt:    time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, format := range []string{"json", "proto"} {
		t.Run(format, func(t *testing.T) {
			codec, err := NewCodec(format)
			if err != nil {
				t.Fatalf("NewCodec failed: %v", err)
			}
			ev := NewTradeEvent(sampleTrade(3, "AAPL"))

			b, err := codec.Encode(ev)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := codec.Decode(b)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if got.ID != ev.ID || got.Type != EventTypeTradeExecuted || got.Version != 1 {
				t.Errorf("Envelope mismatch: %+v", got)
			}
			tr := got.Trade
			if tr.TradeID != "TRD-3" || tr.BuyOrderID != "ORD-2" || tr.Quantity != 7 {
				t.Errorf("Trade mismatch: %+v", tr)
			}
			if tr.Sequence != 1<<60+3 {
				t.Errorf("Expected sequence preserved exactly, got: %d", tr.Sequence)
			}
			if !tr.Price.Equal(decimal.RequireFromString("101.25")) || !tr.Notional.Equal(decimal.RequireFromString("708.75")) {
				t.Errorf("Price/notional mismatch: %s %s", tr.Price, tr.Notional)
			}
			if !tr.ExecutedAt.Equal(ev.Trade.ExecutedAt) {
				t.Errorf("ExecutedAt mismatch: %s", tr.ExecutedAt)
			}
		})
	}

	if _, err := NewCodec("xml"); err == nil {
		t.Error("Expected unknown format error")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkKeysBySymbol(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSink{writer: w, codec: JSONCodec{}}

	if err := s.HandleTrade(context.Background(), sampleTrade(1, "MSFT")); err != nil {
		t.Fatalf("HandleTrade failed: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "MSFT" {
		t.Fatalf("Expected one message keyed MSFT, got: %+v", w.msgs)
	}
	ev, err := JSONCodec{}.Decode(w.msgs[0].Value)
	if err != nil || ev.Trade.Symbol != "MSFT" {
		t.Errorf("Unexpected payload: %+v %v", ev, err)
	}

	w.err = errors.New("broker down")
	if err := s.HandleTrade(context.Background(), sampleTrade(2, "MSFT")); err == nil {
		t.Error("Expected write error to propagate")
	}
	_ = s.Close()
	if !w.closed {
		t.Error("Expected writer closed")
	}
}

func TestSaramaSinkSendsEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		ev, err := ProtoCodec{}.Decode(val)
		if err != nil {
			return err
		}
		if ev.Trade.Symbol != "AAPL" {
			return fmt.Errorf("unexpected symbol %s", ev.Trade.Symbol)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := newSaramaSink(producer, "trades", ProtoCodec{})
	if err := s.HandleTrade(context.Background(), sampleTrade(1, "AAPL")); err != nil {
		t.Fatalf("HandleTrade failed: %v", err)
	}
	if err := s.HandleTrade(context.Background(), sampleTrade(2, "AAPL")); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Expected ErrOutOfBrokers, got: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func openMemJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalScansPerSymbolInOrder(t *testing.T) {
	j := openMemJournal(t)
	ctx := context.Background()

	for _, id := range []uint64{10, 2, 33} {
		if err := j.HandleTrade(ctx, sampleTrade(id, "BTC")); err != nil {
			t.Fatalf("HandleTrade failed: %v", err)
		}
	}
	if err := j.Append(sampleTrade(5, "BTC/USD")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	recs, err := j.Trades("BTC")
	if err != nil {
		t.Fatalf("Trades failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("Expected 3 BTC trades, got: %d", len(recs))
	}
	want := []string{"TRD-2", "TRD-10", "TRD-33"}
	for i, rec := range recs {
		if rec.TradeID != want[i] {
			t.Errorf("Expected %s at %d, got: %s", want[i], i, rec.TradeID)
		}
	}

	other, err := j.Trades("BTC/USD")
	if err != nil || len(other) != 1 {
		t.Errorf("Expected 1 BTC/USD trade, got: %d %v", len(other), err)
	}
	none, err := j.Trades("ETH")
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no ETH trades, got: %d %v", len(none), err)
	}
}

func TestJournalReceivesEngineTrades(t *testing.T) {
	j := openMemJournal(t)
	feed := engine.NewTradeFeed(16, zerolog.Nop())
	feed.Subscribe("journal", j)
	feed.Start(context.Background())

	e := engine.NewEngine(engine.WithSymbols("AAPL"), engine.WithTradeFeed(feed))
	ctx := context.Background()
	for _, req := range []engine.OrderRequest{
		{Symbol: "AAPL", Side: engine.SideSell, Price: decimal.NewFromInt(10), Quantity: 5, UserID: "a"},
		{Symbol: "AAPL", Side: engine.SideSell, Price: decimal.NewFromInt(11), Quantity: 5, UserID: "a"},
		{Symbol: "AAPL", Side: engine.SideBuy, Price: decimal.NewFromInt(11), Quantity: 8, UserID: "b"},
	} {
		if _, err := e.Submit(ctx, req); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := feed.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	recs, err := j.Trades("AAPL")
	if err != nil {
		t.Fatalf("Trades failed: %v", err)
	}
	if len(recs) != 2 || recs[0].Quantity != 5 || recs[1].Quantity != 3 {
		t.Errorf("Unexpected journal contents: %+v", recs)
	}
}

func TestNewBuildsConfiguredSinks(t *testing.T) {
	cfg := &config.Config{PublisherDriver: "kafka", KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "trades", EventFormat: "json"}
	set, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if names := set.Names(); len(names) != 1 || names[0] != "kafka" {
		t.Errorf("Expected [kafka], got: %v", names)
	}
	_ = set.Close()

	none, err := New(&config.Config{PublisherDriver: "none", EventFormat: "json"}, zerolog.Nop())
	if err != nil || len(none.Names()) != 0 {
		t.Errorf("Expected no sinks, got: %v %v", none.Names(), err)
	}

	if _, err := New(&config.Config{PublisherDriver: "nats", EventFormat: "json"}, zerolog.Nop()); err == nil {
		t.Error("Expected unknown driver error")
	}
}

func TestRedisCacheWritesLastTradeAndHistory(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := newRedisCache(db, 50)
	trade := sampleTrade(9, "AAPL")

	encoded, err := json.Marshal(NewTradeRecord(trade))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	mock.ExpectTxPipeline()
	mock.ExpectHSet("last_trade:AAPL",
		"trade_id", "TRD-9",
		"price", "101.25",
		"quantity", int64(7),
		"executed_at", trade.ExecutedAt.UTC().Format(time.RFC3339Nano),
	).SetVal(4)
	mock.ExpectLPush("trades:AAPL", encoded).SetVal(1)
	mock.ExpectLTrim("trades:AAPL", 0, 49).SetVal("OK")
	mock.ExpectTxPipelineExec()

	if err := c.HandleTrade(context.Background(), trade); err != nil {
		t.Fatalf("HandleTrade failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet redis expectations: %v", err)
	}
}

func TestRedisCacheLastTrade(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := newRedisCache(db, 0)
	ctx := context.Background()

	mock.ExpectHGetAll("last_trade:AAPL").SetVal(map[string]string{"trade_id": "TRD-9", "price": "101.25"})
	mock.ExpectHGetAll("last_trade:MSFT").SetVal(map[string]string{})
	mock.ExpectHGetAll("last_trade:TSLA").SetErr(errors.New("connection refused"))

	fields, err := c.LastTrade(ctx, "AAPL")
	if err != nil {
		t.Fatalf("LastTrade failed: %v", err)
	}
	if fields["trade_id"] != "TRD-9" || fields["price"] != "101.25" {
		t.Errorf("Unexpected last trade: %v", fields)
	}

	if _, err := c.LastTrade(ctx, "MSFT"); !errors.Is(err, ErrNoTrades) {
		t.Errorf("Expected ErrNoTrades, got: %v", err)
	}
	if _, err := c.LastTrade(ctx, "TSLA"); err == nil || errors.Is(err, ErrNoTrades) {
		t.Errorf("Expected redis error to propagate, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet redis expectations: %v", err)
	}
}
