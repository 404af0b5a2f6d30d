package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"stock-exchange/src/engine"
)

const (
	EventTypeTradeExecuted = "trade.executed"
	eventVersion           = 1
)

type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	Version    int         `json:"v"`
	OccurredAt time.Time   `json:"occurred_at"`
	Trade      TradeRecord `json:"trade"`
}

// TradeRecord is the wire form of engine.Trade. Integers that may exceed
// 2^53 travel as strings so every codec round-trips them exactly.
type TradeRecord struct {
	TradeID       string          `json:"trade_id"`
	Symbol        string          `json:"symbol"`
	BuyOrderID    string          `json:"buy_order_id"`
	SellOrderID   string          `json:"sell_order_id"`
	BuyUserID     string          `json:"buy_user_id"`
	SellUserID    string          `json:"sell_user_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity,string"`
	Notional      decimal.Decimal `json:"notional"`
	AggressorSide string          `json:"aggressor_side"`
	Sequence      uint64          `json:"sequence,string"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

func NewTradeRecord(t engine.Trade) TradeRecord {
	return TradeRecord{
		TradeID:       t.ID.String(),
		Symbol:        t.Symbol,
		BuyOrderID:    t.BuyOrderID.String(),
		SellOrderID:   t.SellOrderID.String(),
		BuyUserID:     t.BuyUserID,
		SellUserID:    t.SellUserID,
		Price:         t.Price,
		Quantity:      t.Quantity,
		Notional:      t.Notional(),
		AggressorSide: t.AggressorSide.String(),
		Sequence:      t.Sequence,
		ExecutedAt:    t.ExecutedAt.UTC(),
	}
}

func NewTradeEvent(t engine.Trade) Event {
	return Event{
		ID:         uuid.New(),
		Type:       EventTypeTradeExecuted,
		Version:    eventVersion,
		OccurredAt: time.Now().UTC(),
		Trade:      NewTradeRecord(t),
	}
}

type Codec interface {
	Encode(ev Event) ([]byte, error)
	Decode(b []byte) (Event, error)
	ContentType() string
}

func NewCodec(format string) (Codec, error) {
	switch format {
	case "", "json":
		return JSONCodec{}, nil
	case "proto":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown event format %q", format)
	}
}

type JSONCodec struct{}

func (JSONCodec) Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (JSONCodec) Decode(b []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}

func (JSONCodec) ContentType() string { return "application/json" }

// ProtoCodec encodes the event as a google.protobuf.Struct so consumers
// can decode it without a generated schema.
type ProtoCodec struct{}

func (ProtoCodec) Encode(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return proto.Marshal(s)
}

func (ProtoCodec) Decode(b []byte) (Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Event{}, fmt.Errorf("unmarshal struct: %w", err)
	}
	raw, err := protojson.Marshal(&s)
	if err != nil {
		return Event{}, err
	}
	var ev Event
	err = json.Unmarshal(raw, &ev)
	return ev, err
}

func (ProtoCodec) ContentType() string { return "application/x-protobuf" }
