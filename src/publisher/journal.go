package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/cockroachdb/pebble"

	"stock-exchange/src/engine"
)

// Journal is a durable, append-only audit log of executed trades.
// Keys: trade/<symbol>/<020d trade id>, so a prefix scan yields one
// symbol's trades in execution order.
type Journal struct {
	db *pebble.DB
}

func OpenJournal(dir string, opts *pebble.Options) (*Journal, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open trade journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// symbols are path-escaped so "BTC/USD" cannot collide with a "BTC" prefix
func journalPrefix(symbol string) []byte {
	return []byte("trade/" + url.PathEscape(symbol) + "/")
}

func journalKey(symbol string, id engine.TradeID) []byte {
	return []byte(fmt.Sprintf("%s%020d", journalPrefix(symbol), uint64(id)))
}

func (j *Journal) HandleTrade(_ context.Context, trade engine.Trade) error {
	return j.Append(trade)
}

func (j *Journal) Append(trade engine.Trade) error {
	value, err := json.Marshal(NewTradeRecord(trade))
	if err != nil {
		return err
	}
	if err := j.db.Set(journalKey(trade.Symbol, trade.ID), value, pebble.Sync); err != nil {
		return fmt.Errorf("journal append %s: %w", trade.ID, err)
	}
	return nil
}

// Trades returns every journaled trade for symbol in trade id order.
func (j *Journal) Trades(symbol string) ([]TradeRecord, error) {
	prefix := journalPrefix(symbol)
	upper := append([]byte{}, prefix...)
	upper[len(upper)-1]++

	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []TradeRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec TradeRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("journal decode %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
