package engine

import "sync/atomic"

// Sequencer hands out strictly increasing values. One instance per counter;
// the engine owns three (order ids, trade ids, the global priority sequence).
type Sequencer struct {
	last atomic.Uint64
}

func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last value handed out.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}
