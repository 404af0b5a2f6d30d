package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"stock-exchange/src/config"
	"stock-exchange/src/engine"
)

type sink struct {
	name    string
	handler engine.TradeHandler
	closer  io.Closer
}

// Set is the group of trade subscribers enabled by configuration.
type Set struct {
	sinks []sink
	log   zerolog.Logger
}

// New builds every sink the config enables. On error, sinks opened so far
// are closed.
func New(cfg *config.Config, log zerolog.Logger) (*Set, error) {
	set := &Set{log: log}

	codec, err := NewCodec(cfg.EventFormat)
	if err != nil {
		return nil, err
	}

	switch cfg.PublisherDriver {
	case "kafka":
		s := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, codec)
		set.add("kafka", s, s)
	case "sarama":
		s, err := NewSaramaSink(cfg.KafkaBrokers, cfg.KafkaTopic, codec)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.add("sarama", s, s)
	case "none", "":
	default:
		return nil, fmt.Errorf("unknown publisher driver %q", cfg.PublisherDriver)
	}

	if cfg.JournalDir != "" {
		j, err := OpenJournal(cfg.JournalDir, nil)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.add("journal", j, j)
	}

	if cfg.RedisAddr != "" {
		c := NewRedisCache(cfg.RedisAddr, 100)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		// unreachable redis is not fatal; go-redis reconnects on the next trade
		if err := c.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis not reachable yet")
		}
		cancel()
		set.add("redis", c, c)
	}

	return set, nil
}

func (s *Set) add(name string, h engine.TradeHandler, c io.Closer) {
	s.sinks = append(s.sinks, sink{name: name, handler: h, closer: c})
	s.log.Info().Str("sink", name).Msg("Trade sink enabled")
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		names = append(names, sk.name)
	}
	return names
}

// Register subscribes every sink to the feed.
func (s *Set) Register(feed *engine.TradeFeed) {
	for _, sk := range s.sinks {
		feed.Subscribe(sk.name, sk.handler)
	}
}

func (s *Set) Close() error {
	var errs []error
	for _, sk := range s.sinks {
		if sk.closer == nil {
			continue
		}
		if err := sk.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sk.name, err))
		}
	}
	s.sinks = nil
	return errors.Join(errs...)
}
