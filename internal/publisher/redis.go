// Package publisher fans quotes out to Redis for other services.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"TickerStream/internal/model"
	"TickerStream/internal/stream"
)

const (
	keyPrefix     = "quote:"
	channelPrefix = "quotes."
	queueSize     = 64
)

// RedisPublisher stores the latest quote under quote:<SYM> and publishes
// each new quote on quotes.<SYM>.
type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
	queue  chan *model.Quote

	mu   sync.Mutex
	last *model.Quote
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		log:    log.Named("publisher"),
		queue:  make(chan *model.Quote, queueSize),
	}
}

// Listen is a stream.Listener. It never blocks; quotes are dropped when the
// queue is full.
func (p *RedisPublisher) Listen(s stream.Snapshot) {
	if s.Quote == nil {
		return
	}
	p.mu.Lock()
	if s.Quote == p.last {
		p.mu.Unlock()
		return
	}
	p.last = s.Quote
	p.mu.Unlock()

	select {
	case p.queue <- s.Quote:
	default:
		p.log.Warn("publish queue full, dropping quote", zap.String("symbol", s.Quote.Symbol))
	}
}

// Run drains the queue until ctx is cancelled.
func (p *RedisPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case q := <-p.queue:
			if err := p.Publish(ctx, q); err != nil {
				p.log.Error("publish quote failed", zap.Error(err))
			}
		}
	}
}

// Publish writes q to Redis immediately.
func (p *RedisPublisher) Publish(ctx context.Context, q *model.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+q.Symbol, payload, 0)
	pipe.Publish(ctx, channelPrefix+q.Symbol, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}
