package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"go.uber.org/zap"
)

// RedisBroker relays changes through a Redis pub/sub channel so that every service
// instance sharing the channel sees every write. Local subscribers are served by an
// embedded LocalBroker fed from the channel, including this instance's own publishes.
type RedisBroker struct {
	*LocalBroker
	client  *redis.Client
	channel string
	ps      *redis.PubSub
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewRedisBroker(ctx context.Context, client *redis.Client, channel string, log *zap.Logger) (*RedisBroker, error) {
	local := NewLocalBroker(log)

	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broadcast: subscribe %q: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBroker{
		LocalBroker: local,
		client:      client,
		channel:     channel,
		ps:          ps,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
	go b.relay(runCtx)

	local.log.Info("Redis broker subscribed", zap.String("channel", channel))
	return b, nil
}

func (b *RedisBroker) relay(ctx context.Context) {
	defer close(b.stopped)
	msgs := b.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var change kv.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.log.Warn("Dropping undecodable change message",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}
			_ = b.LocalBroker.Publish(ctx, change)
		}
	}
}

// Publish sends change to the Redis channel; delivery to local subscribers happens when it comes back.
func (b *RedisBroker) Publish(ctx context.Context, change kv.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("broadcast: encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("broadcast: publish %q: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	b.cancel()
	err := b.ps.Close()
	<-b.stopped
	_ = b.LocalBroker.Close()
	return err
}
