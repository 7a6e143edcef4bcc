package kv

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Publisher receives every change applied through an Observed store.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Observed decorates a Store so that each successful Set or Delete is published.
// Reads pass straight through.
type Observed struct {
	Store
	pub Publisher
	log *zap.Logger
}

func NewObserved(s Store, pub Publisher, log *zap.Logger) *Observed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Observed{Store: s, pub: pub, log: log}
}

func (o *Observed) Set(ctx context.Context, key string, value string) error {
	old := o.previous(ctx, key)
	if err := o.Store.Set(ctx, key, value); err != nil {
		return err
	}
	o.publish(ctx, Change{Key: key, OldValue: old, NewValue: value})
	return nil
}

func (o *Observed) Delete(ctx context.Context, key string) error {
	old := o.previous(ctx, key)
	if err := o.Store.Delete(ctx, key); err != nil {
		return err
	}
	o.publish(ctx, Change{Key: key, OldValue: old, Deleted: true})
	return nil
}

func (o *Observed) previous(ctx context.Context, key string) string {
	old, err := o.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrMiss) {
		o.log.Debug("Could not read previous value", zap.String("key", key), zap.Error(err))
	}
	return old
}

// publish failures never fail the write; the value is already stored.
func (o *Observed) publish(ctx context.Context, change Change) {
	if o.pub == nil {
		return
	}
	change.Origin = OriginFrom(ctx)
	change.At = time.Now().UTC()
	if err := o.pub.Publish(ctx, change); err != nil {
		o.log.Warn("Failed to publish change",
			zap.String("key", change.Key),
			zap.String("origin", change.Origin),
			zap.Error(err))
	}
}
