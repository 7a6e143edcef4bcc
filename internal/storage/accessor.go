// Package storage maps logical collections onto tenant-scoped keys of a kv.Store.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/internal/session"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
	"go.uber.org/zap"
)

// Accessor is the single entry point to the key-value store for scoped collections.
type Accessor struct {
	store kv.Store
	guard Guard
	log   *zap.Logger
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithGuard replaces the default persistence guard.
func WithGuard(g Guard) Option {
	return func(a *Accessor) {
		a.guard = g
	}
}

// WithLogger sets the logger used for read diagnostics and guard warnings.
func WithLogger(l *zap.Logger) Option {
	return func(a *Accessor) {
		if l != nil {
			a.log = l
		}
	}
}

func NewAccessor(store kv.Store, opts ...Option) *Accessor {
	a := &Accessor{
		store: store,
		guard: Guard{Threshold: DefaultGuardThreshold},
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Collection is a typed, tenant-scoped list of records stored under one base key.
type Collection[T any] struct {
	base string
	acc  *Accessor
}

func NewCollection[T any](acc *Accessor, baseKey string) *Collection[T] {
	return &Collection[T]{base: baseKey, acc: acc}
}

// Name returns the base key.
func (c *Collection[T]) Name() string { return c.base }

// Key returns the effective key for tenant tc.
func (c *Collection[T]) Key(tc session.TenantContext) string {
	return EffectiveKey(c.base, tc)
}

// Read returns the records of tenant tc. Absent, unreadable and malformed values
// all read as an empty list; the cause is logged, never returned.
func (c *Collection[T]) Read(ctx context.Context, tc session.TenantContext) []T {
	key := c.Key(tc)
	log := c.acc.log.With(zap.String("collection", c.base), zap.String("key", key))

	raw, err := c.acc.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrMiss) {
			prometheus.RecordRead(c.base, "empty")
		} else {
			log.Error("Failed to read collection, treating as empty", zap.Error(err))
			prometheus.RecordRead(c.base, "error")
		}
		return []T{}
	}

	records, err := Decode[T](raw)
	if err != nil {
		log.Warn("Malformed collection value, treating as empty",
			zap.Int("length", len(raw)),
			zap.Error(err))
		prometheus.RecordRead(c.base, "malformed")
		return []T{}
	}

	prometheus.RecordRead(c.base, "hit")
	return records
}

// Write replaces the records of tenant tc. written is false when the persistence
// guard refused to replace existing data with an empty list; err is reserved for
// store and encoding failures.
func (c *Collection[T]) Write(ctx context.Context, tc session.TenantContext, records []T) (written bool, err error) {
	key := c.Key(tc)

	current, err := c.acc.store.Get(ctx, key)
	if err != nil && !errors.Is(err, kv.ErrMiss) {
		prometheus.RecordWrite(c.base, "error")
		return false, fmt.Errorf("storage: read current %q: %w", key, err)
	}

	if !c.acc.guard.ShouldWrite(current, len(records)) {
		c.acc.log.Warn("Refusing to overwrite stored collection with an empty list",
			zap.String("collection", c.base),
			zap.String("key", key),
			zap.Int("current_length", len(current)),
			zap.Int("threshold", c.acc.guard.Threshold))
		prometheus.RecordWrite(c.base, "guarded")
		return false, nil
	}

	if err := c.put(ctx, key, records); err != nil {
		prometheus.RecordWrite(c.base, "error")
		return false, err
	}
	prometheus.RecordWrite(c.base, "written")
	return true, nil
}

// Clear empties the collection of tenant tc without consulting the guard.
// Callers must have an explicit confirmation of the deletion.
func (c *Collection[T]) Clear(ctx context.Context, tc session.TenantContext) error {
	if err := c.put(ctx, c.Key(tc), []T{}); err != nil {
		prometheus.RecordWrite(c.base, "error")
		return err
	}
	c.acc.log.Info("Collection cleared", zap.String("collection", c.base), zap.String("key", c.Key(tc)))
	prometheus.RecordWrite(c.base, "cleared")
	return nil
}

func (c *Collection[T]) put(ctx context.Context, key string, records []T) error {
	raw, err := Encode(records)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	if err := c.acc.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	return nil
}

// Encode serialises records as a JSON array; nil encodes as [] rather than null.
func Encode[T any](records []T) (string, error) {
	if records == nil {
		records = []T{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a stored JSON array. A stored null decodes as an empty list.
func Decode[T any](raw string) ([]T, error) {
	var records []T
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}
