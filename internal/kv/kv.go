// Package kv holds the flat key-value store that backs every scoped collection.
// Values are opaque strings; the storage layer above decides what they mean.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("kv: key not found")

// Store is a flat string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Change describes one mutation of a key.
type Change struct {
	Key      string    `json:"key"`
	OldValue string    `json:"oldValue,omitempty"`
	NewValue string    `json:"newValue,omitempty"`
	Deleted  bool      `json:"deleted,omitempty"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
}

type originKey struct{}

// WithOrigin tags writes made with ctx as coming from origin (a client or tab id).
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin attached by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

// Dump copies every key of s into a map.
func Dump(ctx context.Context, s Store) (map[string]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv: list keys: %w", err)
	}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("kv: get %q: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

// Restore writes every entry of snapshot into s. Keys missing from the snapshot are left alone.
func Restore(ctx context.Context, s Store, snapshot map[string]string) error {
	for key, value := range snapshot {
		if err := s.Set(ctx, key, value); err != nil {
			return fmt.Errorf("kv: set %q: %w", key, err)
		}
	}
	return nil
}
