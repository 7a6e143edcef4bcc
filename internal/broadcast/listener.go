package broadcast

import (
	"errors"
	"strings"
	"sync"

	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/internal/storage"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
	"go.uber.org/zap"
)

// Listener keeps one client's in-memory copy of a single key in step with writes
// made by other clients. Writes carrying the listener's own origin are not applied,
// since that client already holds the value it wrote.
type Listener[T any] struct {
	key    string
	origin string
	log    *zap.Logger

	mu       sync.RWMutex
	records  []T
	onChange func([]T)

	sub *Subscription
}

// Listen subscribes to key on b, starting from initial.
func Listen[T any](b Broker, key, origin string, initial []T, log *zap.Logger) *Listener[T] {
	if log == nil {
		log = zap.NewNop()
	}
	if initial == nil {
		initial = []T{}
	}
	l := &Listener[T]{
		key:     key,
		origin:  origin,
		log:     log.With(zap.String("key", key), zap.String("origin", origin)),
		records: initial,
	}
	l.sub = b.Subscribe(key, l.handle)
	return l
}

func (l *Listener[T]) handle(change kv.Change) {
	if l.origin != "" && change.Origin == l.origin {
		prometheus.RecordSyncEvent("own_origin")
		return
	}
	if change.Deleted {
		prometheus.RecordSyncEvent("deleted")
		return
	}

	records, err := decodeChange[T](change.NewValue)
	if err != nil {
		l.log.Warn("Ignoring change with unparseable value",
			zap.String("from", change.Origin),
			zap.Error(err))
		prometheus.RecordSyncEvent("invalid")
		return
	}

	l.mu.Lock()
	l.records = records
	fn := l.onChange
	l.mu.Unlock()

	prometheus.RecordSyncEvent("applied")
	if fn != nil {
		fn(records)
	}
}

var errNullValue = errors.New("value is null, not a list")

// decodeChange accepts only a JSON array. A null would otherwise decode to an
// empty list and wipe the local copy.
func decodeChange[T any](raw string) ([]T, error) {
	if strings.TrimSpace(raw) == "null" {
		return nil, errNullValue
	}
	return storage.Decode[T](raw)
}

// Records returns a copy of the current state.
func (l *Listener[T]) Records() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.records))
	copy(out, l.records)
	return out
}

// Set replaces local state after this client wrote the value itself.
func (l *Listener[T]) Set(records []T) {
	if records == nil {
		records = []T{}
	}
	l.mu.Lock()
	l.records = records
	l.mu.Unlock()
}

// OnChange registers fn to run after each applied remote change.
func (l *Listener[T]) OnChange(fn func([]T)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Close stops listening. The last state stays readable.
func (l *Listener[T]) Close() {
	l.sub.Close()
}
