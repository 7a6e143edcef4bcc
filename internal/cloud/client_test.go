package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okbozin/okboz-crm-sub003/internal/broadcast"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCloud is an in-memory stand-in for the remote collaborator.
type fakeCloud struct {
	mu       sync.Mutex
	entries  map[string]string
	uploads  map[string][]byte
	failFile bool
	auth     string
}

func newFakeCloud(t *testing.T) (*fakeCloud, *Client) {
	t.Helper()
	f := &fakeCloud{entries: map[string]string{}, uploads: map[string][]byte{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c := NewClient(&config.CloudConfig{BaseURL: srv.URL + "/", APIKey: "k3y", Timeout: 5 * time.Second}, nil)
	return f, c
}

func (f *fakeCloud) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/snapshot" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(Snapshot{Entries: f.entries, TakenAt: time.Now()})
	case r.URL.Path == "/snapshot" && r.Method == http.MethodPut:
		var snap Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad snapshot"}`))
			return
		}
		f.entries = snap.Entries
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(r.URL.Path, "/keys/"):
		key := strings.TrimPrefix(r.URL.Path, "/keys/")
		if r.Method == http.MethodDelete {
			delete(f.entries, key)
		} else {
			var kvp keyValue
			_ = json.NewDecoder(r.Body).Decode(&kvp)
			f.entries[key] = kvp.Value
		}
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/files" && r.Method == http.MethodPost:
		if f.failFile {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"storage offline"}`))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		path := r.FormValue("path") + "/" + header.Filename
		f.uploads[path] = data
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://files.example/" + path})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeCloud) entry(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[key]
	return v, ok
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	f, c := newFakeCloud(t)
	f.entries["staff_data"] = `[{"id":"E1","name":"Asha"}]`
	f.entries["holidays_acme@co.com"] = `[]`

	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "local_only", "x"))

	n, err := c.Hydrate(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Bearer k3y", f.auth)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"holidays_acme@co.com", "local_only", "staff_data"}, keys)
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	f, c := newFakeCloud(t)
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "vendor_data", `[{"id":"V1","name":"Acme"}]`))

	n, err := c.Backup(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, ok := f.entry("vendor_data")
	assert.True(t, ok)
	assert.Equal(t, `[{"id":"V1","name":"Acme"}]`, v)
}

func TestHydrate_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	}))
	defer srv.Close()

	c := NewClient(&config.CloudConfig{BaseURL: srv.URL, Timeout: time.Second}, nil)
	store := kv.NewMemoryStore()
	_, err := c.Hydrate(context.Background(), store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance")

	keys, _ := store.Keys(context.Background())
	assert.Empty(t, keys)
}

func TestAutoSync(t *testing.T) {
	f, c := newFakeCloud(t)
	b := broadcast.NewLocalBroker(nil)
	defer b.Close()

	sub := c.AutoSync(b)
	defer sub.Close()

	store := kv.NewObserved(kv.NewMemoryStore(), b, nil)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "shifts_acme@co.com", `[{"id":"S1"}]`))
	require.NoError(t, store.Set(ctx, "leads_data", `[]`))
	require.NoError(t, store.Delete(ctx, "leads_data"))

	assert.Eventually(t, func() bool {
		v, ok := f.entry("shifts_acme@co.com")
		_, leadsKept := f.entry("leads_data")
		return ok && v == `[{"id":"S1"}]` && !leadsKept
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUploadOrInline(t *testing.T) {
	ctx := context.Background()
	f, c := newFakeCloud(t)
	pdf := []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\n")

	up, err := c.UploadOrInline(ctx, "documents/acme", "contract.pdf", pdf)
	require.NoError(t, err)
	assert.False(t, up.Inline)
	assert.Equal(t, "https://files.example/documents/acme/contract.pdf", up.URL)
	assert.Equal(t, "application/pdf", up.MimeType)
	assert.Equal(t, int64(len(pdf)), up.Size)
	assert.Equal(t, pdf, f.uploads["documents/acme/contract.pdf"])

	f.mu.Lock()
	f.failFile = true
	f.mu.Unlock()

	up, err = c.UploadOrInline(ctx, "documents/acme", "notes.txt", []byte("hello"))
	require.NoError(t, err)
	assert.True(t, up.Inline)
	assert.Equal(t, "text/plain", up.MimeType)
	assert.Equal(t, "data:text/plain;base64,aGVsbG8=", up.URL)

	_, err = c.UploadOrInline(ctx, "documents/acme", "huge.bin", make([]byte, MaxInlineSize+1))
	assert.ErrorIs(t, err, ErrTooLargeForInline)
}

func TestDetectMime(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	assert.Equal(t, "image/png", DetectMime(png))
	assert.Equal(t, "application/json", DetectMime([]byte(`{"a":1}`)))
}
