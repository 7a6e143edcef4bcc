// Package cloud talks to the remote collaborator that mirrors the key-value store
// and hosts uploaded files.
package cloud

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/okbozin/okboz-crm-sub003/internal/broadcast"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/pkg/config"
	"github.com/okbozin/okboz-crm-sub003/prometheus"
	"go.uber.org/zap"
)

// MaxInlineSize bounds files that may be embedded as data URLs when upload fails.
const MaxInlineSize = 2 << 20

// ErrTooLargeForInline is returned when upload failed and the file is too big to inline.
var ErrTooLargeForInline = errors.New("cloud: upload failed and file is too large to inline")

// Snapshot is the full key-value content exchanged with the collaborator.
type Snapshot struct {
	Entries map[string]string `json:"entries"`
	TakenAt time.Time         `json:"takenAt"`
}

type keyValue struct {
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

type uploadResult struct {
	URL string `json:"url"`
}

type apiError struct {
	Error string `json:"error"`
}

// Upload describes a stored file.
type Upload struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Inline   bool   `json:"inline"`
}

type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewClient(cfg *config.CloudConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Client{httpClient: client, logger: logger}
}

func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("cloud: %s: %w", op, err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			msg = e.Error
		}
		return fmt.Errorf("cloud: %s: %s (status %d)", op, msg, resp.StatusCode())
	}
	return nil
}

// Hydrate copies the remote snapshot into store. Local keys absent remotely are kept.
func (c *Client) Hydrate(ctx context.Context, store kv.Store) (int, error) {
	var snap Snapshot
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&snap).
		SetError(&apiError{}).
		Get("/snapshot")
	if err := c.check(resp, err, "fetch snapshot"); err != nil {
		prometheus.RecordBackup("snapshot", "hydrate", "error")
		return 0, err
	}

	if err := kv.Restore(ctx, store, snap.Entries); err != nil {
		prometheus.RecordBackup("snapshot", "hydrate", "error")
		return 0, err
	}
	c.logger.Info("Hydrated store from cloud snapshot",
		zap.Int("keys", len(snap.Entries)),
		zap.Time("taken_at", snap.TakenAt))
	prometheus.RecordBackup("snapshot", "hydrate", "ok")
	return len(snap.Entries), nil
}

// Backup uploads every key of store as one snapshot.
func (c *Client) Backup(ctx context.Context, store kv.Store) (int, error) {
	entries, err := kv.Dump(ctx, store)
	if err != nil {
		prometheus.RecordBackup("snapshot", "backup", "error")
		return 0, err
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(Snapshot{Entries: entries, TakenAt: time.Now().UTC()}).
		SetError(&apiError{}).
		Put("/snapshot")
	if err := c.check(resp, err, "upload snapshot"); err != nil {
		prometheus.RecordBackup("snapshot", "backup", "error")
		return 0, err
	}
	c.logger.Info("Backed up store to cloud", zap.Int("keys", len(entries)))
	prometheus.RecordBackup("snapshot", "backup", "ok")
	return len(entries), nil
}

// PushChange mirrors one key change.
func (c *Client) PushChange(ctx context.Context, change kv.Change) error {
	req := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("key", change.Key).
		SetError(&apiError{})

	var (
		resp *resty.Response
		err  error
	)
	if change.Deleted {
		resp, err = req.Delete("/keys/{key}")
	} else {
		resp, err = req.
			SetHeader("Content-Type", "application/json").
			SetBody(keyValue{Value: change.NewValue, At: change.At}).
			Put("/keys/{key}")
	}
	return c.check(resp, err, "sync key "+change.Key)
}

// AutoSync mirrors every change published on b until the returned subscription is closed.
func (c *Client) AutoSync(b broadcast.Broker) *broadcast.Subscription {
	return b.SubscribeAll(func(change kv.Change) {
		if err := c.PushChange(context.Background(), change); err != nil {
			c.logger.Warn("Cloud sync failed",
				zap.String("key", change.Key),
				zap.Bool("deleted", change.Deleted),
				zap.Error(err))
			prometheus.RecordBackup("keys", "sync", "error")
			return
		}
		prometheus.RecordBackup("keys", "sync", "ok")
	})
}

// UploadFile stores data under path and returns its public URL.
func (c *Client) UploadFile(ctx context.Context, path, filename string, data []byte) (string, error) {
	var result uploadResult
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{"path": path}).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetResult(&result).
		SetError(&apiError{}).
		Post("/files")
	if err := c.check(resp, err, "upload "+filename); err != nil {
		return "", err
	}
	if result.URL == "" {
		return "", fmt.Errorf("cloud: upload %s: empty url in response", filename)
	}
	return result.URL, nil
}

// UploadOrInline uploads data and, if that fails, embeds it as a data URL instead.
func (c *Client) UploadOrInline(ctx context.Context, path, filename string, data []byte) (Upload, error) {
	mime := DetectMime(data)
	up := Upload{MimeType: mime, Size: int64(len(data))}

	url, err := c.UploadFile(ctx, path, filename, data)
	if err == nil {
		up.URL = url
		return up, nil
	}

	c.logger.Warn("Upload failed, falling back to inline data URL",
		zap.String("path", path),
		zap.String("filename", filename),
		zap.Int("size", len(data)),
		zap.Error(err))
	if len(data) > MaxInlineSize {
		return Upload{}, fmt.Errorf("%w: %v", ErrTooLargeForInline, err)
	}
	up.URL = DataURL(mime, data)
	up.Inline = true
	return up, nil
}

// DetectMime sniffs the media type of data, without parameters.
func DetectMime(data []byte) string {
	mime := mimetype.Detect(data).String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
