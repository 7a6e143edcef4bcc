package kv

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Entry is one key-value row of the postgres backend.
type Entry struct {
	Key       string    `gorm:"column:key;primaryKey;type:varchar(512)"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Entry) TableName() string { return "kv_entries" }

const upsertEntry = `INSERT INTO kv_entries ("key", "value", "updated_at") VALUES (?, ?, ?)
ON CONFLICT ("key") DO UPDATE SET "value" = EXCLUDED."value", "updated_at" = EXCLUDED."updated_at"`

// GormStore keeps entries in the kv_entries table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db.Session(&gorm.Session{SkipDefaultTransaction: true})}
}

func (g *GormStore) Get(ctx context.Context, key string) (string, error) {
	var e Entry
	err := g.db.WithContext(ctx).Where(`"key" = ?`, key).Take(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrMiss
		}
		return "", err
	}
	return e.Value, nil
}

func (g *GormStore) Set(ctx context.Context, key string, value string) error {
	return g.db.WithContext(ctx).Exec(upsertEntry, key, value, time.Now().UTC()).Error
}

func (g *GormStore) Delete(ctx context.Context, key string) error {
	return g.db.WithContext(ctx).Where(`"key" = ?`, key).Delete(&Entry{}).Error
}

func (g *GormStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := g.db.WithContext(ctx).Model(&Entry{}).Order(`"key"`).Pluck("key", &keys).Error
	return keys, err
}
