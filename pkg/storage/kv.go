package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/augurhq/augur/pkg/core"
)

// KVGet returns the value for a key, treating expired rows as absent.
// Expiry is enforced here against the stored expires_at; physical removal is
// left to PurgeExpired.
func (s *GormStorage) KVGet(ctx context.Context, key string) ([]byte, bool, error) {
	var entry core.KVEntry
	err := s.db.WithContext(ctx).First(&entry, "k = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !entry.ExpiresAt.After(time.Now()) {
		return nil, false, nil
	}
	return entry.V, true, nil
}

// KVPut stores a value under a key with the given TTL, replacing any
// existing entry.
func (s *GormStorage) KVPut(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	entry := core.KVEntry{
		K:         key,
		V:         val,
		ExpiresAt: time.Now().Add(ttl),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "k"}},
			DoUpdates: clause.AssignmentColumns([]string{"v", "expires_at"}),
		}).
		Create(&entry).Error
}

// KVSetNX stores the value only if the key is absent or expired, reporting
// whether this call won. The insert relies on the store's own conflict
// handling rather than a separate existence check, so two concurrent callers
// can never both win.
func (s *GormStorage) KVSetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	now := time.Now()
	entry := core.KVEntry{
		K:         key,
		V:         val,
		ExpiresAt: now.Add(ttl),
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "k"}},
			DoNothing: true,
		}).
		Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// The key exists; claim it only if the existing entry has expired.
	res = s.db.WithContext(ctx).
		Model(&core.KVEntry{}).
		Where("k = ? AND expires_at <= ?", key, now).
		Updates(map[string]any{"v": val, "expires_at": now.Add(ttl)})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// KVDelete removes a key. Deleting an absent key is not an error.
func (s *GormStorage) KVDelete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("k = ?", key).Delete(&core.KVEntry{}).Error
}

// KVCount returns the number of live entries under a key prefix.
func (s *GormStorage) KVCount(ctx context.Context, prefix string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.KVEntry{}).
		Where("k LIKE ?", prefix+"%").
		Where("expires_at > ?", time.Now()).
		Count(&count).Error
	return count, err
}

// KVDeletePrefix removes all entries under a key prefix, returning how many
// were removed.
func (s *GormStorage) KVDeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("k LIKE ?", prefix+"%").
		Delete(&core.KVEntry{})
	return res.RowsAffected, res.Error
}

// PurgeExpired physically removes expired entries.
func (s *GormStorage) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&core.KVEntry{})
	return res.RowsAffected, res.Error
}
