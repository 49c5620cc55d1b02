package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/salonsano/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Medium 将 storage_entries 表中某个 replica 的记录暴露为 storage.Medium。
type Medium struct {
	db        *gorm.DB
	replicaID string
}

// NewMedium 构造指定 replica 的介质，replicaID 不能为空。
func NewMedium(gdb *gorm.DB, replicaID string) (*Medium, error) {
	id := strings.TrimSpace(replicaID)
	if gdb == nil {
		return nil, errors.New("database not initialized")
	}
	if id == "" {
		return nil, errors.New("replica id is required")
	}
	return &Medium{db: gdb, replicaID: id}, nil
}

var _ storage.Medium = (*Medium)(nil)

// Get 读取单个键。
func (m *Medium) Get(key string) (string, bool, error) {
	var entry StorageEntry
	err := m.db.Where("replica_id = ? AND key = ?", m.replicaID, key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get storage entry %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// Set 插入或覆盖键值。
func (m *Medium) Set(key, value string) error {
	entry := StorageEntry{ReplicaID: m.replicaID, Key: key, Value: value}
	if err := m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "replica_id"}, {Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("upsert storage entry %s: %w", key, err)
	}
	return nil
}

// Remove 删除键，键不存在时不报错。
func (m *Medium) Remove(key string) error {
	if err := m.db.Where("replica_id = ? AND key = ?", m.replicaID, key).
		Delete(&StorageEntry{}).Error; err != nil {
		return fmt.Errorf("delete storage entry %s: %w", key, err)
	}
	return nil
}

// Entries 返回该 replica 下的全部记录。
func (m *Medium) Entries() ([]storage.Entry, error) {
	var rows []StorageEntry
	if err := m.db.Where("replica_id = ?", m.replicaID).Order("key asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list storage entries: %w", err)
	}
	entries := make([]storage.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, storage.Entry{Key: row.Key, Value: row.Value})
	}
	return entries, nil
}
