package db

import "time"

// StorageEntry 是某个浏览器副本（replica）下的一条键值记录，
// 相当于该浏览器 localStorage 中的一项。
type StorageEntry struct {
	ID        uint      `gorm:"primaryKey"`
	ReplicaID string    `gorm:"size:64;not null;uniqueIndex:idx_storage_entries_replica_key"`
	Key       string    `gorm:"size:255;not null;uniqueIndex:idx_storage_entries_replica_key"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName 自定义表名以保持命名一致。
func (StorageEntry) TableName() string {
	return "storage_entries"
}
