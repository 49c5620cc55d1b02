package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrQuotaExceeded 表示底层介质自身的容量已满（相当于浏览器抛出的 QuotaExceededError）。
var ErrQuotaExceeded = errors.New("storage medium quota exceeded")

// Entry 是介质中的一条键值记录。
type Entry struct {
	Key   string
	Value string
}

// Medium 抽象了按来源隔离的键值存储介质。
// 实现需保证 Entries 返回介质中的全部键，而不仅是本应用命名空间下的键。
type Medium interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Entries() ([]Entry, error)
}

// MemoryMedium is an in-process Medium. A positive quota makes Set fail
// once the total key+value length would pass it.
type MemoryMedium struct {
	mu    sync.Mutex
	items map[string]string
	quota int
}

// NewMemoryMedium 创建内存介质，quota <= 0 表示不限制。
func NewMemoryMedium(quota int) *MemoryMedium {
	return &MemoryMedium{items: make(map[string]string), quota: quota}
}

func (m *MemoryMedium) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.items[key]
	return value, ok, nil
}

func (m *MemoryMedium) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.quota > 0 {
		total := len(key) + len(value)
		for k, v := range m.items {
			if k == key {
				continue
			}
			total += len(k) + len(v)
		}
		if total > m.quota {
			return ErrQuotaExceeded
		}
	}
	m.items[key] = value
	return nil
}

func (m *MemoryMedium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Entries 按键名排序返回全部记录。
func (m *MemoryMedium) Entries() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, 0, len(m.items))
	for k, v := range m.items {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
