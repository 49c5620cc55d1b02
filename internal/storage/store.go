package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// DefaultBudget 是整个介质允许占用的字节上限（4 MiB，低于浏览器常见的 5 MiB 配额）。
const DefaultBudget int64 = 4 * 1024 * 1024

var (
	// ErrCapacityExceeded 表示本次写入会超出预算，未做任何写入。
	ErrCapacityExceeded = errors.New("storage capacity exceeded")
	// ErrMediumUnavailable 表示底层介质访问失败（被禁用、抛出异常等）。
	ErrMediumUnavailable = errors.New("storage medium unavailable")
)

// Usage 是一次容量快照，不会被持久化。
type Usage struct {
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// Total 返回预算总量。
func (u Usage) Total() int64 {
	return u.Used + u.Available
}

// Percent 返回已用比例（0-100）。
func (u Usage) Percent() float64 {
	total := u.Total()
	if total <= 0 {
		return 0
	}
	return float64(u.Used) / float64(total) * 100
}

// Store 在介质之上强制执行总字节预算，并缓存最近一次的用量快照。
// Store 不是并发安全的，调用方需自行串行化。
type Store struct {
	medium Medium
	budget int64
	usage  Usage
	logger *zap.Logger
}

// Option 用于定制 Store。
type Option func(*Store)

// WithBudget 覆盖默认预算，非正值被忽略。
func WithBudget(budget int64) Option {
	return func(s *Store) {
		if budget > 0 {
			s.budget = budget
		}
	}
}

// WithLogger 设置诊断日志输出。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New 构造 Store 并立即计算一次用量。
func New(medium Medium, opts ...Option) *Store {
	if medium == nil {
		panic("storage: New called with nil medium")
	}
	s := &Store{
		medium: medium,
		budget: DefaultBudget,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.usage = Usage{Available: s.budget}
	s.Refresh()
	return s
}

func (s *Store) mustBeReady() {
	if s == nil || s.medium == nil {
		panic("storage: use of uninitialized Store; construct it with storage.New")
	}
}

// Budget returns the configured byte ceiling.
func (s *Store) Budget() int64 {
	s.mustBeReady()
	return s.budget
}

// Usage 返回缓存的用量快照，外部直接修改介质后可能过期，需调用 Refresh。
func (s *Store) Usage() Usage {
	s.mustBeReady()
	return s.usage
}

// Refresh 汇总介质中所有键值的长度并更新快照，失败时保留旧快照。
func (s *Store) Refresh() Usage {
	s.mustBeReady()
	var entries []Entry
	err := s.guard(func() error {
		var listErr error
		entries, listErr = s.medium.Entries()
		return listErr
	})
	if err != nil {
		s.logger.Warn("calculate storage usage failed", zap.Error(err))
		return s.usage
	}

	var used int64
	for _, entry := range entries {
		used += int64(len(entry.Key) + len(entry.Value))
	}
	s.usage = Usage{Used: used, Available: s.budget - used}
	return s.usage
}

// Get 读取键值，介质错误按不存在处理。
func (s *Store) Get(key string) (string, bool) {
	value, found, err := s.Lookup(key)
	if err != nil {
		s.logger.Warn("read storage key failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return value, found
}

// Lookup 与 Get 相同，但返回介质错误，供需要区分“不存在”与“读取失败”的调用方使用。
func (s *Store) Lookup(key string) (string, bool, error) {
	s.mustBeReady()
	var (
		value string
		found bool
	)
	err := s.guard(func() error {
		var getErr error
		value, found, getErr = s.medium.Get(key)
		return getErr
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// Put 写入键值。写入量按 len(key)+len(value) 计入当前快照，
// 覆盖已有键时旧值仍计入，超过预算时拒绝写入并返回 ErrCapacityExceeded。
func (s *Store) Put(key, value string) error {
	s.mustBeReady()
	size := int64(len(key) + len(value))
	if s.usage.Used+size > s.budget {
		s.logger.Warn("storage quota would be exceeded",
			zap.String("key", key),
			zap.Int64("size", size),
			zap.Int64("used", s.usage.Used),
			zap.Int64("budget", s.budget),
		)
		return fmt.Errorf("put %q (%d bytes): %w", key, size, ErrCapacityExceeded)
	}

	if err := s.guard(func() error { return s.medium.Set(key, value) }); err != nil {
		s.logger.Warn("write storage key failed", zap.String("key", key), zap.Error(err))
		if errors.Is(err, ErrQuotaExceeded) {
			return fmt.Errorf("put %q: %w: %w", key, ErrCapacityExceeded, err)
		}
		return fmt.Errorf("put %q: %w", key, err)
	}

	s.Refresh()
	return nil
}

// PutUnmetered 写入键值但不检查预算，仅用于会话标记、口令这类极小的簿记值，
// 以便预算耗尽时仍能登录并删除内容。介质自身的配额错误仍会返回。
func (s *Store) PutUnmetered(key, value string) error {
	s.mustBeReady()
	if err := s.guard(func() error { return s.medium.Set(key, value) }); err != nil {
		s.logger.Warn("write storage key failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("put %q: %w", key, err)
	}
	s.Refresh()
	return nil
}

// Remove 删除单个键，尽力而为。
func (s *Store) Remove(key string) {
	s.mustBeReady()
	if err := s.guard(func() error { return s.medium.Remove(key) }); err != nil {
		s.logger.Warn("remove storage key failed", zap.String("key", key), zap.Error(err))
	}
	s.Refresh()
}

// Clear 删除所有以 prefix 开头的键，prefix 为空时清空整个介质。
func (s *Store) Clear(prefix string) {
	s.mustBeReady()
	for _, key := range s.Keys(prefix) {
		if err := s.guard(func() error { return s.medium.Remove(key) }); err != nil {
			s.logger.Warn("clear storage key failed", zap.String("key", key), zap.Error(err))
		}
	}
	s.Refresh()
}

// Keys 返回以 prefix 开头的键（已排序）。
func (s *Store) Keys(prefix string) []string {
	s.mustBeReady()
	var entries []Entry
	err := s.guard(func() error {
		var listErr error
		entries, listErr = s.medium.Entries()
		return listErr
	})
	if err != nil {
		s.logger.Warn("list storage keys failed", zap.Error(err))
		return nil
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Key, prefix) {
			keys = append(keys, entry.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// guard 将介质返回的错误与 panic 统一转换为 ErrMediumUnavailable。
func (s *Store) guard(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrMediumUnavailable, recovered)
		}
	}()
	if callErr := fn(); callErr != nil {
		return fmt.Errorf("%w: %w", ErrMediumUnavailable, callErr)
	}
	return nil
}
