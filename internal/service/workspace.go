package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/salonsano/internal/storage"
	"go.uber.org/zap"
)

const (
	// KeyPrefix 是本应用所有存储键的命名空间前缀。
	KeyPrefix   = "salon_sano_"
	PostsKey    = KeyPrefix + "posts"
	AuthKey     = KeyPrefix + "auth"
	PasswordKey = KeyPrefix + "password"

	// DefaultCredential 是首次运行时的后台口令。
	DefaultCredential = "salon2024"
)

var (
	// ErrReplicaRequired 表示未提供 replica 标识。
	ErrReplicaRequired = errors.New("replica id is required")
	// ErrWorkspaceRetired 表示工作区已被注册表淘汰，需重新获取。
	ErrWorkspaceRetired = errors.New("workspace retired")
)

// DefaultMaxWorkspaces 是注册表默认缓存的工作区数量上限。
const DefaultMaxWorkspaces = 1024

// WorkspaceConfig 汇总构造工作区所需的参数。
type WorkspaceConfig struct {
	Budget            int64
	DefaultCredential string
}

// Workspace 持有单个浏览器副本的存储、帖子与登录状态。
// 内部组件都不是并发安全的，HTTP 处理器需通过 Do 串行访问，
// 并且只应在 Do 的回调中读取 Store、Posts 与 Auth（重置时它们会被整体替换）。
type Workspace struct {
	ReplicaID string
	Store     *storage.Store
	Posts     *PostService
	Auth      *AuthService

	mu      sync.Mutex
	medium  storage.Medium
	cfg     WorkspaceConfig
	logger  *zap.Logger
	retired bool
}

// NewWorkspace 在给定介质上构造工作区。
func NewWorkspace(replicaID string, medium storage.Medium, cfg WorkspaceConfig, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workspace{
		ReplicaID: replicaID,
		medium:    medium,
		cfg:       cfg,
		logger:    logger.With(zap.String("replica", replicaID)),
	}
	w.build()
	return w
}

func (w *Workspace) build() {
	store := storage.New(w.medium, storage.WithBudget(w.cfg.Budget), storage.WithLogger(w.logger))
	w.Store = store
	w.Auth = NewAuthService(store, w.cfg.DefaultCredential, w.logger)
	w.Posts = NewPostService(store, w.logger)
}

// Do 在工作区锁内执行 fn。执行前会同步其他写入方对帖子列表的修改。
func (w *Workspace) Do(fn func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retired {
		return ErrWorkspaceRetired
	}
	w.Posts.Sync()
	return fn()
}

// reset 清除本应用的键并在原对象上重建各组件，已持有该工作区的调用方随即看到新状态。
func (w *Workspace) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Store.Clear(KeyPrefix)
	w.build()
}

func (w *Workspace) retire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retired = true
}

// MediumFactory 为 replica 打开独立的存储介质。
type MediumFactory func(replicaID string) (storage.Medium, error)

type registryEntry struct {
	ws       *Workspace
	refs     int
	lastUsed uint64
}

// Registry 按 replica 懒加载并缓存工作区，各 replica 之间互不同步。
// 缓存超过上限时淘汰最久未使用且没有请求正在使用的工作区，数据仍保留在介质中。
type Registry struct {
	mu      sync.Mutex
	factory MediumFactory
	cfg     WorkspaceConfig
	logger  *zap.Logger
	max     int
	tick    uint64
	entries map[string]*registryEntry
}

// RegistryOption 用于定制 Registry。
type RegistryOption func(*Registry)

// WithMaxWorkspaces 设置缓存的工作区数量上限，非正值被忽略。
func WithMaxWorkspaces(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.max = n
		}
	}
}

// NewRegistry creates a Registry.
func NewRegistry(factory MediumFactory, cfg WorkspaceConfig, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if factory == nil {
		panic("service: NewRegistry called with nil medium factory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		max:     DefaultMaxWorkspaces,
		entries: make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire 返回 replica 对应的工作区并标记为使用中，不存在时创建。
// 使用完毕后必须调用 Release，使用中的工作区不会被淘汰。
func (r *Registry) Acquire(replicaID string) (*Workspace, error) {
	id := strings.TrimSpace(replicaID)
	if id == "" {
		return nil, ErrReplicaRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
	if entry, ok := r.entries[id]; ok {
		entry.refs++
		entry.lastUsed = r.tick
		return entry.ws, nil
	}

	medium, err := r.factory(id)
	if err != nil {
		return nil, fmt.Errorf("open medium for replica %s: %w", id, err)
	}
	ws := NewWorkspace(id, medium, r.cfg, r.logger)
	r.entries[id] = &registryEntry{ws: ws, refs: 1, lastUsed: r.tick}
	r.evictIdle()
	return ws, nil
}

// Release 结束一次 Acquire。
func (r *Registry) Release(ws *Workspace) {
	if ws == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[ws.ReplicaID]; ok && entry.ws == ws && entry.refs > 0 {
		entry.refs--
	}
	r.evictIdle()
}

// Open 返回 replica 对应的工作区但不标记为使用中，适用于单 goroutine 的场景（测试、脚本）。
func (r *Registry) Open(replicaID string) (*Workspace, error) {
	ws, err := r.Acquire(replicaID)
	if err != nil {
		return nil, err
	}
	r.Release(ws)
	return ws, nil
}

// Len 返回当前缓存的工作区数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evictIdle 在超过上限时依次淘汰最久未使用的空闲工作区，调用方需持有 r.mu。
func (r *Registry) evictIdle() {
	for len(r.entries) > r.max {
		var (
			victim string
			oldest *registryEntry
		)
		for id, entry := range r.entries {
			if entry.refs > 0 {
				continue
			}
			if oldest == nil || entry.lastUsed < oldest.lastUsed {
				victim, oldest = id, entry
			}
		}
		if oldest == nil {
			return
		}
		delete(r.entries, victim)
		oldest.ws.retire()
		r.logger.Debug("workspace evicted", zap.String("replica", victim))
	}
}

// Reset 删除该 replica 下所有本应用的键并重新初始化，
// 相当于清空浏览器数据后刷新页面。
func (r *Registry) Reset(replicaID string) (*Workspace, error) {
	ws, err := r.Acquire(replicaID)
	if err != nil {
		return nil, err
	}
	defer r.Release(ws)

	ws.reset()
	r.logger.Info("workspace reset", zap.String("replica", ws.ReplicaID))
	return ws, nil
}
