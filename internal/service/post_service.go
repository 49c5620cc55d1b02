package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/salonsano/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrPostNotFound     = errors.New("post not found")
	ErrPostImageMissing = errors.New("post image is required")
)

// createdAtLayout 与浏览器 Date.toISOString 的输出一致（UTC，毫秒精度）。
const createdAtLayout = "2006-01-02T15:04:05.000Z"

// Post 是作品墙中的一条记录，JSON 结构需跨版本保持稳定。
type Post struct {
	ID        string `json:"id"`
	Image     string `json:"image"`
	URL       string `json:"url"`
	Alt       string `json:"alt"`
	CreatedAt string `json:"createdAt"`
}

// PostInput represents fields accepted when creating a post.
type PostInput struct {
	Image string
	URL   string
	Alt   string
}

// PostPatch 描述局部更新，nil 字段保持不变。
type PostPatch struct {
	Image *string
	URL   *string
	Alt   *string
}

// PostService 维护按创建时间倒序排列的帖子列表，并整体序列化到单个存储键。
// 所有会报告结果的变更都是全有或全无的：持久化失败时内存列表保持原样。
type PostService struct {
	store  *storage.Store
	posts  []Post
	lastID int64
	now    func() time.Time
	logger *zap.Logger

	// raw 与 stored 记录最近一次读到或写入的持久化内容，用于发现外部改写。
	raw    string
	stored bool
}

// NewPostService 从存储加载帖子列表，首次运行时写入三条示例数据。
func NewPostService(store *storage.Store, logger *zap.Logger) *PostService {
	if store == nil {
		panic("service: NewPostService called with nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PostService{store: store, now: time.Now, logger: logger}
	s.load()
	return s
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *PostService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func (s *PostService) load() {
	raw, ok := s.store.Get(PostsKey)
	if !ok {
		s.posts = SeedPosts(s.now())
		if err := s.persist(s.posts); err != nil {
			s.logger.Warn("persist seed posts failed", zap.Error(err))
		}
		s.trackIDs(s.posts)
		return
	}
	s.decode(raw)
}

func (s *PostService) decode(raw string) {
	var posts []Post
	if err := json.Unmarshal([]byte(raw), &posts); err != nil {
		s.logger.Error("decode stored posts failed", zap.Error(err))
		posts = nil
	}
	if posts == nil {
		posts = []Post{}
	}
	s.posts = posts
	s.raw, s.stored = raw, true
	s.trackIDs(posts)
}

// Sync 在持久化的列表被其他写入方（例如另一个进程）改写后重新加载。
// 读取失败时保留内存列表。
func (s *PostService) Sync() {
	raw, ok, err := s.store.Lookup(PostsKey)
	if err != nil {
		s.logger.Warn("check stored posts failed", zap.Error(err))
		return
	}
	if ok == s.stored && raw == s.raw {
		return
	}

	if ok {
		s.decode(raw)
	} else {
		s.posts = []Post{}
		s.raw, s.stored = "", false
	}
	s.store.Refresh()
	s.logger.Info("stored posts changed externally, reloaded", zap.Int("posts", len(s.posts)))
}

func (s *PostService) trackIDs(posts []Post) {
	for _, post := range posts {
		if n, err := strconv.ParseInt(post.ID, 10, 64); err == nil && n > s.lastID {
			s.lastID = n
		}
	}
}

// nextID 以毫秒时间戳作为 id，同一毫秒内递增以保证唯一且单调。
func (s *PostService) nextID(now time.Time) string {
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	return strconv.FormatInt(id, 10)
}

// List returns a copy of the posts, newest first.
func (s *PostService) List() []Post {
	out := make([]Post, len(s.posts))
	copy(out, s.posts)
	return out
}

// Get fetches a post by id.
func (s *PostService) Get(id string) (Post, error) {
	for _, post := range s.posts {
		if post.ID == id {
			return post, nil
		}
	}
	return Post{}, ErrPostNotFound
}

// Create 生成 id 与创建时间并插入到列表头部，持久化失败时不修改内存列表。
// 字段按原样保存，只拒绝空白的图片。
func (s *PostService) Create(input PostInput) (Post, error) {
	if strings.TrimSpace(input.Image) == "" {
		return Post{}, ErrPostImageMissing
	}

	now := s.now()
	post := Post{
		ID:        s.nextID(now),
		Image:     input.Image,
		URL:       input.URL,
		Alt:       input.Alt,
		CreatedAt: now.UTC().Format(createdAtLayout),
	}

	updated := make([]Post, 0, len(s.posts)+1)
	updated = append(updated, post)
	updated = append(updated, s.posts...)
	if err := s.persist(updated); err != nil {
		return Post{}, err
	}

	s.posts = updated
	return post, nil
}

// Update 合并补丁字段，id 与 createdAt 不可修改。
// id 不存在时返回 ErrPostNotFound 且不做任何写入。
func (s *PostService) Update(id string, patch PostPatch) (Post, error) {
	index := s.indexOf(id)
	if index < 0 {
		return Post{}, ErrPostNotFound
	}

	post := s.posts[index]
	if patch.Image != nil {
		if strings.TrimSpace(*patch.Image) == "" {
			return Post{}, ErrPostImageMissing
		}
		post.Image = *patch.Image
	}
	if patch.URL != nil {
		post.URL = *patch.URL
	}
	if patch.Alt != nil {
		post.Alt = *patch.Alt
	}

	updated := make([]Post, len(s.posts))
	copy(updated, s.posts)
	updated[index] = post
	if err := s.persist(updated); err != nil {
		return Post{}, err
	}

	s.posts = updated
	return post, nil
}

// Remove 删除帖子，id 不存在时什么也不做。持久化失败只记录日志。
func (s *PostService) Remove(id string) {
	index := s.indexOf(id)
	if index < 0 {
		return
	}

	updated := make([]Post, 0, len(s.posts)-1)
	updated = append(updated, s.posts[:index]...)
	updated = append(updated, s.posts[index+1:]...)
	s.posts = updated

	if err := s.persist(updated); err != nil {
		s.logger.Warn("persist posts after remove failed", zap.String("id", id), zap.Error(err))
		s.track()
	}
}

// ClearAll 清空列表并直接删除存储键。
func (s *PostService) ClearAll() {
	s.posts = []Post{}
	s.store.Remove(PostsKey)
	s.track()
}

// track 记录当前的持久化内容，避免 Sync 把本实例未能落盘的变更当作外部改写而回滚。
func (s *PostService) track() {
	if raw, ok, err := s.store.Lookup(PostsKey); err == nil {
		s.raw, s.stored = raw, ok
	}
}

func (s *PostService) indexOf(id string) int {
	for i, post := range s.posts {
		if post.ID == id {
			return i
		}
	}
	return -1
}

func (s *PostService) persist(posts []Post) error {
	encoded, err := encodePosts(posts)
	if err != nil {
		return fmt.Errorf("encode posts: %w", err)
	}
	if err := s.store.Put(PostsKey, encoded); err != nil {
		return fmt.Errorf("persist posts: %w", err)
	}
	s.raw, s.stored = encoded, true
	return nil
}

// encodePosts 序列化列表，不转义 HTML 字符以保持与前端 JSON.stringify 相同的长度。
func encodePosts(posts []Post) (string, error) {
	if posts == nil {
		posts = []Post{}
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(posts); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// SeedPosts 返回首次运行时写入的三条示例帖子。
func SeedPosts(now time.Time) []Post {
	createdAt := now.UTC().Format(createdAtLayout)
	const placeholder = "/placeholder.svg?height=400&width=400"
	return []Post{
		{ID: "1", Image: placeholder, URL: "https://instagram.com/p/example1", Alt: "Beautiful straight hair transformation", CreatedAt: createdAt},
		{ID: "2", Image: placeholder, URL: "https://instagram.com/p/example2", Alt: "Keratin treatment results", CreatedAt: createdAt},
		{ID: "3", Image: placeholder, URL: "https://instagram.com/p/example3", Alt: "Healthy hair styling", CreatedAt: createdAt},
	}
}
