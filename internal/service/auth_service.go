package service

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/salonsano/internal/storage"
	"go.uber.org/zap"
)

var (
	// ErrCredentialMismatch 表示登录或修改口令时提供的当前口令不正确。
	ErrCredentialMismatch = errors.New("credential mismatch")
	// ErrCredentialEmpty 表示新口令为空。
	ErrCredentialEmpty = errors.New("credential must not be empty")
)

// AuthService 是单一共享口令的登录闸门，会话标记与口令都保存在同一个存储中。
// 口令以明文保存并比较，这是纯本地管理面板的既定取舍。
type AuthService struct {
	store             *storage.Store
	defaultCredential string
	credential        string
	authenticated     bool
	logger            *zap.Logger
}

// NewAuthService 读取已保存的口令与会话标记，缺少口令时写入默认值。
func NewAuthService(store *storage.Store, defaultCredential string, logger *zap.Logger) *AuthService {
	if store == nil {
		panic("service: NewAuthService called with nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCredential == "" {
		defaultCredential = DefaultCredential
	}

	s := &AuthService{
		store:             store,
		defaultCredential: defaultCredential,
		credential:        defaultCredential,
		logger:            logger,
	}

	if saved, ok := store.Get(PasswordKey); ok && saved != "" {
		s.credential = saved
	} else if err := store.PutUnmetered(PasswordKey, defaultCredential); err != nil {
		logger.Warn("persist default credential failed", zap.Error(err))
	}

	if flag, ok := store.Get(AuthKey); ok && flag == "true" {
		s.authenticated = true
	}
	return s
}

// IsAuthenticated reports whether the session flag is set.
func (s *AuthService) IsAuthenticated() bool {
	return s.authenticated
}

// UsingDefault 表示当前口令是否仍为默认值。
func (s *AuthService) UsingDefault() bool {
	return s.credential == s.defaultCredential
}

// Login 口令匹配时写入会话标记。不做锁定或限速。
func (s *AuthService) Login(candidate string) error {
	if !s.matches(candidate) {
		return ErrCredentialMismatch
	}
	if err := s.store.PutUnmetered(AuthKey, "true"); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.authenticated = true
	return nil
}

// Logout 无条件清除会话标记。
func (s *AuthService) Logout() {
	s.authenticated = false
	s.store.Remove(AuthKey)
}

// ChangeCredential 校验旧口令后保存新口令；任何失败都不会修改当前口令。
// 长度等规则由调用方负责。
func (s *AuthService) ChangeCredential(current, next string) error {
	if !s.matches(current) {
		return ErrCredentialMismatch
	}
	if next == "" {
		return ErrCredentialEmpty
	}
	if err := s.store.PutUnmetered(PasswordKey, next); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	s.credential = next
	return nil
}

// ResetToDefault 清除已保存的口令与会话标记，无需登录即可调用。
func (s *AuthService) ResetToDefault() {
	s.store.Remove(PasswordKey)
	s.store.Remove(AuthKey)
	s.credential = s.defaultCredential
	s.authenticated = false
}

func (s *AuthService) matches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.credential)) == 1
}
