package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"sort"
	"strings"

	"EventSync-Agent/pkg/logger"
)

// Service 使用静态 API 令牌校验请求。未配置任何令牌时认证关闭。
type Service struct {
	// 令牌以 SHA-256 摘要保存，比较时使用常量时间。
	digests map[string][sha256.Size]byte
	audit   *slog.Logger
}

// NewService 根据 名称 -> 令牌 的映射创建认证服务，空令牌会被忽略。
func NewService(tokens map[string]string) *Service {
	digests := make(map[string][sha256.Size]byte, len(tokens))
	for name, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		digests[strings.TrimSpace(name)] = sha256.Sum256([]byte(token))
	}
	return &Service{digests: digests, audit: logger.Audit()}
}

// Enabled 表示是否至少配置了一个令牌。
func (s *Service) Enabled() bool {
	return s != nil && len(s.digests) > 0
}

// Names 返回已配置令牌的名称，按字母排序。
func (s *Service) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.digests))
	for name := range s.digests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthenticateRequest 解析 Authorization 头中的 Bearer 令牌。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var matched string
	for name, want := range s.digests {
		if subtle.ConstantTimeCompare(digest[:], want[:]) == 1 {
			matched = name
		}
	}
	if matched == "" {
		return nil, ErrInvalidToken
	}
	return &Subject{Name: matched}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
