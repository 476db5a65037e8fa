package auth

import "errors"

// 认证失败时返回的错误。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Subject 表示通过认证的调用方，Name 为令牌配置中的名称。
type Subject struct {
	Name string
}
