// Package auth 提供连接升级阶段的认证功能
package auth

import (
	"context"
	"errors"
	"time"
)

// 定义错误
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// TokenClaims 令牌携带的身份声明
type TokenClaims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	Issuer    string `json:"iss"`
}

// Authenticator 认证接口，用于解析和验证令牌
type Authenticator interface {
	// Authenticate 验证令牌并返回令牌声明
	Authenticate(ctx context.Context, token string) (*TokenClaims, error)

	// GenerateToken 生成新的令牌
	GenerateToken(ctx context.Context, userID, username string, expiration time.Duration) (string, error)
}
