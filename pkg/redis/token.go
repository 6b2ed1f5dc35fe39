package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// NewToken 生成随机访问令牌（uuid v4，去掉连字符）。
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TokenStore 每个 SPU 一个访问令牌，预热写入，秒杀时校验。
type TokenStore struct {
	rdb rd.UniversalClient
}

func NewTokenStore(rdb rd.UniversalClient) *TokenStore {
	return &TokenStore{rdb: rdb}
}

// Ensure 令牌不存在时生成并写入；已存在则返回已有令牌。created 表示本次是否新建。
func (s *TokenStore) Ensure(ctx context.Context, spuID int64, ttl time.Duration) (token string, created bool, err error) {
	token = NewToken()
	ok, err := s.rdb.SetNX(ctx, TokenKey(spuID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return token, true, nil
	}
	existing, found, err := s.Get(ctx, spuID)
	if err != nil {
		return "", false, err
	}
	if !found {
		// 两次调用之间 key 恰好过期，下一轮预热再写。
		return "", false, errors.New("token expired during ensure")
	}
	return existing, false, nil
}

// Get 读取 SPU 当前令牌；found=false 表示未预热或已过期。
func (s *TokenStore) Get(ctx context.Context, spuID int64) (string, bool, error) {
	v, err := s.rdb.Get(ctx, TokenKey(spuID)).Result()
	if errors.Is(err, rd.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
