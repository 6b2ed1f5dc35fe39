// Package identity 解析请求携带的登录凭证，得到显式传递的用户身份。
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleUser = "user"

var ErrInvalidToken = errors.New("invalid token")

// User 已认证用户。由中间件解析后作为参数逐层传递，不放在任何全局状态里。
type User struct {
	ID       int64
	Username string
	Roles    []string
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Verifier 校验 HS256 签名的 JWT。
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify 解析 token，要求 user_id（数字或数字字符串）与 exp 有效。
func (v *Verifier) Verify(tokenStr string) (User, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithJSONNumber())
	if err != nil || !token.Valid {
		return User{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, ErrInvalidToken
	}
	id, err := parseUserID(claims["user_id"])
	if err != nil {
		return User{}, ErrInvalidToken
	}

	u := User{ID: id}
	u.Username, _ = claims["username"].(string)
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				u.Roles = append(u.Roles, s)
			}
		}
	}
	return u, nil
}

// Sign 签发 token，供压测工具与测试使用。
func (v *Verifier) Sign(u User, ttl time.Duration) (string, error) {
	roles := make([]interface{}, 0, len(u.Roles))
	for _, r := range u.Roles {
		roles = append(roles, r)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  strconv.FormatInt(u.ID, 10),
		"username": u.Username,
		"roles":    roles,
		"exp":      time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}

func parseUserID(v interface{}) (int64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseInt(x, 10, 64)
	case json.Number:
		// 按原始数字解析，不经过 float64
		return strconv.ParseInt(x.String(), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported user_id type %T", v)
	}
}
