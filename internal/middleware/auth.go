package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"seckill/internal/identity"
	"seckill/internal/result"
)

const ctxUserKey = "seckill.user"

// RequireRole 校验 Bearer token 并要求指定角色，通过后把用户放进请求上下文。
func RequireRole(v *identity.Verifier, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			abortWith(c, result.Unauthorized("请先登录"))
			return
		}
		u, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			abortWith(c, result.Unauthorized("登录已失效,请重新登录"))
			return
		}
		if role != "" && !u.HasRole(role) {
			abortWith(c, result.Forbidden("没有访问权限"))
			return
		}
		c.Set(ctxUserKey, u)
		c.Next()
	}
}

// CurrentUser 取出 RequireRole 放入的用户。
func CurrentUser(c *gin.Context) (identity.User, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return identity.User{}, false
	}
	u, ok := v.(identity.User)
	return u, ok
}

func abortWith(c *gin.Context, err error) {
	r := result.Failed(err)
	if r.Code == 0 {
		r.Code = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(r.Status(), r)
}
