package result

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("commit: %w", SoldOut("sold out"))
	assert.Equal(t, KindSoldOut, KindOf(wrapped))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestIsBusiness(t *testing.T) {
	assert.True(t, IsBusiness(NotFound("x")))
	assert.True(t, IsBusiness(Forbidden("x")))
	assert.True(t, IsBusiness(BadRequest("x")))
	assert.False(t, IsBusiness(Internal("x", errors.New("redis down"))))
	assert.False(t, IsBusiness(Timeout("x", context.DeadlineExceeded)))
	assert.False(t, IsBusiness(errors.New("raw")))
}

func TestFailed_HidesCause(t *testing.T) {
	r := Failed(Internal("缓存中没有库存信息,购买失败", errors.New("dial tcp 10.0.0.1:6379")))
	assert.Equal(t, http.StatusInternalServerError, r.Code)
	assert.Equal(t, "缓存中没有库存信息,购买失败", r.Msg)
	assert.Equal(t, http.StatusInternalServerError, r.Status())

	r = Failed(errors.New("raw"))
	assert.Equal(t, "服务器内部错误", r.Msg)

	assert.Equal(t, http.StatusOK, OK(nil).Status())
}
