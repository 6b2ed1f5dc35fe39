// Package result 定义秒杀接口的错误分类与统一响应结构。
package result

import (
	"context"
	"errors"
	"net/http"
)

// Kind 错误分类。
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindSoldOut
	KindBadRequest
	KindTimeout
	KindOverloaded
	KindDegraded
	KindUnauthorized
)

// Error 携带分类与面向调用方的提示信息；Err 为内部原因，不直接返回给调用方。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code 返回对应的响应码（与 HTTP 状态码一致）。
func (e *Error) Code() int {
	return codeOf(e.Kind)
}

func codeOf(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindSoldOut, KindBadRequest:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindOverloaded:
		return http.StatusTooManyRequests
	case KindDegraded:
		return http.StatusServiceUnavailable
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func NotFound(msg string) *Error     { return &Error{Kind: KindNotFound, Msg: msg} }
func Forbidden(msg string) *Error    { return &Error{Kind: KindForbidden, Msg: msg} }
func SoldOut(msg string) *Error      { return &Error{Kind: KindSoldOut, Msg: msg} }
func BadRequest(msg string) *Error   { return &Error{Kind: KindBadRequest, Msg: msg} }
func Overloaded(msg string) *Error   { return &Error{Kind: KindOverloaded, Msg: msg} }
func Degraded(msg string) *Error     { return &Error{Kind: KindDegraded, Msg: msg} }
func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Msg: msg} }

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

func Timeout(msg string, err error) *Error {
	return &Error{Kind: KindTimeout, Msg: msg, Err: err}
}

// KindOf 取出错误分类；未分类的错误按超时或内部错误处理。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsBusiness 业务拒绝（不存在、限购、售罄、参数错误）不属于下游故障。
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindForbidden, KindSoldOut, KindBadRequest, KindUnauthorized:
		return true
	}
	return false
}

// JSONResult 统一响应体：code=0 表示成功，否则与 HTTP 状态码一致。
type JSONResult struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func OK(data any) JSONResult {
	return JSONResult{Code: 0, Data: data}
}

// Failed 将错误转换为响应体，只暴露 Msg，不暴露内部原因。
func Failed(err error) JSONResult {
	var e *Error
	if errors.As(err, &e) {
		return JSONResult{Code: e.Code(), Msg: e.Msg}
	}
	return JSONResult{Code: codeOf(KindOf(err)), Msg: "服务器内部错误"}
}

// Status 返回应写入的 HTTP 状态码。
func (r JSONResult) Status() int {
	if r.Code == 0 {
		return http.StatusOK
	}
	return r.Code
}
