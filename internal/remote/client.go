// Package remote 封装对外部 HTTP/JSON 服务的调用：单次超时 + 熔断。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrNotFound 远端返回 404。
var ErrNotFound = errors.New("remote resource not found")

// StatusError 远端返回非 2xx。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote status %d: %s", e.Code, e.Body)
}

// clientSide 4xx 属于调用方问题，不计入熔断失败。
func clientSide(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

type Options struct {
	Name          string
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Log           *logrus.Logger
	OnStateChange func(name string, from, to gobreaker.State)
}

type Client struct {
	name    string
	base    string
	hc      *http.Client
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	st := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("CircuitBreaker[%s] state changed from %s to %s", name, from, to)
			if opts.OnStateChange != nil {
				opts.OnStateChange(name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || clientSide(err)
		},
	}
	return &Client{
		name:    opts.Name,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		hc:      hc,
		cb:      gobreaker.NewCircuitBreaker(st),
		timeout: timeout,
	}
}

func (c *Client) Name() string { return c.name }

// Get / Post 发送请求并把响应 JSON 解码到 out（out 可为 nil）。
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if err != nil {
		return fmt.Errorf("%s %s %s: %w", c.name, method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
