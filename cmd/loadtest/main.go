package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"seckill/internal/identity"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

type commitReq struct {
	SpuID    int64 `json:"spuId"`
	SkuID    int64 `json:"skuId"`
	Quantity int   `json:"quantity"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	spuID := flag.Int64("spu", 1, "seckill spu id")
	skuID := flag.Int64("sku", 1, "seckill sku id")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for stock endpoint")
	jwtSecret := flag.String("jwt-secret", "dev-jwt-secret", "secret used to sign user tokens")
	stockCheck := flag.Bool("stock", true, "compare cached and db stock after test")

	// 超卖测试参数：200 个用户并发抢
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	signer := identity.NewVerifier(*jwtSecret)

	// 先从商品接口拿到下单地址，活动未开始或未预热时直接退出。
	path, err := commitPath(client, *baseURL, *spuID)
	if err != nil {
		panic(fmt.Sprintf("get seckill url failed: %v", err))
	}
	fmt.Println("seckill url:", path)

	body := commitReq{SpuID: *spuID, SkuID: *skuID, Quantity: 1}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: spu=%d sku=%d users=%d concurrency=%d\n", *spuID, *skuID, *nUsers, *concurrency)
	results := run(*nUsers, *concurrency, func(idx int) Result {
		return buyOnce(client, signer, *baseURL+path, int64(idx+1), body)
	})
	printSummary("oversell", results)

	if *stockCheck {
		out, err := getStock(client, *baseURL, *skuID, *adminToken)
		if err != nil {
			fmt.Println("stock check err:", err)
		} else {
			fmt.Println("stock:", out)
		}
	}

	// 2) 限购与限流：同一个 user 重复抢，应只有限购次数内的请求成功
	fmt.Println("\nstart same user test: user 10001, 50 requests, concurrency 50")
	results2 := run(50, 50, func(int) Result {
		return buyOnce(client, signer, *baseURL+path, 10001, body)
	})
	printSummary("same_user", results2)
}

func run(total, concurrency int, fn func(idx int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, signer *identity.Verifier, url string, userID int64, req commitReq) Result {
	token, err := signer.Sign(identity.User{ID: userID, Roles: []string{identity.RoleUser}}, 10*time.Minute)
	if err != nil {
		return Result{Err: err}
	}
	b, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary 聚合输出不同状态码分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	codes := make([]int, 0, len(count))
	for code := range count {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, count[code])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// commitPath 读取 SPU 信息中的下单地址 /seckill/{token}。
func commitPath(client *http.Client, baseURL string, spuID int64) (string, error) {
	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := getJSON(client, fmt.Sprintf("%s/seckill/spu/%d", baseURL, spuID), nil, &out); err != nil {
		return "", err
	}
	if out.Data.URL == "" {
		return "", fmt.Errorf("spu %d is not on sale now", spuID)
	}
	return out.Data.URL, nil
}

// getStock 查询缓存与数据库库存，用于压测后校验是否出现超卖。
func getStock(client *http.Client, baseURL string, skuID int64, adminToken string) (map[string]any, error) {
	var out struct {
		Code int            `json:"code"`
		Data map[string]any `json:"data"`
	}
	err := getJSON(client, fmt.Sprintf("%s/seckill/admin/stock/%d", baseURL, skuID),
		map[string]string{"X-Admin-Token": adminToken}, &out)
	return out.Data, err
}

func getJSON(client *http.Client, url string, headers map[string]string, dst any) error {
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.Unmarshal(b, dst)
}
