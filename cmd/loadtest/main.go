package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"takeout/internal/database"
	"takeout/internal/middleware"
	"takeout/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

const loadTestDishID = 900001

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   []byte
	Err    error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	http        *http.Client
	base        string
	notifyToken string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	secret := flag.String("jwt-secret", "", "JWT_SECRET of the server, used to sign test tokens")
	notifyToken := flag.String("notify-token", "dev-notify-token", "PAY_NOTIFY_TOKEN of the server")
	dbDriver := flag.String("db-driver", "sqlite", "db driver, used to seed address books and the menu")
	dbDSN := flag.String("db-dsn", "takeout.db", "db dsn, used to seed address books and the menu")

	// 支付回调与用户取消并发：每个用户一单，两边同时打
	nUsers := flag.Int("users", 100, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	burst := flag.Int("burst", 50, "submit requests fired by one user for the rate limit test")
	flag.Parse()

	if *secret == "" {
		panic("-jwt-secret is required")
	}

	db, err := database.Open(*dbDriver, *dbDSN)
	if err != nil {
		panic(fmt.Sprintf("open db: %v", err))
	}

	// 压测用的菜品，已存在时只保证在售
	item := model.MenuItem{Kind: model.ItemDish, ItemID: loadTestDishID, Name: "压测套餐", Price: decimal.RequireFromString("9.90"), OnSale: true}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"on_sale"}),
	}).Create(&item).Error
	if err != nil {
		panic(fmt.Sprintf("seed menu: %v", err))
	}

	c := &client{http: &http.Client{Timeout: 5 * time.Second}, base: *baseURL, notifyToken: *notifyToken}

	// 1) 竞态测试
	fmt.Printf("start race test: users=%d concurrency=%d\n", *nUsers, *concurrency)
	tokens := make([]string, *nUsers)
	addrs := make([]uint, *nUsers)
	for i := range tokens {
		userID := int64(100000 + i)
		tok, err := middleware.SignToken(*secret, userID, middleware.RoleUser, time.Hour)
		if err != nil {
			panic(err)
		}
		tokens[i] = tok
		a := model.AddressBook{UserID: userID, Consignee: "压测", Phone: "13800000000", Detail: "压测地址"}
		if err := db.Create(&a).Error; err != nil {
			panic(fmt.Sprintf("seed address: %v", err))
		}
		addrs[i] = a.ID
	}

	callbacks, cancels, states := runRace(c, tokens, addrs, *concurrency)
	printSummary("pay_callback", callbacks)
	printSummary("user_cancel", cancels)
	printStates(states)

	// 2) 限流测试：同一个用户连续下单，期望出现 429
	fmt.Printf("\nstart rate limit test: same user, %d submit requests\n", *burst)
	results := runBurst(c, tokens[0], addrs[0], *burst)
	printSummary("rate_limit", results)
}

type orderState struct {
	Status    model.OrderStatus `json:"status"`
	PayStatus model.PayStatus   `json:"pay_status"`
}

func runRace(c *client, tokens []string, addrs []uint, concurrency int) ([]Result, []Result, []orderState) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	callbacks := make([]Result, len(tokens))
	cancels := make([]Result, len(tokens))
	states := make([]orderState, len(tokens))

	for i := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			id, number, err := c.placeOrder(tokens[idx], addrs[idx])
			if err != nil {
				callbacks[idx] = Result{Err: err}
				cancels[idx] = Result{Err: err}
				return
			}

			var inner sync.WaitGroup
			inner.Add(2)
			go func() {
				defer inner.Done()
				callbacks[idx] = c.do(http.MethodPost, "/api/notify/paySuccess", "", map[string]string{"order_number": number})
			}()
			go func() {
				defer inner.Done()
				cancels[idx] = c.do(http.MethodPut, fmt.Sprintf("/api/user/orders/%d/cancel", id), tokens[idx], nil)
			}()
			inner.Wait()

			res := c.do(http.MethodGet, fmt.Sprintf("/api/user/orders/%d", id), tokens[idx], nil)
			if env, err := decode(res); err == nil {
				_ = json.Unmarshal(env.Data, &states[idx])
			}
		}(i)
	}

	wg.Wait()
	return callbacks, cancels, states
}

func runBurst(c *client, token string, addr uint, total int) []Result {
	var wg sync.WaitGroup
	results := make([]Result, total)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = c.do(http.MethodPost, "/api/user/orders", token, map[string]any{"address_book_id": addr})
		}(i)
	}
	wg.Wait()
	return results
}

// placeOrder 加购一份菜品并下单，返回订单 id 与订单号。
func (c *client) placeOrder(token string, addr uint) (uint, string, error) {
	res := c.do(http.MethodPost, "/api/user/cart", token, map[string]any{
		"item_kind": "dish", "item_id": loadTestDishID,
	})
	if _, err := decode(res); err != nil {
		return 0, "", fmt.Errorf("add cart: %w", err)
	}
	res = c.do(http.MethodPost, "/api/user/orders", token, map[string]any{"address_book_id": addr})
	env, err := decode(res)
	if err != nil {
		return 0, "", fmt.Errorf("submit: %w", err)
	}
	var out struct {
		ID     uint   `json:"id"`
		Number string `json:"order_number"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return 0, "", err
	}
	return out.ID, out.Number, nil
}

func (c *client) do(method, path, token string, body any) Result {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, c.base+path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Notify-Token", c.notifyToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: b}
}

func decode(res Result) (envelope, error) {
	if res.Err != nil {
		return envelope{}, res.Err
	}
	var env envelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return envelope{}, err
	}
	if res.Status >= 300 {
		return env, fmt.Errorf("status=%d msg=%s", res.Status, env.Msg)
	}
	return env, nil
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
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

// printStates 终态只允许三种组合：已付待接单、未付已取消、已退款已取消。
func printStates(states []orderState) {
	valid := map[orderState]bool{
		{Status: model.OrderToBeConfirmed, PayStatus: model.PayPaid}: true,
		{Status: model.OrderCancelled, PayStatus: model.PayUnpaid}:   true,
		{Status: model.OrderCancelled, PayStatus: model.PayRefund}:   true,
	}
	count := map[orderState]int{}
	broken := 0
	for _, s := range states {
		if s.Status == 0 {
			continue
		}
		count[s]++
		if !valid[s] {
			broken++
		}
	}
	fmt.Println("[final state] status/pay_status:")
	for s, n := range count {
		fmt.Printf("  %s/%s -> %d\n", s.Status, s.PayStatus, n)
	}
	if broken > 0 {
		fmt.Printf("  INCONSISTENT -> %d\n", broken)
	}
}
