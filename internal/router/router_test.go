package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"takeout/internal/config"
	"takeout/internal/database/dbtest"
	"takeout/internal/logging"
	"takeout/internal/metrics"
	"takeout/internal/middleware"
	"takeout/internal/model"
	"takeout/internal/order"
	"takeout/internal/payment"
	"takeout/internal/report"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	testSecret      = "router-secret"
	testNotifyToken = "notify-token"
	buyer           = int64(42)
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	engine *gin.Engine
	user   string
	admin  string
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := dbtest.New(t)
	logger := logging.Discard()
	loc := time.FixedZone("CST", 8*3600)

	cfg := config.AppConfig{
		CORSOrigins:      []string{"http://localhost:8888"},
		SubmitRateLimit:  100,
		SubmitRateWindow: time.Second,
		JWTSecret:        testSecret,
		PayNotifyToken:   testNotifyToken,
		Location:         loc,
	}
	m := metrics.New()
	svc := order.NewService(db, order.GormAddressBook{DB: db}, payment.Mock{Logger: logger}, order.RandomNumbers{}, logger,
		order.WithMetrics(m))

	r := gin.New()
	Setup(r, Deps{
		Orders:  svc,
		Cart:    order.NewCart(db, order.GormCatalog{DB: db}),
		Reports: report.NewAggregator(db, loc, logger),
		Metrics: m,
		Logger:  logger,
		Config:  cfg,
	})

	kungPao := model.MenuItem{Kind: model.ItemDish, ItemID: 1, Name: "宫保鸡丁", Price: decimal.RequireFromString("18.00"), OnSale: true}
	if err := db.Create(&kungPao).Error; err != nil {
		t.Fatalf("seed menu: %v", err)
	}

	s := &testServer{t: t, db: db, engine: r}
	s.user = s.token(buyer, middleware.RoleUser)
	s.admin = s.token(1, middleware.RoleAdmin)
	return s
}

func (s *testServer) token(userID int64, role string) string {
	s.t.Helper()
	tok, err := middleware.SignToken(testSecret, userID, role, time.Hour)
	if err != nil {
		s.t.Fatalf("SignToken: %v", err)
	}
	return tok
}

func (s *testServer) do(method, path, token string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			s.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, env
}

func (s *testServer) seedAddress(userID int64) uint {
	s.t.Helper()
	a := model.AddressBook{UserID: userID, Consignee: "李四", Phone: "13900000000", City: "上海市", Detail: "南京路 1 号"}
	if err := s.db.Create(&a).Error; err != nil {
		s.t.Fatalf("seed address: %v", err)
	}
	return a.ID
}

// placeOrder 加购并下单，返回订单 id 与订单号。
func (s *testServer) placeOrder() (uint, string) {
	s.t.Helper()
	code, env := s.do(http.MethodPost, "/api/user/cart", s.user, map[string]any{
		"item_kind": "dish", "item_id": 1, "quantity": 2,
	})
	if code != http.StatusOK {
		s.t.Fatalf("add cart: %d %s", code, env.Msg)
	}
	code, env = s.do(http.MethodPost, "/api/user/orders", s.user, map[string]any{
		"address_book_id": s.seedAddress(buyer), "remark": "少辣",
	})
	if code != http.StatusOK {
		s.t.Fatalf("submit: %d %s", code, env.Msg)
	}
	var out struct {
		ID     uint   `json:"id"`
		Number string `json:"order_number"`
		Amount string `json:"order_amount"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		s.t.Fatalf("decode submit: %v", err)
	}
	if out.Amount != "36" {
		s.t.Errorf("order_amount = %s, want 36", out.Amount)
	}
	return out.ID, out.Number
}

func (s *testServer) orderStatus(id uint) model.OrderStatus {
	s.t.Helper()
	var o model.Order
	if err := s.db.First(&o, id).Error; err != nil {
		s.t.Fatalf("load order: %v", err)
	}
	return o.Status
}

func TestPing(t *testing.T) {
	s := newServer(t)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ping = %d", w.Code)
	}
}

func TestAuthBoundaries(t *testing.T) {
	s := newServer(t)
	if code, _ := s.do(http.MethodGet, "/api/user/orders", "", nil); code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/admin/orders/statistics", s.user, nil); code != http.StatusForbidden {
		t.Errorf("user on admin route = %d, want 403", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/notify/paySuccess", "", map[string]string{"order_number": "x"}); code != http.StatusUnauthorized {
		t.Errorf("callback without notify token = %d, want 401", code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	id, number := s.placeOrder()

	code, env := s.do(http.MethodGet, "/api/user/cart", s.user, nil)
	var cart []model.CartLine
	if err := json.Unmarshal(env.Data, &cart); code != http.StatusOK || err != nil || len(cart) != 0 {
		t.Errorf("cart after submit = %d %s", code, env.Data)
	}

	// Mock 网关同步确认收款
	if code, env := s.do(http.MethodPut, "/api/user/orders/payment", s.user, map[string]string{"order_number": number}); code != http.StatusOK {
		t.Fatalf("pay: %d %s", code, env.Msg)
	}
	if got := s.orderStatus(id); got != model.OrderToBeConfirmed {
		t.Fatalf("status after pay = %v", got)
	}

	// 重复支付
	if code, _ := s.do(http.MethodPut, "/api/user/orders/payment", s.user, map[string]string{"order_number": number}); code != http.StatusConflict {
		t.Errorf("second pay = %d, want 409", code)
	}

	code, env = s.do(http.MethodGet, "/api/admin/orders/statistics", s.admin, nil)
	if code != http.StatusOK {
		t.Fatalf("statistics: %d", code)
	}
	var counts order.StatusCounts
	if err := json.Unmarshal(env.Data, &counts); err != nil || counts.ToBeConfirmed != 1 {
		t.Errorf("counts = %+v (%v)", counts, err)
	}

	if code, _ := s.do(http.MethodGet, fmt.Sprintf("/api/user/orders/%d/reminder", id), s.user, nil); code != http.StatusOK {
		t.Errorf("remind = %d", code)
	}

	// 派送前必须先接单
	if code, _ := s.do(http.MethodPut, fmt.Sprintf("/api/admin/orders/%d/delivery", id), s.admin, nil); code != http.StatusBadRequest {
		t.Errorf("deliver before confirm = %d, want 400", code)
	}
	for _, step := range []string{"confirm", "delivery", "complete"} {
		if code, env := s.do(http.MethodPut, fmt.Sprintf("/api/admin/orders/%d/%s", id, step), s.admin, nil); code != http.StatusOK {
			t.Fatalf("%s: %d %s", step, code, env.Msg)
		}
	}
	if got := s.orderStatus(id); got != model.OrderCompleted {
		t.Errorf("final status = %v", got)
	}

	// 完成后不能取消
	if code, _ := s.do(http.MethodPut, fmt.Sprintf("/api/user/orders/%d/cancel", id), s.user, nil); code != http.StatusBadRequest {
		t.Errorf("cancel completed = %d, want 400", code)
	}
}

func TestPaymentCallback(t *testing.T) {
	s := newServer(t)
	id, number := s.placeOrder()

	call := func(n string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/notify/paySuccess",
			bytes.NewBufferString(fmt.Sprintf(`{"order_number":%q}`, n)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Notify-Token", testNotifyToken)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w.Code
	}

	if code := call(number); code != http.StatusOK {
		t.Fatalf("callback = %d", code)
	}
	if got := s.orderStatus(id); got != model.OrderToBeConfirmed {
		t.Errorf("status = %v", got)
	}
	if code := call(number); code != http.StatusConflict {
		t.Errorf("duplicate callback = %d, want 409", code)
	}
	if code := call("missing"); code != http.StatusNotFound {
		t.Errorf("unknown order = %d, want 404", code)
	}
}

func TestUserCannotSeeOthersOrders(t *testing.T) {
	s := newServer(t)
	id, _ := s.placeOrder()
	other := s.token(buyer+1, middleware.RoleUser)

	if code, _ := s.do(http.MethodGet, fmt.Sprintf("/api/user/orders/%d", id), other, nil); code != http.StatusNotFound {
		t.Errorf("detail = %d, want 404", code)
	}
	if code, _ := s.do(http.MethodPut, fmt.Sprintf("/api/user/orders/%d/cancel", id), other, nil); code != http.StatusNotFound {
		t.Errorf("cancel = %d, want 404", code)
	}
	if code, _ := s.do(http.MethodGet, fmt.Sprintf("/api/user/orders/%d", id), s.user, nil); code != http.StatusOK {
		t.Errorf("owner detail = %d", code)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := newServer(t)
	addr := s.seedAddress(buyer)

	if code, _ := s.do(http.MethodPost, "/api/user/orders", s.user, map[string]any{"address_book_id": addr}); code != http.StatusBadRequest {
		t.Errorf("empty cart = %d, want 400", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/user/orders", s.user, map[string]any{}); code != http.StatusBadRequest {
		t.Errorf("missing address = %d, want 400", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/user/cart", s.user, map[string]any{"item_kind": "drink", "item_id": 1}); code != http.StatusBadRequest {
		t.Errorf("bad item kind = %d, want 400", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/user/orders/abc", s.user, nil); code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", code)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	s := newServer(t)
	id, number := s.placeOrder()
	if code, _ := s.do(http.MethodPut, "/api/user/orders/payment", s.user, map[string]string{"order_number": number}); code != http.StatusOK {
		t.Fatalf("pay = %d", code)
	}

	path := fmt.Sprintf("/api/admin/orders/%d/reject", id)
	if code, _ := s.do(http.MethodPut, path, s.admin, map[string]string{}); code != http.StatusBadRequest {
		t.Errorf("reject without reason = %d, want 400", code)
	}
	if code, _ := s.do(http.MethodPut, path, s.admin, map[string]string{"reason": "餐厅已打烊"}); code != http.StatusOK {
		t.Fatalf("reject = %d", code)
	}

	var o model.Order
	if err := s.db.First(&o, id).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if o.Status != model.OrderCancelled || o.PayStatus != model.PayRefund || o.RejectionReason != "餐厅已打烊" {
		t.Errorf("order = %+v", o)
	}
}

func TestHistoryAndSearch(t *testing.T) {
	s := newServer(t)
	_, number := s.placeOrder()

	code, env := s.do(http.MethodGet, "/api/user/orders?page=1&page_size=5", s.user, nil)
	if code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	var page struct {
		Total   int64             `json:"total"`
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil || page.Total != 1 || len(page.Records) != 1 {
		t.Errorf("history page = %+v (%v)", page, err)
	}

	code, env = s.do(http.MethodGet, "/api/admin/orders/search?number="+number[:8], s.admin, nil)
	if code != http.StatusOK {
		t.Fatalf("search = %d", code)
	}
	var found struct {
		Total   int64 `json:"total"`
		Records []struct {
			Number string `json:"number"`
			Dishes string `json:"order_dishes"`
		} `json:"records"`
	}
	if err := json.Unmarshal(env.Data, &found); err != nil || found.Total != 1 {
		t.Fatalf("search page = %+v (%v)", found, err)
	}
	if found.Records[0].Number != number || found.Records[0].Dishes == "" {
		t.Errorf("record = %+v", found.Records[0])
	}

	if code, _ := s.do(http.MethodGet, "/api/user/orders?status=9", s.user, nil); code != http.StatusBadRequest {
		t.Errorf("bad status = %d, want 400", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/admin/orders/search?begin=yesterday", s.admin, nil); code != http.StatusBadRequest {
		t.Errorf("bad begin = %d, want 400", code)
	}
}

func TestReportRoutes(t *testing.T) {
	s := newServer(t)

	code, env := s.do(http.MethodGet, "/api/admin/report/turnover?begin=2024-01-01&end=2024-01-03", s.admin, nil)
	if code != http.StatusOK {
		t.Fatalf("turnover = %d %s", code, env.Msg)
	}
	var view struct {
		DateList     string `json:"dateList"`
		TurnoverList string `json:"turnoverList"`
	}
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.DateList != "2024-01-01,2024-01-02,2024-01-03" || view.TurnoverList != "0.00,0.00,0.00" {
		t.Errorf("view = %+v", view)
	}

	for _, path := range []string{"users", "orders", "top10", "overview"} {
		if code, env := s.do(http.MethodGet, "/api/admin/report/"+path+"?begin=2024-01-01&end=2024-01-03", s.admin, nil); code != http.StatusOK {
			t.Errorf("%s = %d %s", path, code, env.Msg)
		}
	}

	if code, _ := s.do(http.MethodGet, "/api/admin/report/turnover?begin=2024-01-05&end=2024-01-01", s.admin, nil); code != http.StatusBadRequest {
		t.Errorf("reversed range = %d, want 400", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/admin/report/turnover?begin=20240101&end=2024-01-01", s.admin, nil); code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", code)
	}
	for _, path := range []string{"turnover", "users", "orders", "top10"} {
		if code, _ := s.do(http.MethodGet, "/api/admin/report/"+path+"?begin=0001-01-01&end=9999-12-31", s.admin, nil); code != http.StatusBadRequest {
			t.Errorf("%s over ten thousand years = %d, want 400", path, code)
		}
	}
}

// 客户端带上的名称和单价一律忽略，以菜单为准。
func TestCartIgnoresClientPrice(t *testing.T) {
	s := newServer(t)
	code, env := s.do(http.MethodPost, "/api/user/cart", s.user, map[string]any{
		"item_kind": "dish", "item_id": 1, "name": "白送", "unit_amount": "0.01", "quantity": 2,
	})
	if code != http.StatusOK {
		t.Fatalf("add cart: %d %s", code, env.Msg)
	}
	var line model.CartLine
	if err := json.Unmarshal(env.Data, &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line.Name != "宫保鸡丁" || line.UnitAmount.StringFixed(2) != "18.00" {
		t.Errorf("cart line = %s %s, want 宫保鸡丁 18.00", line.Name, line.UnitAmount.StringFixed(2))
	}

	code, env = s.do(http.MethodPost, "/api/user/orders", s.user, map[string]any{"address_book_id": s.seedAddress(buyer)})
	if code != http.StatusOK {
		t.Fatalf("submit: %d %s", code, env.Msg)
	}
	var out struct {
		Amount string `json:"order_amount"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if out.Amount != "36" {
		t.Errorf("order_amount = %s, want 36", out.Amount)
	}

	if code, _ := s.do(http.MethodPost, "/api/user/cart", s.user, map[string]any{"item_kind": "dish", "item_id": 99}); code != http.StatusBadRequest {
		t.Errorf("unknown dish = %d, want 400", code)
	}
}
