package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"takeout/internal/config"
	"takeout/internal/metrics"
	"takeout/internal/middleware"
	"takeout/internal/model"
	"takeout/internal/notify"
	"takeout/internal/order"
	"takeout/internal/report"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Deps 路由依赖。Redis 为 nil 时不做限流。
type Deps struct {
	Orders  *order.Service
	Cart    *order.Cart
	Reports *report.Aggregator
	Hub     *notify.Hub
	Metrics *metrics.Metrics
	Redis   *rd.Client
	Logger  *logrus.Logger
	Config  config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	cfg := d.Config
	r.Use(middleware.RequestLog(d.Logger, d.Metrics))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	h := handlers{Deps: d}
	submitLimit := middleware.RedisRateLimit(d.Redis, "submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow)
	payLimit := middleware.RedisRateLimit(d.Redis, "pay", cfg.SubmitRateLimit, cfg.SubmitRateWindow)

	// 用户端
	user := r.Group("/api/user", middleware.RequireAuth(cfg.JWTSecret))
	user.POST("/cart", h.addCart)
	user.GET("/cart", h.listCart)
	user.DELETE("/cart", h.cleanCart)
	user.POST("/orders", submitLimit, h.submit)
	user.PUT("/orders/payment", payLimit, h.pay)
	user.GET("/orders", h.history)
	user.GET("/orders/:id", h.userDetail)
	user.PUT("/orders/:id/cancel", h.userCancel)
	user.POST("/orders/:id/repeat", h.repeat)
	user.GET("/orders/:id/reminder", h.remind)

	// 管理端
	admin := r.Group("/api/admin", middleware.RequireAuth(cfg.JWTSecret), middleware.RequireAdmin())
	admin.GET("/orders/search", h.search)
	admin.GET("/orders/statistics", h.statistics)
	admin.GET("/orders/:id", h.adminDetail)
	admin.PUT("/orders/:id/confirm", h.confirm)
	admin.PUT("/orders/:id/reject", h.reject)
	admin.PUT("/orders/:id/cancel", h.adminCancel)
	admin.PUT("/orders/:id/delivery", h.deliver)
	admin.PUT("/orders/:id/complete", h.complete)
	admin.GET("/report/turnover", h.turnover)
	admin.GET("/report/users", h.users)
	admin.GET("/report/orders", h.orders)
	admin.GET("/report/top10", h.top10)
	admin.GET("/report/overview", h.overview)
	if d.Hub != nil {
		admin.GET("/ws", d.Hub.Handle)
	}

	// 支付网关回调
	r.POST("/api/notify/paySuccess", middleware.RequireNotifyToken(cfg.PayNotifyToken), h.paySuccess)
}

type handlers struct {
	Deps
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "success", "data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": msg})
}

// fail 把领域错误映射为 HTTP 状态码。
func (h handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrAddressNotFound),
		errors.Is(err, order.ErrItemNotFound),
		errors.Is(err, order.ErrInvalidCartItem),
		errors.Is(err, report.ErrInvalidRange):
		status = http.StatusBadRequest
	case errors.Is(err, order.ErrAlreadyPaid),
		errors.Is(err, order.ErrDuplicateNumber):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.Logger.WithError(err).WithField("route", c.FullPath()).Error("Request failed")
		c.JSON(status, gin.H{"code": status, "msg": "服务器内部错误"})
		return
	}
	c.JSON(status, gin.H{"code": status, "msg": err.Error()})
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "订单ID无效")
		return 0, false
	}
	return uint(id), true
}

func queryStatus(c *gin.Context) (model.OrderStatus, bool) {
	raw := c.Query("status")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || !model.OrderStatus(n).Valid() {
		badRequest(c, "status 无效")
		return 0, false
	}
	return model.OrderStatus(n), true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return n
}

// ---- 购物车 ----

// addCart 名称和单价以菜单为准，请求里带了也不采用。
func (h handlers) addCart(c *gin.Context) {
	var req struct {
		ItemKind model.ItemKind `json:"item_kind" binding:"required,oneof=dish combo"`
		ItemID   uint           `json:"item_id" binding:"required,min=1"`
		Flavor   string         `json:"flavor" binding:"max=128"`
		Quantity int            `json:"quantity" binding:"omitempty,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	line, err := h.Cart.Add(c.Request.Context(), middleware.UserID(c), order.CartItem{
		ItemKind: req.ItemKind,
		ItemID:   req.ItemID,
		Flavor:   req.Flavor,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, line)
}

func (h handlers) listCart(c *gin.Context) {
	lines, err := h.Cart.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, lines)
}

func (h handlers) cleanCart(c *gin.Context) {
	if err := h.Cart.Clean(c.Request.Context(), middleware.UserID(c)); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// ---- 用户端订单 ----

func (h handlers) submit(c *gin.Context) {
	var req struct {
		AddressBookID uint   `json:"address_book_id" binding:"required,min=1"`
		Remark        string `json:"remark" binding:"max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.Orders.Submit(c.Request.Context(), middleware.UserID(c), order.SubmitRequest{
		AddressBookID: req.AddressBookID,
		Remark:        req.Remark,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{
		"id":           d.ID,
		"order_number": d.Number,
		"order_amount": d.Amount,
		"order_time":   d.OrderTime,
	})
}

func (h handlers) pay(c *gin.Context) {
	var req struct {
		OrderNumber string `json:"order_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	payload, err := h.Orders.Pay(c.Request.Context(), middleware.UserID(c), req.OrderNumber)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, payload)
}

func (h handlers) history(c *gin.Context) {
	status, valid := queryStatus(c)
	if !valid {
		return
	}
	page, err := h.Orders.History(c.Request.Context(), middleware.UserID(c), order.HistoryQuery{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 10),
		Status:   status,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, page)
}

func (h handlers) userDetail(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	d, err := h.Orders.GetForUser(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, d)
}

func (h handlers) userCancel(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	o, err := h.Orders.UserCancel(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func (h handlers) repeat(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	lines, err := h.Orders.Repeat(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, lines)
}

func (h handlers) remind(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.Orders.Remind(c.Request.Context(), middleware.UserID(c), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

// ---- 支付回调 ----

func (h handlers) paySuccess(c *gin.Context) {
	var req struct {
		OrderNumber string `json:"order_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	o, err := h.Orders.HandlePaymentCallback(c.Request.Context(), req.OrderNumber)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"order_number": o.Number, "status": o.Status, "pay_status": o.PayStatus})
}

// ---- 管理端订单 ----

// parseTime 支持 RFC3339 和 "2006-01-02 15:04:05"（按配置时区）。
func (h handlers) parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateTime, raw, h.location())
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h handlers) location() *time.Location {
	if h.Config.Location != nil {
		return h.Config.Location
	}
	return time.UTC
}

func (h handlers) search(c *gin.Context) {
	status, valid := queryStatus(c)
	if !valid {
		return
	}
	begin, err := h.parseTime(c.Query("begin"))
	if err != nil {
		badRequest(c, "begin 格式错误")
		return
	}
	end, err := h.parseTime(c.Query("end"))
	if err != nil {
		badRequest(c, "end 格式错误")
		return
	}
	page, err := h.Orders.Search(c.Request.Context(), order.SearchQuery{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 10),
		Number:   c.Query("number"),
		Phone:    c.Query("phone"),
		Status:   status,
		Begin:    begin,
		End:      end,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, page)
}

func (h handlers) statistics(c *gin.Context) {
	counts, err := h.Orders.StatusCounts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, counts)
}

func (h handlers) adminDetail(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	d, err := h.Orders.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, d)
}

type transitionFunc func(c *gin.Context, id uint) (model.Order, error)

func (h handlers) transit(c *gin.Context, fn transitionFunc) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	o, err := fn(c, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, o)
}

func bindReason(c *gin.Context) (string, bool) {
	var req struct {
		Reason string `json:"reason" binding:"required,max=255"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return req.Reason, true
}

func (h handlers) confirm(c *gin.Context) {
	h.transit(c, func(c *gin.Context, id uint) (model.Order, error) {
		return h.Orders.Confirm(c.Request.Context(), id)
	})
}

func (h handlers) reject(c *gin.Context) {
	reason, valid := bindReason(c)
	if !valid {
		return
	}
	h.transit(c, func(c *gin.Context, id uint) (model.Order, error) {
		return h.Orders.Reject(c.Request.Context(), id, reason)
	})
}

func (h handlers) adminCancel(c *gin.Context) {
	reason, valid := bindReason(c)
	if !valid {
		return
	}
	h.transit(c, func(c *gin.Context, id uint) (model.Order, error) {
		return h.Orders.AdminCancel(c.Request.Context(), id, reason)
	})
}

func (h handlers) deliver(c *gin.Context) {
	h.transit(c, func(c *gin.Context, id uint) (model.Order, error) {
		return h.Orders.Deliver(c.Request.Context(), id)
	})
}

func (h handlers) complete(c *gin.Context) {
	h.transit(c, func(c *gin.Context, id uint) (model.Order, error) {
		return h.Orders.Complete(c.Request.Context(), id)
	})
}

// ---- 报表 ----

// dateRange 读取 begin/end（yyyy-MM-dd），按配置时区解析。
func (h handlers) dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	begin, err := time.ParseInLocation(time.DateOnly, c.Query("begin"), h.location())
	if err != nil {
		badRequest(c, "begin 格式应为 yyyy-MM-dd")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.ParseInLocation(time.DateOnly, c.Query("end"), h.location())
	if err != nil {
		badRequest(c, "end 格式应为 yyyy-MM-dd")
		return time.Time{}, time.Time{}, false
	}
	return begin, end, true
}

func (h handlers) turnover(c *gin.Context) {
	begin, end, valid := h.dateRange(c)
	if !valid {
		return
	}
	r, err := h.Reports.Turnover(c.Request.Context(), begin, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, r.View())
}

func (h handlers) users(c *gin.Context) {
	begin, end, valid := h.dateRange(c)
	if !valid {
		return
	}
	r, err := h.Reports.UserGrowth(c.Request.Context(), begin, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, r.View())
}

func (h handlers) orders(c *gin.Context) {
	begin, end, valid := h.dateRange(c)
	if !valid {
		return
	}
	r, err := h.Reports.OrderVolume(c.Request.Context(), begin, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, r.View())
}

func (h handlers) top10(c *gin.Context) {
	begin, end, valid := h.dateRange(c)
	if !valid {
		return
	}
	r, err := h.Reports.TopSellers(c.Request.Context(), begin, end, report.DefaultTopLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, r.View())
}

func (h handlers) overview(c *gin.Context) {
	begin, end, valid := h.dateRange(c)
	if !valid {
		return
	}
	r, err := h.Reports.Overview(c.Request.Context(), begin, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, r)
}
