package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrOrderPaid 网关返回 ORDERPAID：该商户订单号已经支付过。
var ErrOrderPaid = errors.New("payment gateway: order already paid")

const codeOrderPaid = "ORDERPAID"

// PayRequest 预下单参数。
type PayRequest struct {
	OrderNumber string          `json:"out_trade_no"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	BuyerID     string          `json:"buyer_id"`
}

// Payload 返回给小程序端拉起支付的参数。Settled 为 true 表示网关已同步确认收款。
type Payload struct {
	PrepayID  string `json:"prepay_id"`
	NonceStr  string `json:"nonce_str"`
	Package   string `json:"package"`
	SignType  string `json:"sign_type"`
	PaySign   string `json:"pay_sign"`
	TimeStamp string `json:"time_stamp"`
	Settled   bool   `json:"settled"`
}

// RefundRequest 退款参数，金额单位元。
type RefundRequest struct {
	OrderNumber    string          `json:"out_trade_no"`
	RefundNumber   string          `json:"out_refund_no"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	OriginalAmount decimal.Decimal `json:"total_amount"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type refundAck struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// Client 支付网关 HTTP 客户端。超时与重试由 resty 负责，5xx 与网络错误会重试。
type Client struct {
	http   *resty.Client
	logger *logrus.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, retries int, logger *logrus.Logger) *Client {
	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if apiKey != "" {
		hc.SetAuthToken(apiKey)
	}
	return &Client{http: hc, logger: logger}
}

// Pay 向网关申请预支付交易单。
func (c *Client) Pay(ctx context.Context, req PayRequest) (Payload, error) {
	var out Payload
	var gwErr gatewayError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&gwErr).
		Post("/v1/transactions")
	if err != nil {
		return Payload{}, fmt.Errorf("payment gateway pay: %w", err)
	}
	if resp.IsError() {
		if gwErr.Code == codeOrderPaid {
			return Payload{}, ErrOrderPaid
		}
		return Payload{}, fmt.Errorf("payment gateway pay: status %d: %s %s", resp.StatusCode(), gwErr.Code, gwErr.Message)
	}

	c.logger.WithFields(logrus.Fields{
		"order_number": req.OrderNumber,
		"prepay_id":    out.PrepayID,
	}).Info("Prepay order created")
	return out, nil
}

// Refund 申请退款。网关按 out_refund_no 幂等，重试安全。
func (c *Client) Refund(ctx context.Context, req RefundRequest) error {
	var ack refundAck
	var gwErr gatewayError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&ack).
		SetError(&gwErr).
		Post("/v1/refunds")
	if err != nil {
		return fmt.Errorf("payment gateway refund: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("payment gateway refund: status %d: %s %s", resp.StatusCode(), gwErr.Code, gwErr.Message)
	}

	c.logger.WithFields(logrus.Fields{
		"order_number":  req.OrderNumber,
		"refund_number": req.RefundNumber,
		"refund_id":     ack.RefundID,
		"refund_status": ack.Status,
	}).Info("Refund requested")
	return nil
}

// Mock 本地联调用：支付立即视为成功，退款只记日志。
type Mock struct {
	Logger *logrus.Logger
}

func (m Mock) Pay(_ context.Context, req PayRequest) (Payload, error) {
	return Payload{
		PrepayID:  "mock-" + req.OrderNumber,
		Package:   "prepay_id=mock-" + req.OrderNumber,
		SignType:  "RSA",
		TimeStamp: fmt.Sprint(time.Now().Unix()),
		Settled:   true,
	}, nil
}

func (m Mock) Refund(_ context.Context, req RefundRequest) error {
	if m.Logger != nil {
		m.Logger.WithFields(logrus.Fields{
			"order_number":  req.OrderNumber,
			"refund_amount": req.RefundAmount.StringFixed(2),
		}).Info("Mock refund accepted")
	}
	return nil
}
