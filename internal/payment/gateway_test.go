package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"takeout/internal/logging"

	"github.com/shopspring/decimal"
)

func TestClientPay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transactions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("Authorization = %q", got)
		}
		var req PayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.OrderNumber != "N1" || !req.Amount.Equal(decimal.RequireFromString("22.00")) {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Payload{PrepayID: "wx-1", NonceStr: "n"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", time.Second, 0, logging.Discard())
	out, err := c.Pay(context.Background(), PayRequest{OrderNumber: "N1", Amount: decimal.RequireFromString("22.00")})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if out.PrepayID != "wx-1" || out.Settled {
		t.Errorf("unexpected payload %+v", out)
	}
}

func TestClientPayAlreadyPaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(gatewayError{Code: "ORDERPAID", Message: "paid"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, 0, logging.Discard())
	_, err := c.Pay(context.Background(), PayRequest{OrderNumber: "N1"})
	if !errors.Is(err, ErrOrderPaid) {
		t.Fatalf("expected ErrOrderPaid, got %v", err)
	}
}

func TestClientRefundRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(gatewayError{Code: "BUSY"})
			return
		}
		json.NewEncoder(w).Encode(refundAck{RefundID: "r-1", Status: "PROCESSING"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, 2, logging.Discard())
	err := c.Refund(context.Background(), RefundRequest{OrderNumber: "N1", RefundNumber: "RFN1"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestClientRefundSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(gatewayError{Code: "SYSTEMERROR"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, 1, logging.Discard())
	if err := c.Refund(context.Background(), RefundRequest{OrderNumber: "N1"}); err == nil {
		t.Fatal("expected refund error")
	}
}

func TestMockSettlesImmediately(t *testing.T) {
	out, err := Mock{}.Pay(context.Background(), PayRequest{OrderNumber: "N9"})
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if !out.Settled || out.PrepayID != "mock-N9" {
		t.Errorf("unexpected payload %+v", out)
	}
	if err := (Mock{}).Refund(context.Background(), RefundRequest{}); err != nil {
		t.Errorf("Refund: %v", err)
	}
}
