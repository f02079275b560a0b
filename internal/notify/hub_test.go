package notify

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"takeout/internal/logging"
	"takeout/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(logging.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestOrderEventsReachMerchants(t *testing.T) {
	hub, url := startHub(t)
	a := dial(t, hub, url, 1)
	b := dial(t, hub, url, 2)

	events := []queue.OrderEvent{
		{Type: queue.EventOrderConfirmed, OrderID: 1, Number: "N1"}, // 不推送
		{Type: queue.EventOrderPaid, OrderID: 2, Number: "N2"},
		{Type: queue.EventOrderReminded, OrderID: 3, Number: "N3"},
	}
	for _, ev := range events {
		if err := hub.HandleOrderEvent(context.Background(), ev); err != nil {
			t.Fatalf("HandleOrderEvent: %v", err)
		}
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var first, second Message
		if err := conn.ReadJSON(&first); err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := conn.ReadJSON(&second); err != nil {
			t.Fatalf("read: %v", err)
		}
		if first.Type != TypeNewOrder || first.OrderID != 2 || first.Content != "订单号：N2" {
			t.Errorf("first = %+v", first)
		}
		if second.Type != TypeReminder || second.OrderID != 3 {
			t.Errorf("second = %+v", second)
		}
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d after close", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://admin.test"})
	req := httptest.NewRequest("GET", "/ws", nil)
	if !check(req) {
		t.Error("request without Origin should pass")
	}
	req.Header.Set("Origin", "http://evil.test")
	if check(req) {
		t.Error("unknown origin accepted")
	}
	req.Header.Set("Origin", "http://admin.test")
	if !check(req) {
		t.Error("allowed origin rejected")
	}
}
