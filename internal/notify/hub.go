// Package notify 通过 websocket 向商家端推送来单提醒和催单。
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"takeout/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// 推送类型，与商家端约定。
const (
	TypeNewOrder = 1 // 来单提醒
	TypeReminder = 2 // 客户催单
)

// Message 推送给商家端的消息。
type Message struct {
	Type    int    `json:"type"`
	OrderID uint   `json:"orderId"`
	Content string `json:"content"`
	SentAt  string `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
	hub  *Hub
}

type Hub struct {
	clients    map[*client]bool
	broadcast  chan Message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
	upgrader   websocket.Upgrader
}

// NewHub allowedOrigins 为空时不校验 Origin。
func NewHub(logger *logrus.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run 直到 ctx 取消，退出时断开所有连接。
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", n).Info("Merchant client connected")

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("client_count", n).Info("Merchant client disconnected")

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// 消费太慢的连接直接断开
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) Broadcast(msgType int, orderID uint, content string) {
	msg := Message{
		Type:    msgType,
		OrderID: orderID,
		Content: content,
		SentAt:  time.Now().Format(time.RFC3339),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast channel full, dropping message")
	}
}

// HandleOrderEvent 作为事件 handler 挂到 Dispatcher：支付成功推来单，催单推提醒。
func (h *Hub) HandleOrderEvent(_ context.Context, ev queue.OrderEvent) error {
	switch ev.Type {
	case queue.EventOrderPaid:
		h.Broadcast(TypeNewOrder, ev.OrderID, "订单号："+ev.Number)
	case queue.EventOrderReminded:
		h.Broadcast(TypeReminder, ev.OrderID, "订单号："+ev.Number)
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Handle gin 入口，升级为 websocket 连接。
func (h *Hub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade to WebSocket")
		return
	}

	cl := &client{conn: conn, send: make(chan Message, 64), hub: h}
	select {
	case h.register <- cl:
	case <-h.done:
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump()
}

// readPump 商家端不发业务消息，只用来感知断开和续期。
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("WebSocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				c.hub.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
