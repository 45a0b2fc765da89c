package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"aftersale/internal/pkg/logger"
	"aftersale/internal/service/aftersale/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 由网关负责跨域校验
		return true
	},
}

// EventStream 维护所有 WebSocket 订阅者，并把售后事件推送给它们。
// 它同时实现了 port.EventPublisher，可以和 Kafka 发布器组合使用。
type EventStream struct {
	mu      sync.RWMutex
	clients map[string]*streamClient
}

func NewEventStream() *EventStream {
	return &EventStream{clients: make(map[string]*streamClient)}
}

// streamClient 是一个 WebSocket 连接。userID 为空表示订阅全部事件(客服工作台)
type streamClient struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func (s *EventStream) register(c *streamClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	logger.Info().Str("client_id", c.id).Str("user_id", c.userID).Msg("🔌 Event stream client registered")
}

func (s *EventStream) unregister(c *streamClient) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	logger.Info().Str("client_id", c.id).Msg("🔌 Event stream client unregistered")
}

// Publish 非阻塞推送，发送队列已满的慢客户端会被断开
func (s *EventStream) Publish(ctx context.Context, events ...domain.CaseEvent) error {
	var slow []*streamClient
	s.mu.RLock()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.mu.RUnlock()
			return err
		}
		for _, c := range s.clients {
			if c.userID != "" && c.userID != ev.UserID {
				continue
			}
			select {
			case c.send <- payload:
			default:
				slow = append(slow, c)
			}
		}
	}
	s.mu.RUnlock()
	for _, c := range slow {
		logger.Ctx(ctx).Warn().Str("client_id", c.id).Msg("⚠️ Event stream client too slow, disconnecting")
		s.unregister(c)
	}
	return nil
}

// Clients 当前连接数
func (s *EventStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP 把 HTTP 连接升级为 WebSocket，可选参数 userId 只订阅该用户的事件
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("❌ WebSocket upgrade failed")
		return
	}
	c := &streamClient{
		id:     uuid.New().String(),
		userID: r.URL.Query().Get("userId"),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
	s.register(c)
	go s.writePump(c)
	go s.readPump(c)
}

// readPump 只处理心跳和关闭，订阅者不会发送业务消息
func (s *EventStream) readPump(c *streamClient) {
	defer func() {
		s.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventStream) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
