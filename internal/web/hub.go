package web

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YooLeon/portainer-monitor/internal/entity"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 保存每个实体的最新状态，并推送给 WebSocket 客户端
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	states  map[string]entity.State
	clients map[*subscriber]struct{}
}

// NewHub 创建新的状态中心
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		states:  make(map[string]entity.State),
		clients: make(map[*subscriber]struct{}),
	}
}

// WriteState 记录实体状态并广播，慢客户端会丢弃消息而不是阻塞刷新
func (h *Hub) WriteState(s entity.State) {
	msg, err := json.Marshal(s)
	if err != nil {
		h.logger.Error("Error encoding entity state", zap.String("entity", s.UniqueID), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.states[s.UniqueID] = s
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping state update for slow websocket client", zap.String("entity", s.UniqueID))
		}
	}
}

// State 返回单个实体的最新状态
func (h *Hub) State(uniqueID string) (entity.State, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, found := h.states[uniqueID]
	return s, found
}

// States 返回全部实体状态，按唯一 ID 排序
func (h *Hub) States() []entity.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sortedStates()
}

func (h *Hub) sortedStates() []entity.State {
	states := make([]entity.State, 0, len(h.states))
	for _, s := range h.states {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].UniqueID < states[j].UniqueID
	})
	return states
}

// register 注册客户端，并在同一把锁内排入当前全部状态
func (h *Hub) register(conn *websocket.Conn) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := h.sortedStates()
	size := sendBuffer
	if len(current)+sendBuffer/2 > size {
		size = len(current) + sendBuffer/2
	}

	c := &subscriber{conn: conn, send: make(chan []byte, size)}
	for _, s := range current {
		msg, err := json.Marshal(s)
		if err != nil {
			continue
		}
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, found := h.clients[c]; found {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients 返回当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP 升级到 WebSocket，先推送全部状态，之后推送每次状态变化
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Error upgrading to websocket", zap.Error(err))
		return
	}

	c := h.register(ws)
	h.logger.Debug("Websocket client connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(c)

	// 读取循环只用于感知连接关闭
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(c)
	h.logger.Debug("Websocket client disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) writeLoop(c *subscriber) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("Error writing to websocket", zap.Error(err))
			h.unregister(c)
			// 继续排空直到 send 被关闭
			continue
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
