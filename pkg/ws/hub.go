package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType WebSocket 消息类型
const (
	MsgTypeInit           = "init"            // 初始化数据（设备列表+快照）
	MsgTypeSnapshotUpdate = "snapshot_update" // 快照更新
	MsgTypeError          = "error"           // 错误消息
)

// 客户端指令
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Message WebSocket 消息结构
type Message struct {
	Type     string      `json:"type"`
	DeviceID string      `json:"device_id,omitempty"`
	Data     interface{} `json:"data"`
}

// InitData 初始化数据
type InitData struct {
	Devices   interface{} `json:"devices"`
	Snapshots interface{} `json:"snapshots"`
}

// command 客户端发来的订阅指令
type command struct {
	Action   string `json:"action"`
	DeviceID string `json:"device_id"`
}

// outbound 待广播的消息，deviceID 为空表示发给所有客户端
type outbound struct {
	deviceID string
	data     []byte
}

// Client WebSocket 客户端
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	devices map[string]bool // 为空表示接收全部设备
}

// wants 是否接收该设备的消息
func (c *Client) wants(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deviceID == "" || len(c.devices) == 0 || c.devices[deviceID]
}

func (c *Client) apply(cmd command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Action {
	case ActionSubscribe:
		c.devices[cmd.DeviceID] = true
	case ActionUnsubscribe:
		delete(c.devices, cmd.DeviceID)
	}
}

// Hub WebSocket 连接管理中心
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	mu         sync.RWMutex

	// 初始数据提供者回调
	getInitData func() *InitData
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// SetInitDataProvider 设置初始数据提供者
func (h *Hub) SetInitDataProvider(provider func() *InitData) {
	h.getInitData = provider
}

// Run 运行 Hub，直到 Close
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected", zap.Int("total_clients", total))

			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected", zap.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.deviceID) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// 慢消费者，关闭连接
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close 停止 Hub 并断开所有客户端
func (h *Hub) Close() {
	close(h.stop)
}

// sendInitData 发送初始数据给新连接的客户端
func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		h.logger.Warn("No init data provider set")
		return
	}

	initData := h.getInitData()
	if initData == nil {
		h.logger.Warn("Init data provider returned nil")
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: initData})
	if err != nil {
		h.logger.Error("Failed to marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
		h.logger.Debug("Sent init data to client")
	default:
		h.logger.Warn("Failed to send init data, client buffer full")
	}
}

// BroadcastMessage 广播结构化消息，deviceID 为空时发给所有客户端
func (h *Hub) BroadcastMessage(msgType, deviceID string, data interface{}) {
	jsonData, err := json.Marshal(Message{Type: msgType, DeviceID: deviceID, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- outbound{deviceID: deviceID, data: jsonData}:
	case <-h.stop:
	}
}

// BroadcastSnapshot 广播设备快照
func (h *Hub) BroadcastSnapshot(deviceID string, snapshot interface{}) {
	h.BroadcastMessage(MsgTypeSnapshotUpdate, deviceID, snapshot)
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		devices: make(map[string]bool),
	}
}

// Register 注册客户端
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.stop:
	}
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.stop:
	}
}

// ReadPump 读取订阅指令
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.DeviceID == "" {
			c.hub.logger.Debug("Ignoring websocket message", zap.ByteString("data", data))
			continue
		}
		c.apply(cmd)
	}
}

// WritePump 发送消息
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
