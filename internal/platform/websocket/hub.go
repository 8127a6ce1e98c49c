// Package websocket pushes live queue updates to connected screens.
//
// Clients connect, name the topics they watch in the query string or in a
// subscribe message, and receive one JSON Update per committed change on
// those topics. Slow clients drop updates instead of blocking the sender.
package websocket

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Update is one message pushed to a client.
type Update struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	At    time.Time       `json:"at"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is what a client may send after connecting.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected screen.
type Client struct {
	ID     string
	Send   chan []byte
	topics map[string]struct{}
}

func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, sendBuffer), topics: map[string]struct{}{}}
}

// Topics returns the client's subscriptions, sorted.
func (c *Client) Topics() []string {
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Hub tracks clients by topic.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	dropped int
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		log:     log,
	}
}

// Register adds the client and subscribes it to topics.
func (h *Hub) Register(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	h.subscribeLocked(client, topics)
}

// Unregister removes the client from every topic and closes its Send
// channel. Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for topic := range client.topics {
		h.removeLocked(client, topic)
	}
	client.topics = map[string]struct{}{}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.subscribeLocked(client, topics)
}

func (h *Hub) Unsubscribe(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		topic = normalizeTopic(topic)
		delete(client.topics, topic)
		h.removeLocked(client, topic)
	}
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		topic = normalizeTopic(topic)
		if topic == "" {
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	subscribers, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, topic)
	}
}

// Process applies a subscribe or unsubscribe message. Unknown actions are
// ignored.
func (h *Hub) Process(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics...)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics...)
	}
}

// Broadcast sends u to every subscriber of u.Topic and reports how many
// clients received it.
func (h *Hub) Broadcast(u Update) int {
	data, err := json.Marshal(u)
	if err != nil {
		h.log.Error().Err(err).Str("topic", u.Topic).Msg("marshal update")
		return 0
	}

	h.mu.RLock()
	sent, dropped := 0, 0
	for client := range h.clients[u.Topic] {
		select {
		case client.Send <- data:
			sent++
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.mu.Lock()
		h.dropped += dropped
		h.mu.Unlock()
		h.log.Warn().Str("topic", u.Topic).Int("dropped", dropped).Msg("client buffer full, update dropped")
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[normalizeTopic(topic)])
}

// Dropped is the number of updates skipped because a client was too slow.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

func normalizeTopic(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// Handler upgrades HTTP requests to websocket connections on the hub.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	log      zerolog.Logger
}

// NewHandler accepts connections from the given origins. An empty list or
// "*" accepts any origin.
func NewHandler(hub *Hub, origins []string, log zerolog.Logger) *Handler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return &Handler{
		hub: hub,
		log: log,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || slices.Contains(origins, origin)
			},
		},
	}
}

// Connect serves GET requests with an optional comma separated "topics"
// query parameter.
func (wh *Handler) Connect(c echo.Context) error {
	ws, err := wh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		wh.log.Debug().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	var topics []string
	if q := c.QueryParam("topics"); q != "" {
		topics = strings.Split(q, ",")
	}
	client := NewClient(uuid.NewString())
	wh.hub.Register(client, topics...)
	wh.log.Debug().Str("client_id", client.ID).Strs("topics", client.Topics()).Msg("websocket connected")

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)
	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
		wh.log.Debug().Str("client_id", client.ID).Msg("websocket disconnected")
	}()

	ws.SetReadLimit(maxMessage)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		wh.hub.Process(client, msg)
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
