// Package websocket broadcasts task lifecycle transitions
// (REQUEST_SENT→REQUEST_RECEIVED→RESPONSE_SENT→RESPONSE_RECEIVED, §3) to a
// single live admin connection. Adapted from the teacher's
// internal/websocket/hub.go single-active-client pattern: only one
// connection is ever tracked, and connecting a new client evicts the old
// one. The admin HTTP surface that would serve a UI off this hub is out of
// scope (§1 Non-goals); this package only owns the broadcast transport.
package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub manages a single active WebSocket connection.
type Hub struct {
	client     *Client // nil when no client is connected
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Client is one active WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// TaskTransition is one broadcast event: task moved into State at
// Timestamp. Sent verbatim as JSON to the connected admin client.
type TaskTransition struct {
	TaskID    string           `json:"task_id"`
	ScanID    string           `json:"scan_id"`
	Domain    string           `json:"domain"`
	State     models.TaskState `json:"task_state"`
	Timestamp int64            `json:"timestamp"`
}

// Run processes register/unregister/broadcast events until the caller's
// goroutine is torn down. Meant to run for the lifetime of the dispatcher
// process.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			if h.client != nil {
				close(h.client.send)
			}
			h.client = client
			h.mutex.Unlock()
			log.Printf("websocket: admin client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if h.client == client {
				close(h.client.send)
				h.client = nil
				log.Printf("websocket: admin client disconnected")
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.RLock()
			if h.client != nil {
				select {
				case h.client.send <- message:
				default:
					log.Printf("websocket: client send buffer full, disconnecting")
					close(h.client.send)
					h.client = nil
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// BroadcastTransition sends one TaskTransition to the connected admin
// client, if any. A no-op when nothing is connected, so the dispatcher
// never blocks on an absent observer (§9 "live progress... without
// implementing the admin HTTP surface itself").
func (h *Hub) BroadcastTransition(taskID, scanID, domain string, state models.TaskState) {
	h.mutex.RLock()
	connected := h.client != nil
	h.mutex.RUnlock()
	if !connected {
		return
	}

	body, err := json.Marshal(TaskTransition{
		TaskID:    taskID,
		ScanID:    scanID,
		Domain:    domain,
		State:     state,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		log.Printf("websocket: marshal transition for %s: %v", taskID, err)
		return
	}
	h.broadcast <- body
}

// ServeWS upgrades r into a WebSocket connection and registers it as the
// hub's active client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		// A read loop is required to detect client-initiated disconnects,
		// even though the admin client never sends anything meaningful.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error: %v", err)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		c.conn.WriteMessage(websocket.TextMessage, message)
	}
}
