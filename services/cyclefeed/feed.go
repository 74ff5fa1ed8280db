// Package cyclefeed streams refresh-cycle telemetry (batch size, duration,
// failures) to operations clients over WebSocket. This is the live view of
// the per-cycle log lines used to track the refresh throughput target.
package cyclefeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"screener_engine/services/merge"
)

const (
	maxClients    = 50
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendBufferLen = 64
)

// Message wraps a broadcast payload with its type and timestamp.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

// Client represents one connected ops client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed is the broadcast hub for cycle stats.
type Feed struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	lastStats merge.CycleStats
	statsMu   sync.RWMutex
}

// NewFeed creates the hub and starts its broadcast loop.
func NewFeed() *Feed {
	f := &Feed{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go f.run()
	return f
}

// Publish broadcasts one cycle's stats and remembers them for the status
// endpoint. Never blocks the refresh loops.
func (f *Feed) Publish(stats merge.CycleStats) {
	f.statsMu.Lock()
	f.lastStats = stats
	f.statsMu.Unlock()

	msg := Message{
		Type: "cycle_stats",
		Data: stats,
		Time: time.Now().Format(time.RFC3339),
	}
	select {
	case f.broadcast <- msg:
	default:
		// Feed congested; ops telemetry is best-effort.
	}
}

// LastStats returns the most recently published cycle stats.
func (f *Feed) LastStats() merge.CycleStats {
	f.statsMu.RLock()
	defer f.statsMu.RUnlock()
	return f.lastStats
}

// Shutdown closes all client connections and stops the hub.
func (f *Feed) Shutdown() {
	close(f.shutdown)

	f.mu.Lock()
	for client := range f.clients {
		close(client.send)
		client.conn.Close()
	}
	f.clients = make(map[*Client]bool)
	f.mu.Unlock()

	log.Println("Cycle feed shutdown complete")
}

// run is the hub loop
func (f *Feed) run() {
	for {
		select {
		case <-f.shutdown:
			return

		case client := <-f.register:
			f.mu.Lock()
			if len(f.clients) >= maxClients {
				f.mu.Unlock()
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				continue
			}
			f.clients[client] = true
			count := len(f.clients)
			f.mu.Unlock()
			log.Printf("Cycle feed client connected. Total clients: %d", count)

		case client := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				close(client.send)
			}
			f.mu.Unlock()

		case message := <-f.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("Error marshaling cycle stats: %v", err)
				continue
			}

			f.mu.Lock()
			for client := range f.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full, drop it
					delete(f.clients, client)
					close(client.send)
				}
			}
			f.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades the connection and attaches the client.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	f.mu.RLock()
	atCapacity := len(f.clients) >= maxClients
	f.mu.RUnlock()
	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBufferLen),
	}
	f.register <- client

	go client.writePump(f)
	go client.readPump(f)
}

// writePump pushes broadcast frames and keepalive pings to the client.
func (c *Client) writePump(f *Feed) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (c *Client) readPump(f *Feed) {
	defer func() {
		f.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
