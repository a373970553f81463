package server

import (
	"context"
	"sync"
)

// Hub tracks live connections, enforces connection limits and tears a
// client's battle membership down when it disconnects
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu        sync.Mutex
	ipConns       map[string]int
	totalConns    int
	maxConnsPerIP int
	maxTotalConns int
}

func NewHub(maxConnsPerIP, maxTotalConns int) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 64),
		unregister:    make(chan *Client, 64),
		done:          make(chan struct{}),
		ipConns:       make(map[string]int),
		maxConnsPerIP: maxConnsPerIP,
		maxTotalConns: maxTotalConns,
	}
}

// TryConnect reserves a connection slot for ip. The slot is released by
// TrackDisconnect.
func (h *Hub) TryConnect(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.maxTotalConns || h.ipConns[ip] >= h.maxConnsPerIP {
		return false
	}
	h.ipConns[ip]++
	h.totalConns++
	return true
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until ctx is done, then closes
// every remaining client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			h.release(client)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// add registers a client, or closes it if the hub has stopped
func (h *Hub) add(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		h.release(c)
	}
}

// remove unregisters a client. It is called once per client, from its
// read pump.
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.release(c)
	}
}

func (h *Hub) release(c *Client) {
	c.close()
	if c.handle != nil {
		c.handle.Leave()
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
