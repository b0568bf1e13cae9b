package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/outblock/match-executor/internal/eventbus"
)

// Hub fans out orchestrator stage-transition events to every connected
// operator dashboard client, the same broadcast/register/unregister
// pattern as the teacher's block-height Hub.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.Mutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// trackedStages is every orchestrator stage name the websocket feed
// cares about, shared between the live subscription and the catch-up
// replay sent to newly connected clients.
var trackedStages = []string{
	"Discovered", "Building", "Verifying", "AssetChecking",
	"Packing", "Submitted", "Completed", "Reverted", "Rejected",
}

// handleWebSocket upgrades the connection, replays each tracked stage's
// recent history so the client isn't starting from a blank feed for
// matches already mid-pipeline, then streams live stage transitions as
// JSON until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade: %v", err)
		return
	}

	if s.bus != nil {
		for _, st := range trackedStages {
			for _, evt := range s.bus.Replay(st) {
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					conn.Close()
					return
				}
			}
		}
	}

	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, 256)}
	s.hub.register <- client

	go func() {
		defer func() {
			s.hub.unregister <- client
			conn.Close()
		}()
		for msg := range client.send {
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			w.Close()
		}
		conn.WriteMessage(websocket.CloseMessage, []byte{})
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// pipeBusToHub subscribes to every tracked stage name and forwards
// events onto the websocket broadcast channel.
func (s *Server) pipeBusToHub() {
	ch := make(chan eventbus.Event, 256)
	for _, st := range trackedStages {
		s.bus.Subscribe(st, ch)
	}
	go func() {
		for evt := range ch {
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			select {
			case s.hub.broadcast <- data:
			default:
			}
		}
	}()
}
