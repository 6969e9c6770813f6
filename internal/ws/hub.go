// Package ws implements the live detection WebSocket hub (SPEC_FULL.md
// SUPPLEMENTED FEATURES): a per-camera fan-out of detection results to
// connected dashboard clients, independent of the Alarm Router's own
// websocket delivery channel. Grounded on the teacher's
// internal/ws/detection_hub.go (camera_id -> connection-set map guarded
// by one RWMutex, Register/Unregister/Broadcast shape).
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentrynet/internal/model"
)

// DetectionMessage is the per-frame payload broadcast to subscribers of
// one camera.
type DetectionMessage struct {
	SourceID   string            `json:"source_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Detections []model.Detection `json:"detections"`
}

// Hub manages WebSocket connections for real-time detection streaming,
// keyed by camera id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds a connection for a camera.
func (h *Hub) Register(sourceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sourceID] == nil {
		h.clients[sourceID] = make(map[*websocket.Conn]struct{})
	}
	h.clients[sourceID][conn] = struct{}{}
}

// Unregister removes a connection for a camera.
func (h *Hub) Unregister(sourceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[sourceID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, sourceID)
		}
	}
}

// ClientCount returns the number of connections currently subscribed to
// sourceID.
func (h *Hub) ClientCount(sourceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sourceID])
}

// BroadcastDetections pushes a detection result to every client
// subscribed to sourceID. Never blocks the pipeline caller longer than
// one write deadline per client.
func (h *Hub) BroadcastDetections(sourceID string, dets []model.Detection, ts time.Time) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[sourceID]))
	for c := range h.clients[sourceID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(DetectionMessage{SourceID: sourceID, Timestamp: ts, Detections: dets})
	if err != nil {
		log.Printf("[ws] marshal detection message for %s: %v", sourceID, err)
		return
	}

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.Unregister(sourceID, conn)
			conn.Close()
		}
	}
}

// Broadcast implements alarm.Broadcaster: it fans the raw message out to
// every client connected to any camera, reporting how many received it.
// This lets a single hub also back the Alarm Router's websocket channel
// method when callers want a unified client list.
func (h *Hub) Broadcast(message []byte) int {
	h.mu.RLock()
	var conns []*websocket.Conn
	for _, set := range h.clients {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, message); err == nil {
			delivered++
		}
	}
	return delivered
}
