package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/user/narrative-engine/internal/interfaces"
	"github.com/user/narrative-engine/internal/types"
	"go.uber.org/zap"
)

const (
	subscriberBuffer = 32
	writeWait        = 5 * time.Second
)

// Hub fans raid events out to websocket subscribers
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{} // raidID -> subscribers
	upgrader    websocket.Upgrader
	Logger      *zap.Logger
}

type subscriber struct {
	send chan types.NarrativeEvent
}

var _ interfaces.EventSink = (*Hub)(nil)

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		Logger: zap.NewNop(),
	}
}

// Publish delivers a raid event to that raid's subscribers. Slow
// subscribers lose events rather than stall the engine.
func (h *Hub) Publish(event types.NarrativeEvent) {
	if event.RaidID == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers[event.RaidID] {
		select {
		case sub.send <- event:
		default:
			h.Logger.Warn("Dropping raid event for slow subscriber",
				zap.String("raid_id", event.RaidID),
				zap.String("type", event.Type))
		}
	}
}

// Subscribers returns the number of live subscribers of a raid
func (h *Hub) Subscribers(raidID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[raidID])
}

func (h *Hub) subscribe(raidID string) *subscriber {
	sub := &subscriber{send: make(chan types.NarrativeEvent, subscriberBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[raidID] == nil {
		h.subscribers[raidID] = make(map[*subscriber]struct{})
	}
	h.subscribers[raidID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(raidID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers[raidID], sub)
	if len(h.subscribers[raidID]) == 0 {
		delete(h.subscribers, raidID)
	}
}

// ServeRaid upgrades the request and streams the raid's events until the
// client goes away
func (h *Hub) ServeRaid(w http.ResponseWriter, r *http.Request, raidID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("WebSocket upgrade failed", zap.String("raid_id", raidID), zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.subscribe(raidID)
	defer h.unsubscribe(raidID, sub)
	h.Logger.Info("Raid stream opened",
		zap.String("raid_id", raidID),
		zap.String("remote_addr", conn.RemoteAddr().String()))

	// the read loop only notices the client closing
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.Logger.Debug("Raid stream write failed", zap.String("raid_id", raidID), zap.Error(err))
				return
			}
		case <-done:
			h.Logger.Info("Raid stream closed", zap.String("raid_id", raidID))
			return
		}
	}
}
