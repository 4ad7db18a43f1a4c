// internal/server/handlers/websocket.go

package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nearfeed/internal/domain/feed"
	"nearfeed/internal/domain/geo"
	"nearfeed/internal/domain/location"
	"nearfeed/internal/domain/post"
	"nearfeed/internal/domain/profile"
	feedsvc "nearfeed/internal/service/feed"
	locsvc "nearfeed/internal/service/location"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4096,
	}
}

// WebSocketUpgrader is used to upgrade HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// FeedStreamDeps are the collaborators a live feed connection needs.
type FeedStreamDeps struct {
	Auth      *AuthHandler
	Changes   post.ChangeFeed
	Resolver  profile.Resolver
	Locations locsvc.Store
	WatchOpts location.WatchOptions
	Log       *logrus.Logger
}

// feedClient represents one live feed WebSocket connection
type feedClient struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	userID string
	source *locsvc.PushSource
	agg    feed.Aggregator
	log    *logrus.Logger
	once   sync.Once
}

// FeedWebSocketHandler streams live feed updates over a WebSocket. Each
// connection runs its own aggregation pipeline fed by the client's
// position fixes.
func FeedWebSocketHandler(deps FeedStreamDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := deps.Auth.VerifyRequest(r)
		if err != nil {
			http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
			return
		}

		scope := feed.Scope{
			Radius:     feed.DefaultRadius,
			AuthorID:   r.URL.Query().Get("author_id"),
			ObserverID: userID,
		}
		if err := scope.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Log.WithError(err).Warn("failed to upgrade to WebSocket")
			return
		}

		source := locsvc.NewPushSource(deps.WatchOpts)
		var observerSource location.Source = source
		if deps.Locations != nil {
			observerSource = locsvc.NewPersistingSource(source, deps.Locations, deps.Log, userID)
		}

		agg := feedsvc.NewAggregator(scope, deps.Changes, observerSource, deps.Resolver, deps.Log)

		client := &feedClient{
			conn:   conn,
			send:   make(chan []byte, 256),
			done:   make(chan struct{}),
			userID: userID,
			source: source,
			agg:    agg,
			log:    deps.Log,
		}

		if err := agg.Start(); err != nil {
			deps.Log.WithError(err).Warn("failed to start feed pipeline")
			conn.Close()
			return
		}

		go client.writePump()
		go client.pumpUpdates()
		go client.readPump()

		deps.Log.WithField("user_id", userID).Info("feed stream opened")
	}
}

// pumpUpdates forwards aggregator emissions to the client
func (c *feedClient) pumpUpdates() {
	for update := range c.agg.Updates() {
		payload, err := json.Marshal(map[string]interface{}{
			"type":    "feed",
			"state":   update.State,
			"pending": update.Pending,
			"caption": update.Caption,
			"posts":   update.Posts,
		})
		if err != nil {
			c.log.WithError(err).Warn("failed to marshal feed update")
			continue
		}
		select {
		case c.send <- payload:
		case <-c.done:
			return
		}
	}
	c.closeConnection()
}

// readPump pumps messages from the WebSocket connection into the pipeline
func (c *feedClient) readPump() {
	config := DefaultWebSocketConfig()

	defer func() {
		c.closeConnection()
	}()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error")
			}
			break
		}

		c.processIncomingMessage(message)
	}
}

// writePump pumps messages from the pipeline to the WebSocket connection
func (c *feedClient) writePump() {
	config := DefaultWebSocketConfig()
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// processIncomingMessage processes an incoming WebSocket message
func (c *feedClient) processIncomingMessage(message []byte) {
	var msg struct {
		Type      string   `json:"type"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Radius    *float64 `json:"radius"`
		Granted   *bool    `json:"granted"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.WithError(err).Warn("failed to parse WebSocket message")
		return
	}

	switch msg.Type {
	case "location":
		if msg.Latitude == nil || msg.Longitude == nil {
			c.sendError("Missing coordinate")
			return
		}
		c.source.Offer(geo.Coordinate{Latitude: *msg.Latitude, Longitude: *msg.Longitude})

	case "radius":
		if msg.Radius == nil {
			c.sendError("Missing radius")
			return
		}
		if err := c.agg.UpdateRadius(*msg.Radius); err != nil {
			c.sendError(err.Error())
		}

	case "permission":
		if msg.Granted == nil {
			c.sendError("Missing granted flag")
			return
		}
		if *msg.Granted {
			c.source.Allow()
			c.refresh()
		} else {
			c.source.Deny()
		}

	case "refresh":
		c.refresh()

	default:
		c.log.WithField("type", msg.Type).Warn("unknown message type")
	}
}

// refresh re-arms the observer watch, e.g. when the app returns to the
// foreground.
func (c *feedClient) refresh() {
	type refresher interface {
		Refresh() error
	}
	if r, ok := c.agg.(refresher); ok {
		if err := r.Refresh(); err != nil {
			c.sendError(err.Error())
		}
	}
}

// sendError delivers an error frame to the client
func (c *feedClient) sendError(message string) {
	payload, _ := json.Marshal(map[string]string{"type": "error", "error": message})
	select {
	case c.send <- payload:
	default:
	}
}

// closeConnection tears down the pipeline and the connection
func (c *feedClient) closeConnection() {
	c.once.Do(func() {
		close(c.done)
		c.agg.Stop()
		c.conn.Close()

		c.log.WithField("user_id", c.userID).Info("feed stream closed")
	})
}
