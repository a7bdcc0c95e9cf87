package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rebus-chat/rebus/services/gateway/history"
	"github.com/rebus-chat/rebus/services/gateway/observability"
)

// feedBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this starts losing frames; pollers catch
// up through /api/messages anyway.
const feedBuffer = 32

// Feed fans appended chat messages out to websocket subscribers.
// Publish never blocks: slow subscribers drop frames instead of
// stalling the HTTP handler that produced the message.
type Feed struct {
	mu   sync.Mutex
	subs map[chan history.Message]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[chan history.Message]struct{})}
}

// Publish delivers msg to every current subscriber.
func (f *Feed) Publish(msg history.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full, drop the frame.
		}
	}
}

// Subscribers reports the number of connected websocket clients.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) subscribe() chan history.Message {
	ch := make(chan history.Message, feedBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *Feed) unsubscribe(ch chan history.Message) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// feedPingPeriod keeps idle connections alive through proxies that
// reap quiet sockets.
const feedPingPeriod = 30 * time.Second

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write websocket JSON", "error", err)
	}
	return err
}

// ChatFeed upgrades the request to a websocket and streams every chat
// message appended after the moment of connect. The socket is
// push-only; inbound frames are read solely to detect disconnects.
func ChatFeed(feed *Feed) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Websocket client connected", "remote", ws.RemoteAddr().String())

		if m := observability.DefaultMetrics; m != nil {
			m.WebsocketConnected()
			defer m.WebsocketDisconnected()
		}

		// Subscribe before the hello frame so a client that has read
		// the hello never misses a message published right after it.
		ch := feed.subscribe()
		defer feed.unsubscribe(ch)

		if err := sendJSON(ws, map[string]interface{}{
			"action":     "connected",
			"serverTime": time.Now().UnixMilli(),
		}); err != nil {
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(feedPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-done:
				slog.Info("Websocket client disconnected")
				return
			case msg := <-ch:
				if err := sendJSON(ws, msg); err != nil {
					return
				}
			case <-ping.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}
}
