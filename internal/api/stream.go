package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/websocket"

	"github.com/dpup/convoy-nav/server/internal/lib/camera"
	"github.com/dpup/convoy-nav/server/internal/lib/geo"
	"github.com/dpup/convoy-nav/server/internal/lib/navigation"
	"github.com/dpup/convoy-nav/server/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	streamBuffer   = 64
)

// Message is a frame sent to stream clients. Type is one of snapshot,
// event, camera or error.
type Message struct {
	Type     string             `json:"type"`
	Event    *navigation.Event  `json:"event,omitempty"`
	Camera   *camera.Proposal   `json:"camera,omitempty"`
	Snapshot *services.Snapshot `json:"snapshot,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ClientMessage is a frame received from stream clients. Type is one of
// position, follow or recenter.
type ClientMessage struct {
	Type      string              `json:"type"`
	Sample    *geo.PositionSample `json:"sample,omitempty"`
	Following *bool               `json:"following,omitempty"`
}

// broadcaster fans guidance output out to every stream attached to a session.
// Slow streams drop frames rather than stall guidance.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Message]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Message]struct{})}
}

// OnEvent implements services.Listener
func (b *broadcaster) OnEvent(event navigation.Event) {
	b.publish(Message{Type: "event", Event: &event})
}

// OnCamera implements services.Listener
func (b *broadcaster) OnCamera(proposal camera.Proposal) {
	b.publish(Message{Type: "camera", Camera: &proposal})
}

func (b *broadcaster) publish(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

func (b *broadcaster) subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, streamBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// Close ends every attached stream
func (b *broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = map[chan Message]struct{}{}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, entry *services.Entry) {
	hub, ok := entry.Listener.(*broadcaster)
	if !ok {
		writeError(w, http.StatusConflict, errors.New("session does not support streaming"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw(r.Context(), "API: websocket upgrade failed", "session_id", entry.ID, "error", err)
		return
	}
	defer conn.Close()

	messages, unsubscribe := hub.subscribe()
	defer unsubscribe()

	replies := make(chan Message, 8)
	done := make(chan struct{})
	go readStream(conn, entry, replies, done)

	snapshot := entry.Service.Snapshot()
	if err := writeFrame(conn, Message{Type: "snapshot", Snapshot: &snapshot}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var frame Message
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case m, ok := <-messages:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
					time.Now().Add(writeWait))
				return
			}
			frame = m
		case m := <-replies:
			frame = m
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		}

		if err := writeFrame(conn, frame); err != nil {
			logging.Debugw(r.Context(), "API: stream write failed", "session_id", entry.ID, "error", err)
			return
		}
	}
}

// readStream applies client frames until the connection fails. Replies go
// through the writer since a websocket allows one concurrent writer.
func readStream(conn *websocket.Conn, entry *services.Entry, replies chan<- Message, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := applyClientMessage(entry, msg); err != nil {
			select {
			case replies <- Message{Type: "error", Error: err.Error()}:
			default:
			}
		}
	}
}

func applyClientMessage(entry *services.Entry, msg ClientMessage) error {
	switch msg.Type {
	case "position":
		if msg.Sample == nil {
			return errors.New("position frame requires a sample")
		}
		return pushSamples(entry, []geo.PositionSample{*msg.Sample})
	case "follow":
		if msg.Following == nil {
			return errors.New("follow frame requires following")
		}
		entry.Service.SetFollowing(*msg.Following)
	case "recenter":
		entry.Service.RecenterNow()
	default:
		return fmt.Errorf("unknown frame type %q", msg.Type)
	}
	return nil
}

func writeFrame(conn *websocket.Conn, m Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}
