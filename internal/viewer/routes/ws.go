package routes

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsOutBuffer  = 64
	wsRecentSize = 20
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local clients only; the listener is bound by config.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frames sent by the client:
//
//	{"type":"join","room":"<room id>"}    room "" or "forum" joins the post feed
//	{"type":"leave","room":"<room id>"}
//	{"type":"message","room":"<room id>","content":"hello"}
type clientFrame struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Content string `json:"content,omitempty"`
}

// Frames sent by the server: "event" carries a hub event, "error" a
// rejected client frame.
type serverFrame struct {
	Type  string           `json:"type"`
	Room  string           `json:"room,omitempty"`
	Event *broadcast.Event `json:"event,omitempty"`
	Error string           `json:"error,omitempty"`
}

func registerWS(r chi.Router, d Deps) {
	log := d.Log.With().Str("component", "ws").Logger()

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		metrics.WebsocketClients.Inc()
		defer metrics.WebsocketClients.Dec()

		c := &wsClient{
			conn: conn,
			d:    d,
			log:  log,
			out:  make(chan serverFrame, wsOutBuffer),
			subs: make(map[string]func()),
		}
		c.serve(r.Context())
	})
}

// wsClient is one websocket connection. Only writeLoop writes to conn.
type wsClient struct {
	conn *websocket.Conn
	d    Deps
	log  zerolog.Logger
	out  chan serverFrame

	mu   sync.Mutex
	subs map[string]func() // scope -> cancel
	wg   sync.WaitGroup
}

func (c *wsClient) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer c.conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writeLoop(ctx)
		// Unblocks the read loop on shutdown or write failure.
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxBody)
	for {
		var f clientFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			break
		}
		c.handle(ctx, f)
	}

	cancel()
	c.leaveAll()
	c.wg.Wait()
	<-done
}

func (c *wsClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) send(ctx context.Context, f serverFrame) {
	select {
	case c.out <- f:
	case <-ctx.Done():
	}
}

func (c *wsClient) fail(ctx context.Context, room, msg string) {
	c.send(ctx, serverFrame{Type: "error", Room: room, Error: msg})
}

func (c *wsClient) handle(ctx context.Context, f clientFrame) {
	switch f.Type {
	case "join":
		c.join(ctx, scopeOf(f.Room))
	case "leave":
		c.leave(scopeOf(f.Room))
	case "message":
		if _, err := c.d.Forum.SendChat(ctx, c.d.User, f.Room, f.Content); err != nil {
			c.fail(ctx, f.Room, err.Error())
		}
	default:
		c.fail(ctx, f.Room, "unknown frame type "+f.Type)
	}
}

func (c *wsClient) join(ctx context.Context, scope string) {
	if scope != broadcast.ForumScope {
		if _, err := c.d.Forum.RequireMember(ctx, c.d.User, scope); err != nil {
			c.fail(ctx, scope, err.Error())
			return
		}
	}

	c.mu.Lock()
	if _, ok := c.subs[scope]; ok {
		c.mu.Unlock()
		return
	}
	recent := c.d.Hub.Recent(scope, wsRecentSize)
	ch, cancel := c.d.Hub.Subscribe(scope)
	c.subs[scope] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	for i := range recent {
		c.send(ctx, serverFrame{Type: "event", Room: scope, Event: &recent[i]})
	}
	go func() {
		defer c.wg.Done()
		for ev := range ch {
			c.send(ctx, serverFrame{Type: "event", Room: scope, Event: &ev})
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.d.Hub.Joined(scope, c.d.User.Username)
	c.log.Debug().Str("scope", scope).Msg("client joined")
}

func (c *wsClient) leave(scope string) {
	c.mu.Lock()
	cancel, ok := c.subs[scope]
	delete(c.subs, scope)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *wsClient) leaveAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]func())
	c.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

func scopeOf(room string) string {
	if room == "" {
		return broadcast.ForumScope
	}
	return room
}
