package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/bus"
	"github.com/petervdpas/goopforum/internal/forum"
	"github.com/petervdpas/goopforum/internal/identity"
	"github.com/petervdpas/goopforum/internal/storage"
)

type testServer struct {
	srv   *httptest.Server
	db    *storage.DB
	svc   *forum.Service
	hub   *broadcast.Hub
	local storage.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	self := identity.New("test")
	tr := bus.NewMemoryHub().Connect()
	t.Cleanup(func() { tr.Close() })

	hub := broadcast.NewHub(20, zerolog.Nop())
	svc := forum.New(forum.Deps{
		DB:   db,
		Hub:  hub,
		Pub:  bus.NewPublisher(tr, self.ID, time.Second, zerolog.Nop()),
		Self: self,
		Log:  zerolog.Nop(),
	})
	local, err := svc.EnsureLocalUser(context.Background(), "alice", "alice@example.com", "pw")
	if err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	Register(r, Deps{Forum: svc, Hub: hub, Self: self, User: local, Bus: "memory", Log: zerolog.Nop()})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, db: db, svc: svc, hub: hub, local: local}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndSelf(t *testing.T) {
	s := newTestServer(t)

	if code := s.do(t, http.MethodGet, "/healthz", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}

	var self struct {
		InstanceID string   `json:"instance_id"`
		Bus        string   `json:"bus"`
		User       userView `json:"user"`
	}
	if code := s.do(t, http.MethodGet, "/api/self", nil, &self); code != http.StatusOK {
		t.Fatalf("self = %d", code)
	}
	if self.InstanceID == "" || self.Bus != "memory" || self.User.Username != "alice" || !self.User.Local {
		t.Fatalf("self = %+v", self)
	}
}

func TestPosts(t *testing.T) {
	s := newTestServer(t)

	var created postView
	code := s.do(t, http.MethodPost, "/api/posts", map[string]string{
		"title":   "Hello",
		"content": "**bold** <script>alert(1)</script>",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	if created.ID == 0 || created.Username != "alice" {
		t.Fatalf("created = %+v", created)
	}

	var list []postView
	if code := s.do(t, http.MethodGet, "/api/posts", nil, &list); code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	if len(list) != 1 {
		t.Fatalf("posts = %d", len(list))
	}
	if !strings.Contains(list[0].HTML, "<strong>bold</strong>") {
		t.Fatalf("html = %q", list[0].HTML)
	}
	if strings.Contains(list[0].HTML, "<script>") {
		t.Fatalf("raw html not escaped: %q", list[0].HTML)
	}

	var mine []postView
	s.do(t, http.MethodGet, "/api/posts?user="+s.local.ID, nil, &mine)
	if len(mine) != 1 {
		t.Fatalf("posts by user = %d", len(mine))
	}

	t.Run("duplicate", func(t *testing.T) {
		code := s.do(t, http.MethodPost, "/api/posts", map[string]string{
			"title":   "Hello",
			"content": "**bold** <script>alert(1)</script>",
		}, nil)
		if code != http.StatusConflict {
			t.Fatalf("duplicate = %d", code)
		}
	})
	t.Run("empty title", func(t *testing.T) {
		code := s.do(t, http.MethodPost, "/api/posts", map[string]string{"title": " ", "content": "x"}, nil)
		if code != http.StatusBadRequest {
			t.Fatalf("empty title = %d", code)
		}
	})
	t.Run("bad json", func(t *testing.T) {
		resp, err := http.Post(s.srv.URL+"/api/posts", "application/json", strings.NewReader("{"))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("bad json = %d", resp.StatusCode)
		}
	})
}

func TestRoomLifecycle(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	bob, err := s.svc.EnsureLocalUser(ctx, "bob", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if code := s.do(t, http.MethodPost, "/api/rooms", map[string]any{
		"name": "general", "members": []string{"ghost"},
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown member = %d", code)
	}

	var room roomView
	code := s.do(t, http.MethodPost, "/api/rooms", map[string]any{
		"name": "general", "description": "chatter",
	}, &room)
	if code != http.StatusCreated {
		t.Fatalf("create room = %d", code)
	}
	if room.ID == "" || room.OwnerID != s.local.ID || !room.CanDecrypt || len(room.Members) != 1 {
		t.Fatalf("room = %+v", room)
	}

	var rooms []roomView
	s.do(t, http.MethodGet, "/api/rooms", nil, &rooms)
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Fatalf("rooms = %+v", rooms)
	}

	base := "/api/rooms/" + room.ID
	if code := s.do(t, http.MethodPost, base+"/invite", map[string]any{"members": []string{bob.ID}}, nil); code != http.StatusOK {
		t.Fatalf("invite = %d", code)
	}
	var detail roomView
	s.do(t, http.MethodGet, base, nil, &detail)
	if len(detail.Members) != 2 {
		t.Fatalf("members = %+v", detail.Members)
	}

	var msg forum.Message
	if code := s.do(t, http.MethodPost, base+"/messages", map[string]string{"content": "hi all"}, &msg); code != http.StatusCreated {
		t.Fatalf("send = %d", code)
	}
	if msg.Content != "hi all" || msg.Username != "alice" {
		t.Fatalf("msg = %+v", msg)
	}

	var history []forum.Message
	if code := s.do(t, http.MethodGet, base+"/messages?limit=10", nil, &history); code != http.StatusOK {
		t.Fatalf("history = %d", code)
	}
	if len(history) != 1 || history[0].Content != "hi all" {
		t.Fatalf("history = %+v", history)
	}

	if code := s.do(t, http.MethodPost, base+"/messages", map[string]string{"content": "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty message = %d", code)
	}

	if code := s.do(t, http.MethodDelete, "/api/rooms/nope", nil, nil); code != http.StatusNotFound {
		t.Fatalf("delete unknown = %d", code)
	}
	if code := s.do(t, http.MethodDelete, base, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if code := s.do(t, http.MethodGet, base+"/messages", nil, nil); code != http.StatusNotFound {
		t.Fatalf("history after delete = %d", code)
	}
}

func TestForeignRoomForbidden(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	bob, err := s.svc.EnsureLocalUser(ctx, "bob", "", "")
	if err != nil {
		t.Fatal(err)
	}
	private, err := s.svc.CreateRoom(ctx, bob, "bobs", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := s.svc.CreateRoom(ctx, bob, "shared", "", []string{s.local.ID})
	if err != nil {
		t.Fatal(err)
	}

	if code := s.do(t, http.MethodGet, "/api/rooms/"+private.ID+"/messages", nil, nil); code != http.StatusForbidden {
		t.Fatalf("non-member history = %d", code)
	}
	if code := s.do(t, http.MethodPost, "/api/rooms/"+private.ID+"/messages", map[string]string{"content": "x"}, nil); code != http.StatusForbidden {
		t.Fatalf("non-member send = %d", code)
	}
	if code := s.do(t, http.MethodDelete, "/api/rooms/"+shared.ID, nil, nil); code != http.StatusForbidden {
		t.Fatalf("non-owner delete = %d", code)
	}
	if code := s.do(t, http.MethodPost, "/api/rooms/"+shared.ID+"/invite", map[string]any{"members": []string{bob.ID}}, nil); code != http.StatusForbidden {
		t.Fatalf("non-owner invite = %d", code)
	}

	var all, mine []roomView
	s.do(t, http.MethodGet, "/api/rooms?all=1", nil, &all)
	s.do(t, http.MethodGet, "/api/rooms", nil, &mine)
	if len(all) != 2 || len(mine) != 1 || mine[0].ID != shared.ID {
		t.Fatalf("all = %d, mine = %+v", len(all), mine)
	}

	var users []userView
	s.do(t, http.MethodGet, "/api/users", nil, &users)
	if len(users) != 2 {
		t.Fatalf("users = %+v", users)
	}
	if code := s.do(t, http.MethodGet, "/api/users/"+bob.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("get user = %d", code)
	}
	if code := s.do(t, http.MethodGet, "/api/users/nobody", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown user = %d", code)
	}
}

func TestDeleteUser(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	bob, err := s.svc.EnsureLocalUser(ctx, "bob", "", "")
	if err != nil {
		t.Fatal(err)
	}
	err = s.db.Update(ctx, func(tx *storage.Tx) error {
		return tx.EnsureUser(ctx, "remote-1", "rita", "instance-x")
	})
	if err != nil {
		t.Fatal(err)
	}

	if code := s.do(t, http.MethodDelete, "/api/users/"+s.local.ID, nil, nil); code != http.StatusForbidden {
		t.Fatalf("delete self = %d", code)
	}
	if code := s.do(t, http.MethodDelete, "/api/users/remote-1", nil, nil); code != http.StatusForbidden {
		t.Fatalf("delete replicated user = %d", code)
	}
	if code := s.do(t, http.MethodDelete, "/api/users/nobody", nil, nil); code != http.StatusNotFound {
		t.Fatalf("delete unknown user = %d", code)
	}
	if code := s.do(t, http.MethodDelete, "/api/users/"+bob.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete local user = %d", code)
	}
	if code := s.do(t, http.MethodGet, "/api/users/"+bob.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("deleted user still served = %d", code)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f serverFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWebsocketChat(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	room, err := s.svc.CreateRoom(ctx, s.local, "live", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(clientFrame{Type: "join", Room: "not-a-room"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != "error" {
		t.Fatalf("join unknown room = %+v", f)
	}

	if err := conn.WriteJSON(clientFrame{Type: "join", Room: room.ID}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f.Type != "event" || f.Event.Kind != broadcast.KindSystem || f.Event.Message != "alice joined" {
		t.Fatalf("join frame = %+v", f)
	}

	if err := conn.WriteJSON(clientFrame{Type: "message", Room: room.ID, Content: "over the wire"}); err != nil {
		t.Fatal(err)
	}
	f = readFrame(t, conn)
	if f.Type != "event" || f.Event.Kind != broadcast.KindChat || f.Event.Message != "over the wire" || f.Event.User != "alice" {
		t.Fatalf("chat frame = %+v", f)
	}

	if err := conn.WriteJSON(clientFrame{Type: "shout"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, conn); f.Type != "error" {
		t.Fatalf("unknown frame = %+v", f)
	}

	if err := conn.WriteJSON(clientFrame{Type: "leave", Room: room.ID}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Subscribers(room.ID) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after leave")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		forum.ErrInvalidInput: http.StatusBadRequest,
		forum.ErrNotMember:    http.StatusForbidden,
		forum.ErrNotOwner:     http.StatusForbidden,
		forum.ErrForbidden:    http.StatusForbidden,
		storage.ErrNotFound:   http.StatusNotFound,
		storage.ErrDuplicate:  http.StatusConflict,
		context.Canceled:      http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusOf(err); got != want {
			t.Errorf("statusOf(%v) = %d, want %d", err, got, want)
		}
	}
}
