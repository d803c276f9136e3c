package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/petervdpas/goopforum/internal/bus"
	"github.com/petervdpas/goopforum/internal/config"
	"github.com/petervdpas/goopforum/internal/roomcrypto"
)

func TestNormalizeLocalViewer(t *testing.T) {
	cases := map[string]string{
		":8080":         "127.0.0.1:8080",
		"0.0.0.0:9000":  "127.0.0.1:9000",
		"10.0.0.5:8080": "10.0.0.5:8080",
	}
	for in, want := range cases {
		addr, url := NormalizeLocalViewer(in)
		if addr != want || url != "http://"+want {
			t.Errorf("NormalizeLocalViewer(%q) = %q, %q", in, addr, url)
		}
	}
}

func TestInitCreatesConfigWithIdentity(t *testing.T) {
	dir := t.TempDir() + "/instance"

	path, cfg, err := Init(InitOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(cfg.Crypto.DeploymentIdentity, "AGE-SECRET-KEY-1") {
		t.Fatalf("identity = %q", cfg.Crypto.DeploymentIdentity)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	_, again, err := Init(InitOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if again.Crypto.DeploymentIdentity != cfg.Crypto.DeploymentIdentity {
		t.Fatal("second init must keep the existing identity")
	}

	shared, err := roomcrypto.GenerateDeploymentIdentity()
	if err != nil {
		t.Fatal(err)
	}
	_, sibling, err := Init(InitOptions{Dir: t.TempDir(), Identity: shared})
	if err != nil {
		t.Fatal(err)
	}
	if sibling.Crypto.DeploymentIdentity != shared {
		t.Fatal("given identity not stored")
	}
}

func TestInitPrompt(t *testing.T) {
	in := strings.NewReader("node-b\nbob\nbob@example.com\n\nmemory\n")
	var out bytes.Buffer

	path, cfg, err := Init(InitOptions{Dir: t.TempDir(), Prompt: true, In: in, Out: &out})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Instance.Name != "node-b" || cfg.Profile.Username != "bob" || cfg.Bus.Driver != config.DriverMemory {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Viewer.HTTPAddr != config.Default().Viewer.HTTPAddr {
		t.Fatalf("empty answer should keep default, got %q", cfg.Viewer.HTTPAddr)
	}
	saved, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Profile.Username != "bob" {
		t.Fatalf("saved username = %q", saved.Profile.Username)
	}

	bad := strings.NewReader("x\nhas space\n")
	kept := PromptInteractive(bad, io.Discard, "d", "p", cfg)
	if kept.Profile.Username != "bob" {
		t.Fatalf("invalid answers should keep previous config, got %q", kept.Profile.Username)
	}
}

// ── two instances over one memory bus

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

type instance struct {
	base string
	done chan error
}

func startInstance(t *testing.T, ctx context.Context, hub *bus.MemoryHub, user, identity string) *instance {
	t.Helper()
	cfg := config.Default()
	cfg.Instance.Name = user + "-node"
	cfg.Profile.Username = user
	cfg.Bus.Driver = config.DriverMemory
	cfg.Crypto.DeploymentIdentity = identity
	cfg.Viewer.HTTPAddr = freeAddr(t)
	cfg.Log.Level = "error"

	inst := &instance{base: "http://" + cfg.Viewer.HTTPAddr, done: make(chan error, 1)}
	go func() {
		inst.done <- Run(ctx, Options{Dir: t.TempDir(), Cfg: cfg, Memory: hub, LogOutput: io.Discard})
	}()

	eventually(t, 10*time.Second, func() bool {
		resp, err := http.Get(inst.base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
	return inst
}

func (i *instance) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(i.base + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func (i *instance) post(t *testing.T, path string, body, out any) int {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(i.base+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTwoInstancesShareForum(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two full instances")
	}
	identity, err := roomcrypto.GenerateDeploymentIdentity()
	if err != nil {
		t.Fatal(err)
	}
	hub := bus.NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	x := startInstance(t, ctx, hub, "alice", identity)
	y := startInstance(t, ctx, hub, "bob", identity)

	var bobSelf struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	y.get(t, "/api/self", &bobSelf)
	bobID := bobSelf.User.ID

	// bob's user event reaches x as a shadow row.
	eventually(t, 5*time.Second, func() bool {
		var users []struct {
			ID    string `json:"id"`
			Local bool   `json:"local"`
		}
		x.get(t, "/api/users", &users)
		for _, u := range users {
			if u.ID == bobID && !u.Local {
				return true
			}
		}
		return false
	})

	// Posts replicate in plaintext.
	if code := x.post(t, "/api/posts", map[string]string{"title": "Welcome", "content": "first post"}, nil); code != http.StatusCreated {
		t.Fatalf("post = %d", code)
	}
	eventually(t, 5*time.Second, func() bool {
		var posts []struct {
			Title    string `json:"title"`
			Username string `json:"username"`
		}
		y.get(t, "/api/posts", &posts)
		return len(posts) == 1 && posts[0].Title == "Welcome" && posts[0].Username == "alice"
	})

	// x creates a room with bob; y receives it with a usable key.
	var room struct {
		ID string `json:"id"`
	}
	if code := x.post(t, "/api/rooms", map[string]any{"name": "pair", "members": []string{bobID}}, &room); code != http.StatusCreated {
		t.Fatalf("create room = %d", code)
	}
	eventually(t, 5*time.Second, func() bool {
		var rooms []struct {
			ID         string `json:"id"`
			CanDecrypt bool   `json:"can_decrypt"`
		}
		y.get(t, "/api/rooms", &rooms)
		return len(rooms) == 1 && rooms[0].ID == room.ID && rooms[0].CanDecrypt
	})

	// Chat crosses the bus as ciphertext and is readable on both sides.
	if code := x.post(t, "/api/rooms/"+room.ID+"/messages", map[string]string{"content": "hello bob"}, nil); code != http.StatusCreated {
		t.Fatalf("send = %d", code)
	}
	eventually(t, 5*time.Second, func() bool {
		var msgs []struct {
			Content  string `json:"content"`
			Username string `json:"username"`
		}
		y.get(t, "/api/rooms/"+room.ID+"/messages", &msgs)
		return len(msgs) == 1 && msgs[0].Content == "hello bob" && msgs[0].Username == "alice"
	})

	if code := y.post(t, "/api/rooms/"+room.ID+"/messages", map[string]string{"content": "hi alice"}, nil); code != http.StatusCreated {
		t.Fatalf("reply = %d", code)
	}
	eventually(t, 5*time.Second, func() bool {
		var msgs []struct {
			Content string `json:"content"`
		}
		x.get(t, "/api/rooms/"+room.ID+"/messages", &msgs)
		return len(msgs) == 2 && msgs[1].Content == "hi alice"
	})

	cancel()
	for _, inst := range []*instance{x, y} {
		select {
		case err := <-inst.done:
			if err != nil {
				t.Fatalf("Run = %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("instance did not stop")
		}
	}
}
