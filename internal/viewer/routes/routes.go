// Package routes holds the JSON and websocket handlers of the local HTTP
// surface. Every request acts as the instance's configured local user.
package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/forum"
	"github.com/petervdpas/goopforum/internal/identity"
	"github.com/petervdpas/goopforum/internal/proto"
	"github.com/petervdpas/goopforum/internal/storage"
)

type Deps struct {
	Forum *forum.Service
	Hub   *broadcast.Hub
	Self  identity.Instance
	User  storage.User // local account
	Bus   string       // transport driver name, shown by /api/self
	Log   zerolog.Logger
}

// Register mounts every API route on r.
func Register(r chi.Router, d Deps) {
	registerSelf(r, d)
	registerPosts(r, d)
	registerUsers(r, d)
	registerRooms(r, d)
	registerWS(r, d)
}

type userView struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar"`
	CreatedAt string `json:"created_at"`
	Origin    string `json:"origin"`
	Local     bool   `json:"local"`
}

func viewUser(u storage.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Avatar:    u.Avatar,
		CreatedAt: stamp(u.CreatedAt),
		Origin:    u.Origin,
		Local:     u.Local,
	}
}

type roomView struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	OwnerID     string       `json:"owner_id"`
	OwnerName   string       `json:"owner_name"`
	Origin      string       `json:"origin"`
	CreatedAt   string       `json:"created_at"`
	CanDecrypt  bool         `json:"can_decrypt"`
	Members     []memberView `json:"members,omitempty"`
}

type memberView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func viewRoom(r storage.Room, members []storage.Member) roomView {
	v := roomView{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		OwnerID:     r.OwnerID,
		OwnerName:   r.OwnerName,
		Origin:      r.Origin,
		CreatedAt:   stamp(r.CreatedAt),
		CanDecrypt:  r.PrivateKey != "",
	}
	for _, m := range members {
		v.Members = append(v.Members, memberView{ID: m.ID, Username: m.Username})
	}
	return v
}

func stamp(t time.Time) string {
	return proto.FormatTime(t)
}
