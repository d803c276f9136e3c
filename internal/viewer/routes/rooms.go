package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/petervdpas/goopforum/internal/storage"
)

const defaultHistory = 100

func registerRooms(r chi.Router, d Deps) {
	// GET /api/rooms         rooms the local user belongs to
	// GET /api/rooms?all=1   every room known here
	r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		var (
			rooms []storage.Room
			err   error
		)
		if r.URL.Query().Get("all") != "" {
			rooms, err = d.Forum.ListRooms(r.Context())
		} else {
			rooms, err = d.Forum.RoomsForUser(r.Context(), d.User.ID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]roomView, 0, len(rooms))
		for _, room := range rooms {
			out = append(out, viewRoom(room, nil))
		}
		writeJSON(w, out)
	})

	// POST /api/rooms {name, description, members: [user ids]}
	r.Post("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Members     []string `json:"members"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		room, err := d.Forum.CreateRoom(r.Context(), d.User, req.Name, req.Description, req.Members)
		if err != nil {
			writeError(w, err)
			return
		}
		members, err := d.Forum.Members(r.Context(), room.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, viewRoom(room, members))
	})

	r.Get("/api/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		room, err := d.Forum.GetRoom(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		members, err := d.Forum.Members(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, viewRoom(room, members))
	})

	// POST /api/rooms/{id}/invite {members: [user ids]}
	r.Post("/api/rooms/{id}/invite", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Members []string `json:"members"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		if err := d.Forum.InviteMembers(r.Context(), d.User, chi.URLParam(r, "id"), req.Members); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Delete("/api/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Forum.DeleteRoom(r.Context(), d.User, chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// GET /api/rooms/{id}/messages?limit=N
	r.Get("/api/rooms/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		msgs, err := d.Forum.History(r.Context(), d.User, chi.URLParam(r, "id"), queryInt(r, "limit", defaultHistory))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, msgs)
	})

	// POST /api/rooms/{id}/messages {content}
	r.Post("/api/rooms/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		msg, err := d.Forum.SendChat(r.Context(), d.User, chi.URLParam(r, "id"), req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, msg)
	})
}
