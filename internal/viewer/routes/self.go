package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func registerSelf(r chi.Router, d Deps) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Get("/api/self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"instance_id":  d.Self.ID,
			"display_name": d.Self.DisplayName,
			"bus":          d.Bus,
			"user":         viewUser(d.User),
		})
	})
}

func registerUsers(r chi.Router, d Deps) {
	r.Get("/api/users", func(w http.ResponseWriter, r *http.Request) {
		users, err := d.Forum.ListUsers(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]userView, 0, len(users))
		for _, u := range users {
			out = append(out, viewUser(u))
		}
		writeJSON(w, out)
	})

	r.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, err := d.Forum.GetUser(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, viewUser(u))
	})

	r.Delete("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Forum.DeleteLocalUser(r.Context(), d.User, chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
