package routes

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"

	"github.com/petervdpas/goopforum/internal/storage"
)

// Raw HTML in post bodies is escaped: the renderer runs without WithUnsafe.
var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(highlighting.WithStyle("github")),
	),
)

type postView struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	HTML       string `json:"html"`
	DatePosted string `json:"date_posted"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Origin     string `json:"origin"`
}

func viewPost(p storage.Post) postView {
	return postView{
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Content,
		HTML:       renderMarkdown(p.Content),
		DatePosted: stamp(p.DatePosted),
		UserID:     p.UserID,
		Username:   p.Username,
		Origin:     p.Origin,
	}
}

func renderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func registerPosts(r chi.Router, d Deps) {
	// GET /api/posts?limit=N&user=<id>
	r.Get("/api/posts", func(w http.ResponseWriter, r *http.Request) {
		var (
			posts []storage.Post
			err   error
		)
		if uid := strings.TrimSpace(r.URL.Query().Get("user")); uid != "" {
			posts, err = d.Forum.PostsByUser(r.Context(), uid)
		} else {
			posts, err = d.Forum.ListPosts(r.Context(), queryInt(r, "limit", 0))
		}
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]postView, 0, len(posts))
		for _, p := range posts {
			out = append(out, viewPost(p))
		}
		writeJSON(w, out)
	})

	// POST /api/posts {title, content}
	r.Post("/api/posts", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if decodeJSON(w, r, &req) != nil {
			return
		}
		p, err := d.Forum.CreatePost(r.Context(), d.User, req.Title, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		p.Username = d.User.Username
		writeJSONStatus(w, http.StatusCreated, viewPost(p))
	})
}
