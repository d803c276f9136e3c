package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/petervdpas/goopforum/internal/forum"
	"github.com/petervdpas/goopforum/internal/storage"
)

// maxBody caps JSON request bodies. Chat text is bounded far below this by
// the room key size.
const maxBody = 64 * 1024

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v. On failure it has already
// written a 400 response.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return err
	}
	return nil
}

// statusOf maps service and storage errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, forum.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, forum.ErrNotMember), errors.Is(err, forum.ErrNotOwner),
		errors.Is(err, forum.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONStatus(w, statusOf(err), map[string]string{"error": err.Error()})
}

// queryInt returns the integer query parameter key, or def when it is
// missing or not a non-negative number.
func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
