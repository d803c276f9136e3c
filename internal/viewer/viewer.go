// Package viewer serves the local HTTP surface: the JSON API, the websocket
// feed, logs and metrics.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/forum"
	"github.com/petervdpas/goopforum/internal/identity"
	"github.com/petervdpas/goopforum/internal/storage"
	"github.com/petervdpas/goopforum/internal/util"
	"github.com/petervdpas/goopforum/internal/viewer/routes"
)

type Viewer struct {
	Forum *forum.Service
	Hub   *broadcast.Hub
	Self  identity.Instance
	User  storage.User // local account every request acts as
	Bus   string
	Logs  *LogBuffer // optional
	Log   zerolog.Logger
}

// Handler builds the router.
func Handler(v Viewer) http.Handler {
	log := v.Log.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(noCache)
		routes.Register(r, routes.Deps{
			Forum: v.Forum,
			Hub:   v.Hub,
			Self:  v.Self,
			User:  v.User,
			Bus:   v.Bus,
			Log:   v.Log,
		})
		if v.Logs != nil {
			r.Get("/api/logs", v.Logs.ServeLogsJSON)
			r.Get("/api/logs/stream", v.Logs.ServeLogsSSE)
		}
	})

	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return ServeListener(ctx, ln, h, log)
}

func ServeListener(ctx context.Context, ln net.Listener, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("http listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), util.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
