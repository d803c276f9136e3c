package app

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/identity"
)

// NormalizeLocalViewer keeps the viewer bound to localhost and returns the
// listen address and the browser URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}
	return a, "http://" + a
}

func logBanner(log zerolog.Logger, dir, cfgPath string, self identity.Instance) {
	log.Info().
		Str("dir", dir).
		Str("config", cfgPath).
		Str("instance", self.ID).
		Str("name", self.DisplayName).
		Msg("goopforum instance starting")
}
