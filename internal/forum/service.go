// Package forum implements the request path: actions taken by users of
// this instance. Every mutation is validated, committed in one
// transaction, broadcast to local clients and then published to siblings.
package forum

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/identity"
	"github.com/petervdpas/goopforum/internal/roomcrypto"
	"github.com/petervdpas/goopforum/internal/storage"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotMember    = errors.New("not a member of this room")
	ErrNotOwner     = errors.New("only the room owner may do this")
	ErrForbidden    = errors.New("not allowed")
)

const (
	MaxTitleLen       = 100
	MaxPostLen        = 10000
	MaxRoomNameLen    = 100
	MaxDescriptionLen = 500
)

// Publisher sends events to sibling instances.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) error
}

// Hub delivers events to clients of this instance.
type Hub interface {
	Broadcast(scope string, ev broadcast.Event) int
	Drop(scope string)
}

// Deps are the collaborators of a Service. Sealer may be nil.
type Deps struct {
	DB     *storage.DB
	Hub    Hub
	Pub    Publisher
	Keys   *roomcrypto.KeyManager
	Sealer *roomcrypto.Sealer
	Self   identity.Instance
	Log    zerolog.Logger
}

type Service struct {
	db     *storage.DB
	hub    Hub
	pub    Publisher
	keys   *roomcrypto.KeyManager
	sealer *roomcrypto.Sealer
	self   identity.Instance
	log    zerolog.Logger
}

func New(d Deps) *Service {
	keys := d.Keys
	if keys == nil {
		keys = roomcrypto.NewKeyManager(roomcrypto.MinKeyBits)
	}
	return &Service{
		db:     d.DB,
		hub:    d.Hub,
		pub:    d.Pub,
		keys:   keys,
		sealer: d.Sealer,
		self:   d.Self,
		log:    d.Log.With().Str("component", "forum").Logger(),
	}
}

// publish sends after commit. A failure leaves local state as committed;
// the publisher has already logged and counted it.
func (s *Service) publish(ctx context.Context, kind string, payload any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, kind, payload); err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("event kept locally, siblings not notified")
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
