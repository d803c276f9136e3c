// Package syncer applies events published by sibling instances to the local
// store and forwards them to local clients.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/bus"
	"github.com/petervdpas/goopforum/internal/identity"
	"github.com/petervdpas/goopforum/internal/metrics"
	"github.com/petervdpas/goopforum/internal/proto"
	"github.com/petervdpas/goopforum/internal/roomcrypto"
	"github.com/petervdpas/goopforum/internal/storage"
)

// Outcome is the result of handling one envelope.
type Outcome int

const (
	Applied Outcome = iota
	SelfEcho
	Duplicate
	RoomNotFound
	DecryptFailed
	Malformed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case SelfEcho:
		return "self_echo"
	case Duplicate:
		return "duplicate"
	case RoomNotFound:
		return "room_not_found"
	case DecryptFailed:
		return "decrypt_failed"
	case Malformed:
		return "malformed"
	default:
		return "failed"
	}
}

// Broadcaster delivers events to locally connected clients.
type Broadcaster interface {
	Broadcast(scope string, ev broadcast.Event) int
}

const receiveBackoff = time.Second

// Loop consumes the shared channel. One Loop runs per process.
type Loop struct {
	t      bus.Transport
	db     *storage.DB
	hub    Broadcaster
	self   identity.Instance
	sealer *roomcrypto.Sealer
	log    zerolog.Logger
}

// New builds a loop. sealer may be nil, in which case replicated rooms
// arrive without their private key.
func New(t bus.Transport, db *storage.DB, hub Broadcaster, self identity.Instance, sealer *roomcrypto.Sealer, log zerolog.Logger) *Loop {
	return &Loop{
		t:      t,
		db:     db,
		hub:    hub,
		self:   self,
		sealer: sealer,
		log:    log.With().Str("component", "sync").Logger(),
	}
}

// Run receives and processes envelopes until ctx is cancelled or the
// transport is closed. Individual envelope failures never stop it.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Str("instance", l.self.Short()).Msg("sync loop started")
	defer l.log.Info().Msg("sync loop stopped")

	for {
		raw, err := l.t.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			l.log.Warn().Err(err).Msg("receive failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}
		l.Process(ctx, raw)
	}
}

// Process handles one raw envelope and reports what happened to it.
func (l *Loop) Process(ctx context.Context, raw []byte) Outcome {
	kind, out, err := l.process(ctx, raw)
	metrics.SyncOutcomes.WithLabelValues(kind, out.String()).Inc()

	switch out {
	case Applied:
		l.log.Debug().Str("kind", kind).Msg("applied")
	case SelfEcho, Duplicate:
		// expected, silent
	case RoomNotFound, DecryptFailed, Malformed:
		l.log.Warn().Err(err).Str("kind", kind).Str("outcome", out.String()).Msg("envelope dropped")
	default:
		l.log.Error().Err(err).Str("kind", kind).Msg("envelope failed")
	}
	return out
}

func (l *Loop) process(ctx context.Context, raw []byte) (string, Outcome, error) {
	env, err := proto.Decode(raw)
	if err != nil {
		return "unknown", Malformed, err
	}
	origin := env.OriginOf()
	if l.self.IsSelf(origin) {
		return env.Type, SelfEcho, nil
	}

	var out Outcome
	switch env.Type {
	case proto.TypeChat:
		out, err = l.applyChat(ctx, env, origin)
	case proto.TypePost:
		out, err = l.applyPost(ctx, env, origin)
	case proto.TypeUser:
		out, err = l.applyUser(ctx, env, origin)
	case proto.TypeRoom:
		out, err = l.applyRoom(ctx, env, origin)
	default:
		return env.Type, Malformed, errors.New("unknown envelope type")
	}
	return env.Type, out, err
}

func (l *Loop) applyChat(ctx context.Context, env proto.Envelope, origin string) (Outcome, error) {
	var cd proto.ChatData
	if err := env.Payload(&cd); err != nil {
		return Malformed, err
	}
	if cd.Content == "" || cd.UserID == "" || cd.RoomID == "" {
		return Malformed, errors.New("chat envelope missing content, user or room")
	}

	room, err := l.db.GetRoom(ctx, cd.RoomID)
	if errors.Is(err, storage.ErrNotFound) {
		return RoomNotFound, err
	}
	if err != nil {
		return Failed, err
	}
	if room.PrivateKey == "" {
		return DecryptFailed, errors.New("room private key not available on this instance")
	}
	plain, err := roomcrypto.Decrypt(cd.Content, room.PrivateKey)
	if err != nil {
		return DecryptFailed, err
	}

	msg := storage.ChatMessage{
		Content:   cd.Content,
		Timestamp: proto.ParseTime(cd.Timestamp),
		UserID:    cd.UserID,
		RoomID:    room.ID,
		Origin:    origin,
	}
	seen, err := l.db.HasChatMessage(ctx, msg.Key())
	if err != nil {
		return Failed, err
	}
	if seen {
		return Duplicate, nil
	}

	err = l.db.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.EnsureUser(ctx, cd.UserID, cd.Username, origin); err != nil {
			return err
		}
		_, err := tx.InsertChatMessage(ctx, msg)
		return err
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return Duplicate, nil
	}
	if err != nil {
		return Failed, err
	}

	l.hub.Broadcast(room.ID, broadcast.Event{
		Kind:      broadcast.KindChat,
		RoomID:    room.ID,
		User:      l.displayName(ctx, cd.UserID, cd.Username),
		Message:   plain,
		Timestamp: proto.FormatTime(msg.Timestamp),
	})
	return Applied, nil
}

func (l *Loop) applyPost(ctx context.Context, env proto.Envelope, origin string) (Outcome, error) {
	var pd proto.PostData
	if err := env.Payload(&pd); err != nil {
		return Malformed, err
	}
	if pd.Title == "" || pd.Content == "" || pd.UserID == "" {
		return Malformed, errors.New("post envelope missing title, content or user")
	}

	post := storage.Post{
		Title:      pd.Title,
		Content:    pd.Content,
		DatePosted: proto.ParseTime(pd.DatePosted),
		UserID:     pd.UserID,
		Origin:     origin,
	}
	seen, err := l.db.HasPost(ctx, post.Key())
	if err != nil {
		return Failed, err
	}
	if seen {
		return Duplicate, nil
	}

	err = l.db.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.EnsureUser(ctx, pd.UserID, pd.Username, origin); err != nil {
			return err
		}
		_, err := tx.InsertPost(ctx, post)
		return err
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return Duplicate, nil
	}
	if err != nil {
		return Failed, err
	}

	l.hub.Broadcast(broadcast.ForumScope, broadcast.Event{
		Kind:      broadcast.KindPost,
		User:      l.displayName(ctx, pd.UserID, pd.Username),
		Title:     pd.Title,
		Message:   pd.Content,
		Timestamp: proto.FormatTime(post.DatePosted),
	})
	return Applied, nil
}

func (l *Loop) applyUser(ctx context.Context, env proto.Envelope, origin string) (Outcome, error) {
	var ud proto.UserData
	if err := env.Payload(&ud); err != nil {
		return Malformed, err
	}
	if ud.ID == "" || ud.Username == "" {
		return Malformed, errors.New("user envelope missing id or username")
	}
	err := l.db.Update(ctx, func(tx *storage.Tx) error {
		return tx.UpsertShadowUser(ctx, storage.User{
			ID:        ud.ID,
			Username:  ud.Username,
			Email:     ud.Email,
			Avatar:    ud.Avatar,
			CreatedAt: proto.ParseTime(ud.CreatedAt),
			Origin:    origin,
		})
	})
	if err != nil {
		return Failed, err
	}
	return Applied, nil
}

func (l *Loop) applyRoom(ctx context.Context, env proto.Envelope, origin string) (Outcome, error) {
	var rd proto.RoomData
	if err := env.Payload(&rd); err != nil {
		return Malformed, err
	}
	if rd.ID == "" || rd.OwnerID == "" || rd.Name == "" {
		return Malformed, errors.New("room envelope missing id, owner or name")
	}
	if _, err := roomcrypto.ParsePublicKey(rd.PublicKey); err != nil {
		return Malformed, err
	}

	var privateKey string
	if rd.SealedPrivateKey != "" && l.sealer.Enabled() {
		pem, err := l.sealer.Open(rd.SealedPrivateKey)
		switch {
		case err != nil:
			l.log.Warn().Err(err).Str("room", rd.ID).Msg("cannot open sealed room key; room is encrypt-only here")
		case !roomcrypto.MatchesPublic(pem, rd.PublicKey):
			l.log.Warn().Str("room", rd.ID).Msg("sealed room key does not match public key; ignored")
		default:
			privateKey = pem
		}
	}

	err := l.db.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.EnsureUser(ctx, rd.OwnerID, rd.OwnerName, origin); err != nil {
			return err
		}
		if err := tx.UpsertRoom(ctx, storage.Room{
			ID:          rd.ID,
			Name:        rd.Name,
			Description: rd.Description,
			OwnerID:     rd.OwnerID,
			Origin:      origin,
			PublicKey:   rd.PublicKey,
			PrivateKey:  privateKey,
			CreatedAt:   proto.ParseTime(rd.CreatedAt),
		}); err != nil {
			return err
		}
		ids := []string{rd.OwnerID}
		for _, m := range rd.Members {
			if m.ID == "" {
				continue
			}
			if err := tx.EnsureUser(ctx, m.ID, m.Username, origin); err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}
		return tx.AddMembers(ctx, rd.ID, ids...)
	})
	if err != nil {
		return Failed, err
	}
	return Applied, nil
}

// displayName prefers the stored username so renamed shadow users show
// their current name.
func (l *Loop) displayName(ctx context.Context, userID, fallback string) string {
	if u, err := l.db.GetUser(ctx, userID); err == nil && u.Username != "" {
		return u.Username
	}
	if fallback != "" {
		return fallback
	}
	return "unknown"
}
