package forum

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/goopforum/internal/metrics"
	"github.com/petervdpas/goopforum/internal/proto"
	"github.com/petervdpas/goopforum/internal/storage"
	"github.com/petervdpas/goopforum/internal/util"
)

// CreateRoom generates the room key pair, stores the room with owner and
// members, and announces it. If key generation fails nothing is stored.
func (s *Service) CreateRoom(ctx context.Context, owner storage.User, name, description string, memberIDs []string) (storage.Room, error) {
	name, ok := util.TrimToLimit(name, MaxRoomNameLen)
	if !ok {
		return storage.Room{}, invalid("room name must be 1-%d characters", MaxRoomNameLen)
	}
	if len([]rune(description)) > MaxDescriptionLen {
		return storage.Room{}, invalid("description longer than %d characters", MaxDescriptionLen)
	}

	pair, err := s.keys.Generate()
	if err != nil {
		return storage.Room{}, err
	}

	room := storage.Room{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		OwnerID:     owner.ID,
		OwnerName:   owner.Username,
		Origin:      s.self.ID,
		PublicKey:   pair.PublicKey,
		PrivateKey:  pair.PrivateKey,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := s.db.Update(ctx, func(tx *storage.Tx) error {
		if err := checkUsers(ctx, tx, memberIDs); err != nil {
			return err
		}
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		return tx.AddMembers(ctx, room.ID, append([]string{owner.ID}, memberIDs...)...)
	}); err != nil {
		return storage.Room{}, err
	}
	metrics.RoomsCreated.Inc()
	s.log.Info().Str("room", room.ID).Str("name", room.Name).Int("members", len(memberIDs)+1).Msg("room created")

	s.announceRoom(ctx, room)
	return room, nil
}

// InviteMembers adds users to a room. Only the owner may invite.
func (s *Service) InviteMembers(ctx context.Context, actor storage.User, roomID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return invalid("no members given")
	}
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != actor.ID {
		return ErrNotOwner
	}
	if err := s.db.Update(ctx, func(tx *storage.Tx) error {
		if err := checkUsers(ctx, tx, memberIDs); err != nil {
			return err
		}
		return tx.AddMembers(ctx, roomID, memberIDs...)
	}); err != nil {
		return err
	}
	s.announceRoom(ctx, room)
	return nil
}

// DeleteRoom removes a room with its messages and memberships on this
// instance. Only the owner may delete.
func (s *Service) DeleteRoom(ctx context.Context, actor storage.User, roomID string) error {
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != actor.ID {
		return ErrNotOwner
	}
	if err := s.db.Update(ctx, func(tx *storage.Tx) error {
		return tx.DeleteRoom(ctx, roomID)
	}); err != nil {
		return err
	}
	s.hub.Drop(roomID)
	s.log.Info().Str("room", roomID).Msg("room deleted")
	return nil
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (storage.Room, error) {
	return s.db.GetRoom(ctx, roomID)
}

func (s *Service) ListRooms(ctx context.Context) ([]storage.Room, error) {
	return s.db.ListRooms(ctx)
}

func (s *Service) RoomsForUser(ctx context.Context, userID string) ([]storage.Room, error) {
	return s.db.RoomsForUser(ctx, userID)
}

func (s *Service) Members(ctx context.Context, roomID string) ([]storage.Member, error) {
	return s.db.Members(ctx, roomID)
}

// announceRoom publishes the room with its current members. The private
// key travels only in sealed form, and only when sealing is configured.
func (s *Service) announceRoom(ctx context.Context, room storage.Room) {
	members, err := s.db.Members(ctx, room.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("room", room.ID).Msg("room not announced")
		return
	}
	sealed, err := s.sealer.Seal(room.PrivateKey)
	if err != nil {
		s.log.Warn().Err(err).Str("room", room.ID).Msg("room key not sealed; siblings get an encrypt-only room")
		sealed = ""
	}

	refs := make([]proto.MemberRef, 0, len(members))
	for _, m := range members {
		refs = append(refs, proto.MemberRef{ID: m.ID, Username: m.Username})
	}
	s.publish(ctx, proto.TypeRoom, proto.RoomData{
		ID:               room.ID,
		Name:             room.Name,
		Description:      room.Description,
		OwnerID:          room.OwnerID,
		OwnerName:        room.OwnerName,
		HostID:           s.self.ID,
		PublicKey:        room.PublicKey,
		SealedPrivateKey: sealed,
		CreatedAt:        proto.FormatTime(room.CreatedAt),
		Members:          refs,
	})
}

func checkUsers(ctx context.Context, tx *storage.Tx, ids []string) error {
	for _, id := range ids {
		if _, err := tx.GetUser(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return invalid("unknown user %s", id)
			}
			return err
		}
	}
	return nil
}
