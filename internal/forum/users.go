package forum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/petervdpas/goopforum/internal/proto"
	"github.com/petervdpas/goopforum/internal/storage"
	"github.com/petervdpas/goopforum/internal/util"
)

// EnsureLocalUser returns the local account with this username, creating it
// on first run, and announces it to siblings.
func (s *Service) EnsureLocalUser(ctx context.Context, username, email, password string) (storage.User, error) {
	name, err := util.ValidateUsername(username)
	if err != nil {
		return storage.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	u, err := s.db.LocalUserByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		u, err = s.createLocalUser(ctx, name, email, password)
	}
	if err != nil {
		return storage.User{}, err
	}

	s.publish(ctx, proto.TypeUser, userData(u, s.self.ID))
	return u, nil
}

func (s *Service) createLocalUser(ctx context.Context, name, email, password string) (storage.User, error) {
	if password == "" {
		password = uuid.NewString()
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return storage.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := storage.User{
		ID:           uuid.NewString(),
		Username:     name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		Origin:       s.self.ID,
		Local:        true,
	}
	if err := s.db.Update(ctx, func(tx *storage.Tx) error {
		return tx.InsertUser(ctx, u)
	}); err != nil {
		return storage.User{}, err
	}
	s.log.Info().Str("user", u.Username).Str("id", u.ID).Msg("created local user")
	return s.db.GetUser(ctx, u.ID)
}

// DeleteUser removes a user and everything they own on this instance.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	var owned []string
	if err := s.db.Update(ctx, func(tx *storage.Tx) error {
		rooms, err := tx.ListRooms(ctx)
		if err != nil {
			return err
		}
		for _, r := range rooms {
			if r.OwnerID == userID {
				owned = append(owned, r.ID)
			}
		}
		return tx.DeleteUser(ctx, userID)
	}); err != nil {
		return err
	}
	for _, id := range owned {
		s.hub.Drop(id)
	}
	s.log.Info().Str("id", userID).Int("rooms", len(owned)).Msg("user deleted")
	return nil
}

// DeleteLocalUser is DeleteUser for accounts created on this instance.
// Replicated users belong to their origin and actor cannot remove itself.
func (s *Service) DeleteLocalUser(ctx context.Context, actor storage.User, userID string) error {
	if userID == actor.ID {
		return fmt.Errorf("%w: cannot delete the acting user", ErrForbidden)
	}
	u, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.Local {
		return fmt.Errorf("%w: %s is replicated from %s", ErrForbidden, u.Username, u.Origin)
	}
	return s.DeleteUser(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context) ([]storage.User, error) {
	return s.db.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id string) (storage.User, error) {
	return s.db.GetUser(ctx, id)
}

func userData(u storage.User, origin string) proto.UserData {
	return proto.UserData{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Avatar:    u.Avatar,
		CreatedAt: proto.FormatTime(u.CreatedAt),
		HostID:    origin,
	}
}
