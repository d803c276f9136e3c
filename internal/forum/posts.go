package forum

import (
	"context"
	"time"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/metrics"
	"github.com/petervdpas/goopforum/internal/proto"
	"github.com/petervdpas/goopforum/internal/storage"
	"github.com/petervdpas/goopforum/internal/util"
)

// CreatePost stores a post by author and replicates it. Posts are not
// encrypted.
func (s *Service) CreatePost(ctx context.Context, author storage.User, title, content string) (storage.Post, error) {
	title, ok := util.TrimToLimit(title, MaxTitleLen)
	if !ok {
		return storage.Post{}, invalid("title must be 1-%d characters", MaxTitleLen)
	}
	content, ok = util.TrimToLimit(content, MaxPostLen)
	if !ok {
		return storage.Post{}, invalid("content must be 1-%d characters", MaxPostLen)
	}

	p := storage.Post{
		Title:      title,
		Content:    content,
		DatePosted: time.Now().UTC().Truncate(time.Second),
		UserID:     author.ID,
		Username:   author.Username,
		Origin:     s.self.ID,
	}
	if err := s.db.Update(ctx, func(tx *storage.Tx) error {
		id, err := tx.InsertPost(ctx, p)
		p.ID = id
		return err
	}); err != nil {
		return storage.Post{}, err
	}
	metrics.PostsCreated.Inc()

	ts := proto.FormatTime(p.DatePosted)
	s.hub.Broadcast(broadcast.ForumScope, broadcast.Event{
		Kind:      broadcast.KindPost,
		User:      author.Username,
		Title:     p.Title,
		Message:   p.Content,
		Timestamp: ts,
	})
	s.publish(ctx, proto.TypePost, proto.PostData{
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Content,
		DatePosted: ts,
		UserID:     p.UserID,
		HostID:     s.self.ID,
		Username:   author.Username,
	})
	return p, nil
}

// ListPosts returns the newest posts first. limit <= 0 means all.
func (s *Service) ListPosts(ctx context.Context, limit int) ([]storage.Post, error) {
	return s.db.ListPosts(ctx, limit)
}

func (s *Service) PostsByUser(ctx context.Context, userID string) ([]storage.Post, error) {
	return s.db.PostsByUser(ctx, userID)
}
