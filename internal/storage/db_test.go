package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustUpdate(t *testing.T, db *DB, fn func(tx *Tx) error) {
	t.Helper()
	if err := db.Update(context.Background(), fn); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func seedUser(t *testing.T, db *DB, id, name string) {
	t.Helper()
	mustUpdate(t, db, func(tx *Tx) error {
		return tx.InsertUser(context.Background(), User{ID: id, Username: name, Origin: "inst-a", Local: true})
	})
}

func seedRoom(t *testing.T, db *DB, id, owner string, members ...string) {
	t.Helper()
	ctx := context.Background()
	mustUpdate(t, db, func(tx *Tx) error {
		if err := tx.CreateRoom(ctx, Room{ID: id, Name: id, OwnerID: owner, Origin: "inst-a", PublicKey: "pub", PrivateKey: "priv"}); err != nil {
			return err
		}
		return tx.AddMembers(ctx, id, append([]string{owner}, members...)...)
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Open(dir)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		db.Close()
	}
}

func TestUsers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")

	u, err := db.LocalUserByName(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "u1" || !u.Local || u.Avatar != "default.jpg" {
		t.Fatalf("user = %+v", u)
	}

	err = db.Update(ctx, func(tx *Tx) error {
		return tx.InsertUser(ctx, User{ID: "u2", Username: "alice", Local: true})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second local alice: err = %v", err)
	}

	// Remote data never overwrites a local account.
	mustUpdate(t, db, func(tx *Tx) error {
		return tx.UpsertShadowUser(ctx, User{ID: "u1", Username: "mallory", Origin: "inst-b"})
	})
	if u, _ := db.GetUser(ctx, "u1"); u.Username != "alice" {
		t.Fatalf("local user overwritten: %+v", u)
	}

	mustUpdate(t, db, func(tx *Tx) error {
		if err := tx.UpsertShadowUser(ctx, User{ID: "r1", Username: "bob", Origin: "inst-b"}); err != nil {
			return err
		}
		return tx.UpsertShadowUser(ctx, User{ID: "r1", Username: "bobby", Email: "b@x", Origin: "inst-b"})
	})
	r, err := db.GetUser(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Username != "bobby" || r.Email != "b@x" || r.Local {
		t.Fatalf("shadow user = %+v", r)
	}

	mustUpdate(t, db, func(tx *Tx) error { return tx.EnsureUser(ctx, "r1", "other", "inst-c") })
	if r, _ := db.GetUser(ctx, "r1"); r.Username != "bobby" {
		t.Fatalf("EnsureUser changed existing row: %+v", r)
	}

	if _, err := db.GetUser(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
	users, err := db.ListUsers(ctx)
	if err != nil || len(users) != 2 {
		t.Fatalf("ListUsers = %v, %v", users, err)
	}
}

func TestChatMessageDedup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedRoom(t, db, "room1", "u1")

	msg := ChatMessage{Content: "c1", UserID: "u1", RoomID: "room1", Origin: "inst-a", Timestamp: time.Now()}

	seen, err := db.HasChatMessage(ctx, msg.Key())
	if err != nil || seen {
		t.Fatalf("HasChatMessage before insert = %v, %v", seen, err)
	}

	var id int64
	mustUpdate(t, db, func(tx *Tx) error {
		var err error
		id, err = tx.InsertChatMessage(ctx, msg)
		return err
	})
	if id == 0 {
		t.Fatal("expected a row id")
	}

	err = db.Update(ctx, func(tx *Tx) error {
		_, err := tx.InsertChatMessage(ctx, msg)
		return err
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert err = %v", err)
	}

	seen, err = db.HasChatMessage(ctx, msg.Key())
	if err != nil || !seen {
		t.Fatalf("HasChatMessage after insert = %v, %v", seen, err)
	}

	// Same content from a different origin is a different message.
	other := msg
	other.Origin = "inst-b"
	mustUpdate(t, db, func(tx *Tx) error {
		_, err := tx.InsertChatMessage(ctx, other)
		return err
	})

	hist, err := db.ChatHistory(ctx, "room1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Username != "alice" || hist[0].ID > hist[1].ID {
		t.Fatalf("history = %+v", hist)
	}
	last, _ := db.ChatHistory(ctx, "room1", 1)
	if len(last) != 1 || last[0].Origin != "inst-b" {
		t.Fatalf("limited history = %+v", last)
	}
}

func TestPostDedup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")

	p := Post{Title: "hello", Content: "world", UserID: "u1", Origin: "inst-a"}
	mustUpdate(t, db, func(tx *Tx) error {
		_, err := tx.InsertPost(ctx, p)
		return err
	})
	err := db.Update(ctx, func(tx *Tx) error {
		_, err := tx.InsertPost(ctx, p)
		return err
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate post err = %v", err)
	}
	if seen, _ := db.HasPost(ctx, p.Key()); !seen {
		t.Fatal("HasPost = false")
	}

	posts, err := db.ListPosts(ctx, 0)
	if err != nil || len(posts) != 1 || posts[0].Username != "alice" {
		t.Fatalf("ListPosts = %+v, %v", posts, err)
	}
	byUser, _ := db.PostsByUser(ctx, "u1")
	if len(byUser) != 1 {
		t.Fatalf("PostsByUser = %+v", byUser)
	}
}

func TestUpdateRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")

	boom := errors.New("boom")
	err := db.Update(ctx, func(tx *Tx) error {
		if _, err := tx.InsertPost(ctx, Post{Title: "t", Content: "c", UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if posts, _ := db.ListPosts(ctx, 0); len(posts) != 0 {
		t.Fatalf("rolled back post persisted: %+v", posts)
	}
}

func TestRooms(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedUser(t, db, "u2", "bob")
	seedRoom(t, db, "room1", "u1", "u2")

	room, err := db.GetRoom(ctx, "room1")
	if err != nil {
		t.Fatal(err)
	}
	if room.OwnerName != "alice" || room.PrivateKey != "priv" {
		t.Fatalf("room = %+v", room)
	}

	// A replicated announcement must not replace the key pair.
	mustUpdate(t, db, func(tx *Tx) error {
		return tx.UpsertRoom(ctx, Room{ID: "room1", Name: "renamed", OwnerID: "u1", PublicKey: "other", PrivateKey: "other"})
	})
	room, _ = db.GetRoom(ctx, "room1")
	if room.Name != "renamed" || room.PublicKey != "pub" || room.PrivateKey != "priv" {
		t.Fatalf("upserted room = %+v", room)
	}

	// A room known only by its public key gets the private key later.
	mustUpdate(t, db, func(tx *Tx) error {
		return tx.UpsertRoom(ctx, Room{ID: "room2", Name: "r2", OwnerID: "u2", PublicKey: "pub2"})
	})
	mustUpdate(t, db, func(tx *Tx) error {
		return tx.UpsertRoom(ctx, Room{ID: "room2", Name: "r2", OwnerID: "u2", PublicKey: "pub2", PrivateKey: "priv2"})
	})
	if r2, _ := db.GetRoom(ctx, "room2"); r2.PrivateKey != "priv2" {
		t.Fatalf("room2 = %+v", r2)
	}

	if ok, _ := db.IsMember(ctx, "room1", "u2"); !ok {
		t.Fatal("bob should be a member of room1")
	}
	if ok, _ := db.IsMember(ctx, "room2", "u1"); ok {
		t.Fatal("alice should not be a member of room2")
	}
	members, _ := db.Members(ctx, "room1")
	if len(members) != 2 {
		t.Fatalf("members = %+v", members)
	}
	rooms, _ := db.RoomsForUser(ctx, "u2")
	if len(rooms) != 1 || rooms[0].ID != "room1" {
		t.Fatalf("RoomsForUser = %+v", rooms)
	}
	all, _ := db.ListRooms(ctx)
	if len(all) != 2 {
		t.Fatalf("ListRooms = %+v", all)
	}
}

func TestDeleteRoomCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedUser(t, db, "u2", "bob")
	seedRoom(t, db, "room1", "u1", "u2")
	mustUpdate(t, db, func(tx *Tx) error {
		_, err := tx.InsertChatMessage(ctx, ChatMessage{Content: "c", UserID: "u2", RoomID: "room1"})
		return err
	})

	mustUpdate(t, db, func(tx *Tx) error { return tx.DeleteRoom(ctx, "room1") })

	if hist, _ := db.ChatHistory(ctx, "room1", 0); len(hist) != 0 {
		t.Fatalf("messages survived room delete: %+v", hist)
	}
	if members, _ := db.Members(ctx, "room1"); len(members) != 0 {
		t.Fatalf("memberships survived room delete: %+v", members)
	}
	if _, err := db.GetUser(ctx, "u2"); err != nil {
		t.Fatalf("member user should survive: %v", err)
	}

	err := db.Update(ctx, func(tx *Tx) error { return tx.DeleteRoom(ctx, "room1") })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedUser(t, db, "u1", "alice")
	seedUser(t, db, "u2", "bob")
	seedRoom(t, db, "owned", "u1", "u2")
	seedRoom(t, db, "joined", "u2", "u1")
	mustUpdate(t, db, func(tx *Tx) error {
		for _, m := range []ChatMessage{
			{Content: "a1", UserID: "u1", RoomID: "joined"},
			{Content: "b1", UserID: "u2", RoomID: "owned"},
			{Content: "b2", UserID: "u2", RoomID: "joined"},
		} {
			if _, err := tx.InsertChatMessage(ctx, m); err != nil {
				return err
			}
		}
		_, err := tx.InsertPost(ctx, Post{Title: "t", Content: "c", UserID: "u1"})
		return err
	})

	mustUpdate(t, db, func(tx *Tx) error { return tx.DeleteUser(ctx, "u1") })

	if _, err := db.GetRoom(ctx, "owned"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("owned room should be gone, err = %v", err)
	}
	if hist, _ := db.ChatHistory(ctx, "owned", 0); len(hist) != 0 {
		t.Fatalf("owned room messages survived: %+v", hist)
	}
	if _, err := db.GetRoom(ctx, "joined"); err != nil {
		t.Fatalf("joined room should survive: %v", err)
	}
	hist, _ := db.ChatHistory(ctx, "joined", 0)
	if len(hist) != 1 || hist[0].UserID != "u2" {
		t.Fatalf("joined room history = %+v", hist)
	}
	members, _ := db.Members(ctx, "joined")
	if len(members) != 1 || members[0].ID != "u2" {
		t.Fatalf("joined room members = %+v", members)
	}
	if posts, _ := db.PostsByUser(ctx, "u1"); len(posts) != 0 {
		t.Fatalf("posts survived: %+v", posts)
	}
}
