package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultChannel is the shared bus channel every instance of a deployment
	// publishes to and listens on.
	DefaultChannel = "forum_channel"

	// GossipTopic is the GossipSub topic used by the libp2p transport.
	GossipTopic = "goopforum.sync.v1"
	MdnsTag     = "goopforum-mdns"

	// TimeLayout is the wire and storage format for timestamps (UTC).
	TimeLayout = "2006-01-02 15:04:05"
)

const (
	TypePost = "post"
	TypeChat = "chat"
	TypeUser = "user"
	TypeRoom = "room"
)

// Envelope is the unit published on the shared channel.
type Envelope struct {
	Type   string          `json:"type"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// ChatData is the payload of a chat envelope. Content is always the
// base64 ciphertext, never plaintext.
type ChatData struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	UserID    string `json:"user_id"`
	RoomID    string `json:"room_id"`
	HostID    string `json:"host_id"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type PostData struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	DatePosted string `json:"date_posted"`
	UserID     string `json:"user_id"`
	HostID     string `json:"host_id"`
	Username   string `json:"username"`
}

type UserData struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Avatar    string `json:"avatar"`
	CreatedAt string `json:"created_at"`
	HostID    string `json:"host_id"`
}

// MemberRef names a room member on the wire.
type MemberRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// RoomData announces a room. SealedPrivateKey is the room private key
// encrypted to the deployment identity; it is empty when sealing is off.
type RoomData struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	OwnerID          string      `json:"owner_id"`
	OwnerName        string      `json:"owner_name"`
	HostID           string      `json:"host_id"`
	PublicKey        string      `json:"public_key"`
	SealedPrivateKey string      `json:"sealed_private_key,omitempty"`
	CreatedAt        string      `json:"created_at"`
	Members          []MemberRef `json:"members"`
}

var ErrMalformed = errors.New("malformed envelope")

// Encode wraps payload in an envelope of the given type.
func Encode(typ, origin string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Origin: origin, Data: data})
}

// Decode parses an envelope. It checks only the outer shape; payloads are
// decoded by the consumer.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" || len(env.Data) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing type or data", ErrMalformed)
	}
	return env, nil
}

// OriginOf returns the producing instance. Envelopes from producers that only
// set host_id inside data are still attributed correctly.
func (e Envelope) OriginOf() string {
	if e.Origin != "" {
		return e.Origin
	}
	var hdr struct {
		HostID string `json:"host_id"`
	}
	_ = json.Unmarshal(e.Data, &hdr)
	return hdr.HostID
}

// Payload decodes the envelope data into v.
func (e Envelope) Payload(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// FormatTime renders t in the wire layout.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime parses a wire timestamp. Empty or unparseable input yields the
// current time so a sloppy producer never blocks replication.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
