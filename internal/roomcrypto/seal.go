package roomcrypto

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// Sealer encrypts room private keys to the deployment's age identity. Every
// instance of one deployment is configured with the same identity, so a room
// created on one instance can be opened on its siblings while the bus only
// ever carries the sealed form.
//
// A nil *Sealer is valid and means sealing is disabled.
type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewSealer parses an "AGE-SECRET-KEY-1..." identity. An empty string
// returns a nil Sealer.
func NewSealer(identity string) (*Sealer, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, nil
	}
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("parse deployment identity: %w", err)
	}
	return &Sealer{identity: id, recipient: id.Recipient()}, nil
}

// GenerateDeploymentIdentity returns a new age identity string suitable for
// the crypto.deployment_identity config field.
func GenerateDeploymentIdentity() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Enabled reports whether keys can be sealed and opened.
func (s *Sealer) Enabled() bool { return s != nil }

// Seal encrypts privatePEM and returns ASCII-armored age text.
func (s *Sealer) Seal(privatePEM string) (string, error) {
	if s == nil {
		return "", nil
	}
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, s.recipient)
	if err != nil {
		return "", fmt.Errorf("seal room key: %w", err)
	}
	if _, err := io.WriteString(w, privatePEM); err != nil {
		return "", fmt.Errorf("seal room key: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("seal room key: %w", err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("seal room key: %w", err)
	}
	return buf.String(), nil
}

// Open decrypts a sealed private key. Failures wrap ErrDecryption.
func (s *Sealer) Open(sealed string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: no deployment identity configured", ErrDecryption)
	}
	r, err := age.Decrypt(armor.NewReader(strings.NewReader(sealed)), s.identity)
	if err != nil {
		return "", fmt.Errorf("%w: open room key: %v", ErrDecryption, err)
	}
	b, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "", fmt.Errorf("%w: open room key: %v", ErrDecryption, err)
	}
	return string(b), nil
}
