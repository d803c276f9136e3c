// Package roomcrypto holds the per-room asymmetric crypto: RSA key pairs
// serialized as PEM, RSA-OAEP/SHA-256 message encryption, and age sealing of
// room private keys so sibling instances of one deployment can open them.
//
// Key and ciphertext formats are the cross-language standards (PKCS#8,
// SubjectPublicKeyInfo, OAEP with SHA-256 for digest and MGF1, std base64), so
// instances built on other runtimes decrypt each other's messages.
package roomcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// MinKeyBits is the smallest RSA modulus a room key pair may use.
const MinKeyBits = 2048

var (
	ErrKeyGeneration = errors.New("key generation failed")
	ErrEncryption    = errors.New("encryption failed")
	ErrDecryption    = errors.New("decryption failed")
)

// KeyPair is a room key pair in PEM text form.
type KeyPair struct {
	PublicKey  string // SubjectPublicKeyInfo, "PUBLIC KEY"
	PrivateKey string // PKCS#8, "PRIVATE KEY"
}

// KeyManager issues room key pairs.
type KeyManager struct {
	bits int
}

// NewKeyManager returns a manager generating keys of the given size.
// Sizes below MinKeyBits are raised to MinKeyBits.
func NewKeyManager(bits int) *KeyManager {
	if bits < MinKeyBits {
		bits = MinKeyBits
	}
	return &KeyManager{bits: bits}
}

// Bits returns the modulus size used for new key pairs.
func (m *KeyManager) Bits() int { return m.bits }

// Generate creates a fresh key pair. Every call draws new randomness, so two
// rooms never share a pair.
func (m *KeyManager) Generate() (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, m.bits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: marshal private key: %v", ErrKeyGeneration, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: marshal public key: %v", ErrKeyGeneration, err)
	}

	return KeyPair{
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	}, nil
}

// ParsePublicKey decodes a SubjectPublicKeyInfo PEM block. PKCS#1
// "RSA PUBLIC KEY" blocks are accepted as well.
func ParsePublicKey(text string) (*rsa.PublicKey, error) {
	block, err := decodePEM(text)
	if err != nil {
		return nil, err
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", key)
	}
	return pub, nil
}

// ParsePrivateKey decodes a PKCS#8 PEM block. PKCS#1 "RSA PRIVATE KEY"
// blocks are accepted as well.
func ParsePrivateKey(text string) (*rsa.PrivateKey, error) {
	block, err := decodePEM(text)
	if err != nil {
		return nil, err
	}

	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", key)
	}
	return priv, nil
}

func decodePEM(text string) (*pem.Block, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("key is empty")
	}
	block, _ := pem.Decode([]byte(text))
	if block == nil {
		return nil, errors.New("key is not PEM encoded")
	}
	return block, nil
}

// MatchesPublic reports whether privatePEM is the private half of publicPEM.
func MatchesPublic(privatePEM, publicPEM string) bool {
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return false
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return false
	}
	return priv.PublicKey.Equal(pub)
}
