package roomcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPlaintext returns the largest plaintext, in bytes, that fits one OAEP
// block under pub: k - 2*hLen - 2. For a 2048-bit key that is 190 bytes.
func MaxPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - 2*sha256.Size - 2
}

// MaxPlaintextPEM is MaxPlaintext for a PEM public key. It returns 0 if the
// key does not parse.
func MaxPlaintextPEM(publicPEM string) int {
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return 0
	}
	return MaxPlaintext(pub)
}

// Encrypt seals plaintext for the holder of the room private key and returns
// the ciphertext as std base64 text.
func Encrypt(plaintext, publicPEM string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: empty plaintext", ErrEncryption)
	}
	if !utf8.ValidString(plaintext) {
		return "", fmt.Errorf("%w: plaintext is not utf-8", ErrEncryption)
	}
	pub, err := ParsePublicKey(publicPEM)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	if max := MaxPlaintext(pub); len(plaintext) > max {
		return "", fmt.Errorf("%w: plaintext is %d bytes, key allows %d", ErrEncryption, len(plaintext), max)
	}

	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. A wrong key, a corrupted token or a malformed
// key all yield ErrDecryption; no partial plaintext is ever returned.
func Decrypt(token, privatePEM string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty ciphertext", ErrDecryption)
	}
	priv, err := ParsePrivateKey(privatePEM)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	ct, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not base64: %v", ErrDecryption, err)
	}

	pt, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if !utf8.Valid(pt) {
		return "", fmt.Errorf("%w: plaintext is not utf-8", ErrDecryption)
	}
	return string(pt), nil
}
