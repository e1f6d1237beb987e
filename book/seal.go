package book

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrSealFormat  = errors.New("invalid sealed snapshot format")
	ErrSealInvalid = errors.New("invalid sealed snapshot")
	ErrSealConfig  = errors.New("invalid snapshot seal configuration")
)

// SealKeySize is the key length required by SealedCodec.
const SealKeySize = chacha20poly1305.KeySize

// sealAAD binds sealed payloads to their purpose.
var sealAAD = []byte("booktracker-snapshot")

// SealedCodec encrypts the output of an inner codec with XChaCha20-Poly1305.
//
// Format: [keyID] "." base64url(nonce || AEAD.Seal(nil, nonce, plaintext, aad)).
// Keys holds every accepted key; KeyID selects the key used for sealing, so
// keys can be rotated by adding a new key and switching KeyID.
type SealedCodec struct {
	Inner SnapshotCodec
	KeyID string
	Keys  map[string][]byte
}

// NewSealedCodec validates the key set and returns a SealedCodec.
// A nil inner codec defaults to CBORCodec.
func NewSealedCodec(inner SnapshotCodec, keyID string, keys map[string][]byte) (*SealedCodec, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: keys must not be nil", ErrSealConfig)
	}
	if keyID == "" || strings.Contains(keyID, ".") {
		return nil, fmt.Errorf("%w: key id %q", ErrSealConfig, keyID)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key id %q not found in keys", ErrSealConfig, keyID)
	}
	for id, k := range keys {
		if _, err := chacha20poly1305.NewX(k); err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrSealConfig, id, err)
		}
	}
	if inner == nil {
		inner = CBORCodec{}
	}
	return &SealedCodec{Inner: inner, KeyID: keyID, Keys: keys}, nil
}

func (c *SealedCodec) aead(keyID string) (cipher.AEAD, error) {
	key, ok := c.Keys[keyID]
	if !ok {
		return nil, ErrSealInvalid
	}
	return chacha20poly1305.NewX(key)
}

func (c *SealedCodec) Encode(s Snapshot) ([]byte, error) {
	if c == nil || c.Inner == nil {
		return nil, ErrSealConfig
	}
	plain, err := c.Inner.Encode(s)
	if err != nil {
		return nil, err
	}
	aead, err := c.aead(c.KeyID)
	if err != nil {
		return nil, ErrSealConfig
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, nonce, plain, sealAAD)
	return []byte(c.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed)), nil
}

func (c *SealedCodec) Decode(b []byte, s *Snapshot) error {
	if c == nil || c.Inner == nil {
		return ErrSealConfig
	}
	keyID, enc, ok := strings.Cut(string(b), ".")
	if !ok || keyID == "" || enc == "" {
		return ErrSealFormat
	}
	sealed, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return ErrSealFormat
	}
	aead, err := c.aead(keyID)
	if err != nil {
		return err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return ErrSealFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, sealAAD)
	if err != nil {
		return ErrSealInvalid
	}
	return c.Inner.Decode(plain, s)
}

var _ SnapshotCodec = (*SealedCodec)(nil)
