// Package signing produces short keyed signatures that fit inside a QR field.
//
// Signatures are HMAC-SHA-256 digests rendered as unpadded base64url and cut
// to a caller-chosen number of characters. Several keys may be registered for
// verification so that keys can be rotated, but only the current key signs.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MaxLength is the length of a full, untruncated signature.
const MaxLength = 43

var (
	ErrUnknownKey    = errors.New("signing: unknown key id")
	ErrInvalidLength = errors.New("signing: invalid signature length")
	ErrEmptyKey      = errors.New("signing: empty key")
)

type Signer struct {
	mu         sync.RWMutex
	keys       map[string][]byte
	currentKey string
}

func New(currentKeyID string, key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if currentKeyID == "" {
		return nil, fmt.Errorf("signing: empty key id")
	}
	return &Signer{
		keys:       map[string][]byte{currentKeyID: append([]byte(nil), key...)},
		currentKey: currentKeyID,
	}, nil
}

// AddKey registers a verification key. It does not change the signing key.
func (s *Signer) AddKey(keyID string, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyID] = append([]byte(nil), key...)
	return nil
}

// Rotate makes keyID the signing key. The previous key stays valid for verification.
func (s *Signer) Rotate(keyID string, key []byte) error {
	if err := s.AddKey(keyID, key); err != nil {
		return err
	}
	s.mu.Lock()
	s.currentKey = keyID
	s.mu.Unlock()
	return nil
}

func (s *Signer) CurrentKeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentKey
}

// KeyIDs lists every key accepted for verification, sorted.
func (s *Signer) KeyIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Signer) key(keyID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyID]
	return k, ok
}

// SignTruncated returns the first length characters of the signature of payload.
func (s *Signer) SignTruncated(payload, keyID string, length int) (string, error) {
	if length < 1 || length > MaxLength {
		return "", ErrInvalidLength
	}
	key, ok := s.key(keyID)
	if !ok {
		return "", ErrUnknownKey
	}
	return digest(key, payload)[:length], nil
}

// Sign returns the full signature of payload with the current key.
func (s *Signer) Sign(payload string) (string, error) {
	return s.SignTruncated(payload, s.CurrentKeyID(), MaxLength)
}

// VerifyTruncated reports whether signature is the length-character signature
// of payload under keyID. Unknown keys never verify.
func (s *Signer) VerifyTruncated(payload, signature, keyID string, length int) bool {
	if length < 1 || length > MaxLength || len(signature) != length {
		return false
	}
	key, ok := s.key(keyID)
	if !ok {
		return false
	}
	expected := digest(key, payload)[:length]
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyAny checks signature against every registered key and returns the
// id of the key that produced it.
func (s *Signer) VerifyAny(payload, signature string) (string, bool) {
	for _, id := range s.KeyIDs() {
		if s.VerifyTruncated(payload, signature, id, len(signature)) {
			return id, true
		}
	}
	return "", false
}

func digest(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
