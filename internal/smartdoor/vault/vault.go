// Package vault encrypts, hashes and masks passcode secrets.
//
// Ciphertext layout: version (1 byte) || key ID (4 bytes) || nonce (24
// bytes) || XChaCha20-Poly1305 sealed payload.  The key ID lets a vault
// holding several keys pick the right one, so a new active key can be
// introduced without rewriting old ciphertext.
package vault

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	formatVersion byte = 1
	keyIDSize          = 4
	headerSize         = 1 + keyIDSize

	// minSecretLen rejects obviously weak key material.
	minSecretLen = 16

	maskPrefix    = "****"
	maskSuffixLen = 4
)

var hkdfInfo = []byte("smartdoor vault v1")

var (
	ErrKeyMismatch         = errors.New("vault: ciphertext cannot be decrypted with the configured keys")
	ErrMalformedCiphertext = errors.New("vault: malformed ciphertext")
	ErrWeakKey             = errors.New("vault: key material too short")
)

// Key is a derived encryption key.  It never exposes its bytes.
type Key struct {
	id   [keyIDSize]byte
	aead cipher.AEAD
}

// ParseKey derives a Key from configured secret material.  Base64 input
// (standard or URL alphabet) is decoded first so existing Fernet-style
// keys can be reused; anything else is used as raw bytes.
func ParseKey(secret string) (Key, error) {
	secret = strings.TrimSpace(secret)
	material := []byte(secret)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if b, err := enc.DecodeString(secret); err == nil && len(b) >= minSecretLen {
			material = b
			break
		}
	}
	return DeriveKey(material)
}

// DeriveKey expands secret material into a 256-bit key with HKDF-SHA256.
func DeriveKey(material []byte) (Key, error) {
	if len(material) < minSecretLen {
		return Key{}, ErrWeakKey
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, hkdfInfo), derived); err != nil {
		return Key{}, fmt.Errorf("vault: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return Key{}, fmt.Errorf("vault: init cipher: %w", err)
	}

	var k Key
	sum := sha256.Sum256(derived)
	copy(k.id[:], sum[:keyIDSize])
	k.aead = aead
	return k, nil
}

// ID returns the public key identifier in hex.
func (k Key) ID() string { return hex.EncodeToString(k.id[:]) }

// String keeps key material out of logs and fmt output.
func (k Key) String() string { return "vault.Key(" + k.ID() + ", redacted)" }

func (k Key) valid() bool { return k.aead != nil }

// Vault holds one active key and any number of retired keys that can
// still decrypt older ciphertext.
type Vault struct {
	mu     sync.RWMutex
	active Key
	keys   map[[keyIDSize]byte]Key
}

func New(active Key, previous ...Key) (*Vault, error) {
	if !active.valid() {
		return nil, errors.New("vault: active key is not initialised")
	}
	v := &Vault{active: active, keys: make(map[[keyIDSize]byte]Key, 1+len(previous))}
	v.keys[active.id] = active
	for _, k := range previous {
		if k.valid() {
			v.keys[k.id] = k
		}
	}
	return v, nil
}

// SetActive swaps in a new active key.  The previous active key stays
// available for decryption.
func (v *Vault) SetActive(k Key) error {
	if !k.valid() {
		return errors.New("vault: key is not initialised")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[k.id] = k
	v.active = k
	return nil
}

func (v *Vault) ActiveKeyID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active.ID()
}

func (v *Vault) Encrypt(raw string) ([]byte, error) {
	v.mu.RLock()
	k := v.active
	v.mu.RUnlock()

	nonce := make([]byte, k.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}

	header := append([]byte{formatVersion}, k.id[:]...)

	out := make([]byte, 0, headerSize+len(nonce)+len(raw)+chacha20poly1305.Overhead)
	out = append(out, header...)
	out = append(out, nonce...)
	// The header is bound as associated data so a key ID cannot be swapped.
	return k.aead.Seal(out, nonce, []byte(raw), header), nil
}

func (v *Vault) Decrypt(ciphertext []byte) (string, error) {
	k, err := v.keyFor(ciphertext)
	if err != nil {
		return "", err
	}

	nonceEnd := headerSize + k.aead.NonceSize()
	if len(ciphertext) < nonceEnd+chacha20poly1305.Overhead {
		return "", ErrMalformedCiphertext
	}

	plain, err := k.aead.Open(nil, ciphertext[headerSize:nonceEnd], ciphertext[nonceEnd:], ciphertext[:headerSize])
	if err != nil {
		return "", ErrKeyMismatch
	}
	return string(plain), nil
}

// NeedsRewrap reports whether ciphertext was sealed under a key other than
// the active one.
func (v *Vault) NeedsRewrap(ciphertext []byte) bool {
	if len(ciphertext) < headerSize || ciphertext[0] != formatVersion {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !bytes.Equal(ciphertext[1:headerSize], v.active.id[:])
}

func (v *Vault) keyFor(ciphertext []byte) (Key, error) {
	if len(ciphertext) < headerSize || ciphertext[0] != formatVersion {
		return Key{}, ErrMalformedCiphertext
	}
	var id [keyIDSize]byte
	copy(id[:], ciphertext[1:headerSize])

	v.mu.RLock()
	k, ok := v.keys[id]
	v.mu.RUnlock()
	if !ok {
		return Key{}, ErrKeyMismatch
	}
	return k, nil
}

// Hash is the one-way digest stored alongside each passcode: SHA-256,
// lowercase hex, 64 characters.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Mask renders a display-safe form: a fixed run of '*' followed by the
// last four characters.  The prefix length never depends on the input.
func Mask(raw string) string {
	suffix := raw
	if len(raw) > maskSuffixLen {
		suffix = raw[len(raw)-maskSuffixLen:]
	}
	return maskPrefix + suffix
}
