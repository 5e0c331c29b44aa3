// Package keyring manages the HMAC-SHA-256 signing keys used by the token
// codec. The keyring is process-wide state with an explicit lifecycle:
// load an existing Document (FromDocument) or create a fresh keyring (New),
// then rotate. It is the only legitimately global mutable
// state in the engine; everything else flows through the filesystem ports.
package keyring

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// KeySize is the length in bytes of each HMAC-SHA-256 key.
const KeySize = 32

// Key is one HMAC-SHA-256 signing key.
type Key struct {
	Alg          string `json:"alg"`
	KeyBase64Url string `json:"keyBase64Url"`
}

func newKey() (Key, error) {
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return Key{}, fmt.Errorf("keyring: generate key: %w", err)
	}
	return Key{
		Alg:          "hmac_sha256",
		KeyBase64Url: base64.RawURLEncoding.EncodeToString(raw),
	}, nil
}

func (k Key) bytes() ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(k.KeyBase64Url)
	if err != nil {
		return nil, fmt.Errorf("keyring: decode key: %w", err)
	}
	return b, nil
}

// Document is the on-disk shape of keys/keyring.json.
type Document struct {
	V        int  `json:"v"`
	Current  Key  `json:"current"`
	Previous *Key `json:"previous,omitempty"`
}

// Keyring holds the active {current, previous?} key pair in memory, mirroring
// a Document. Callers persist it themselves via the filesystem port; Keyring
// itself performs no I/O.
type Keyring struct {
	doc Document
}

// FromDocument wraps an already-loaded Document.
func FromDocument(doc Document) *Keyring {
	return &Keyring{doc: doc}
}

// New creates a fresh Keyring with a newly generated current key and no
// previous key, for use on first run, when no keyring document exists yet.
func New() (*Keyring, error) {
	k, err := newKey()
	if err != nil {
		return nil, err
	}
	return &Keyring{doc: Document{V: 1, Current: k}}, nil
}

// Document returns the keyring's current persisted shape.
func (kr *Keyring) Document() Document {
	return kr.doc
}

// Rotate generates a fresh current key, demoting the previous current key
// to previous (discarding any older previous key). Tokens signed under the
// old current key remain verifiable immediately after rotation because it
// becomes the new previous key.
func (kr *Keyring) Rotate() error {
	next, err := newKey()
	if err != nil {
		return err
	}
	old := kr.doc.Current
	kr.doc.Previous = &old
	kr.doc.Current = next
	return nil
}

// Sign computes the HMAC-SHA-256 signature of payload under the current key.
func (kr *Keyring) Sign(payload []byte) ([]byte, error) {
	key, err := kr.doc.Current.bytes()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Verify reports whether sig is a valid HMAC-SHA-256 signature of payload
// under either the current or the previous key, using constant-time
// comparison to avoid timing side-channels on the signature check.
func (kr *Keyring) Verify(payload, sig []byte) (bool, error) {
	current, err := kr.doc.Current.bytes()
	if err != nil {
		return false, err
	}
	if macMatches(current, payload, sig) {
		return true, nil
	}
	if kr.doc.Previous != nil {
		prev, err := kr.doc.Previous.bytes()
		if err != nil {
			return false, err
		}
		if macMatches(prev, payload, sig) {
			return true, nil
		}
	}
	return false, nil
}

func macMatches(key, payload, sig []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	expected := mac.Sum(nil)
	return subtle.ConstantTimeCompare(expected, sig) == 1
}

// MarshalJSON and UnmarshalJSON let a Keyring round-trip through the
// filesystem port's JSON read/write helpers without exposing Document.
func (kr *Keyring) MarshalJSON() ([]byte, error) {
	return json.Marshal(kr.doc)
}

func (kr *Keyring) UnmarshalJSON(b []byte) error {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	kr.doc = doc
	return nil
}
