package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Credential is this node's own signing identity. Loaded once at startup and
// immutable afterwards. The private key is never logged.
type Credential struct {
	SubscriberID string
	UniqueKeyID  string
	PrivateKey   ed25519.PrivateKey
}

var ErrKeyMaterial = errors.New("malformed signing key material")

// LoadCredential parses the base64-encoded Ed25519 private key. Both the
// 64-byte expanded form and the 32-byte seed are accepted. A bad key is a
// fatal configuration error for the process, not a per-request condition.
func LoadCredential(subscriberID, uniqueKeyID, privateKeyB64 string) (Credential, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	uniqueKeyID = strings.TrimSpace(uniqueKeyID)
	if subscriberID == "" || uniqueKeyID == "" {
		return Credential{}, errors.New("subscriber id and unique key id are required")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(privateKeyB64))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	default:
		return Credential{}, fmt.Errorf("%w: unexpected length %d", ErrKeyMaterial, len(raw))
	}
	return Credential{
		SubscriberID: subscriberID,
		UniqueKeyID:  uniqueKeyID,
		PrivateKey:   key,
	}, nil
}

// PublicKey returns the verification half of the credential.
func (c Credential) PublicKey() ed25519.PublicKey {
	return c.PrivateKey.Public().(ed25519.PublicKey)
}
