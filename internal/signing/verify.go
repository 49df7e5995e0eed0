package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidEncoding  = errors.New("invalid signature encoding")
)

// Verify checks an inbound signature against the raw body bytes and the
// sender's public key. The signing string is rebuilt from the header's own
// created/expires values, so any mutation of body, window, or signature
// fails the check.
func Verify(h Header, body []byte, publicKey ed25519.PublicKey) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return ErrInvalidEncoding
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(h.Signature))
	if err != nil {
		return ErrInvalidEncoding
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrInvalidEncoding
	}
	signingString := SigningString(h.Created, h.Expires, Digest(body))
	if !ed25519.Verify(publicKey, []byte(signingString), sig) {
		return ErrInvalidSignature
	}
	return nil
}

// DecodePublicKey parses a base64 Ed25519 public key as stored in the
// registry.
func DecodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidEncoding
	}
	return ed25519.PublicKey(raw), nil
}
