package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultValidity is the signature window applied when the caller does not
// pin explicit created/expires values.
const DefaultValidity = time.Hour

// Digest returns the base64 BLAKE2b-512 digest of the raw body bytes.
func Digest(body []byte) string {
	sum := blake2b.Sum512(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SigningString rebuilds the exact string both sides sign. Byte-exact: the
// counterparty reproduces it from the header's created/expires and its own
// digest of the raw body.
func SigningString(created, expires int64, digest string) string {
	return fmt.Sprintf("(created): %d\n(expires): %d\ndigest: BLAKE-512=%s", created, expires, digest)
}

// Sign produces the Authorization header for an outbound request body.
// created/expires are Unix seconds; pass zeros for the default window.
func Sign(body []byte, cred Credential, created, expires int64) string {
	if created == 0 {
		now := time.Now().UTC()
		created = now.Unix()
		expires = now.Add(DefaultValidity).Unix()
	}
	signingString := SigningString(created, expires, Digest(body))
	sig := ed25519.Sign(cred.PrivateKey, []byte(signingString))
	signature := base64.StdEncoding.EncodeToString(sig)

	// The exact spacing is part of the wire contract; counterparties reject
	// deviations.
	return fmt.Sprintf(
		`Signature keyId="%s|%s|ed25519",algorithm="ed25519", created="%d", expires="%d", headers="(created) (expires) digest",signature="%s"`,
		cred.SubscriberID, cred.UniqueKeyID, created, expires, signature,
	)
}
