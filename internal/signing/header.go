package signing

import (
	"errors"
	"regexp"
	"strconv"
)

// Header is the parsed form of an inbound Authorization header. Ephemeral,
// never persisted.
type Header struct {
	SubscriberID string
	UniqueKeyID  string
	Algorithm    string
	Created      int64
	Expires      int64
	Signature    string
}

var (
	ErrMissingHeader   = errors.New("authorization missing")
	ErrMalformedHeader = errors.New("invalid signature format")
)

// The header grammar is fixed network-wide. Parsing lives here, in one
// place, so handlers never string-match the wire format themselves. The
// space before signature= is optional: some participants emit it, some not.
var headerPattern = regexp.MustCompile(
	`^Signature keyId="([^|"]+)\|([^|"]+)\|([^|"]+)",algorithm="ed25519", created="(\d+)", expires="(\d+)", headers="\(created\) \(expires\) digest", ?signature="(.+)"$`,
)

// ParseHeader validates an Authorization header against the grammar and
// returns its typed form. Failures never leak parser internals.
func ParseHeader(raw string) (Header, error) {
	if raw == "" {
		return Header{}, ErrMissingHeader
	}
	m := headerPattern.FindStringSubmatch(raw)
	if m == nil {
		return Header{}, ErrMalformedHeader
	}
	if m[3] != "ed25519" {
		return Header{}, ErrMalformedHeader
	}
	created, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return Header{}, ErrMalformedHeader
	}
	expires, err := strconv.ParseInt(m[5], 10, 64)
	if err != nil {
		return Header{}, ErrMalformedHeader
	}
	if created > expires {
		return Header{}, ErrMalformedHeader
	}
	return Header{
		SubscriberID: m[1],
		UniqueKeyID:  m[2],
		Algorithm:    m[3],
		Created:      created,
		Expires:      expires,
		Signature:    m[6],
	}, nil
}
