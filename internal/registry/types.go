package registry

import (
	"context"
	"errors"
)

// ParticipantType distinguishes the two network roles.
type ParticipantType string

const (
	TypeBAP ParticipantType = "BAP"
	TypeBPP ParticipantType = "BPP"
)

// Ref is the natural key for a counterparty key entry.
type Ref struct {
	SubscriberID string
	Type         ParticipantType
	Domain       string
}

// Key is a cached counterparty entry. Entries are immutable once written;
// the registry stays authoritative and the cache is append-only.
type Key struct {
	SubscriberID     string          `json:"subscriber_id"`
	Type             ParticipantType `json:"type"`
	Domain           string          `json:"domain"`
	SigningPublicKey string          `json:"signing_public_key"`
	EncrPublicKey    string          `json:"encr_public_key"`
	UniqueKeyID      string          `json:"uk_id"`
	SubscriberURL    string          `json:"subscriber_url"`
	RegistryID       string          `json:"br_id"`
}

// Ref returns the natural key of the entry.
func (k Key) Ref() Ref {
	return Ref{SubscriberID: k.SubscriberID, Type: k.Type, Domain: k.Domain}
}

var (
	// ErrNotCached is the local-store miss signal consumed by the cache.
	ErrNotCached = errors.New("counterparty key not cached")
	// ErrUnknownSubscriber means neither the local store nor the remote
	// registry knows the participant.
	ErrUnknownSubscriber = errors.New("invalid subscriber/BPP id")
)

// Store is the local side of the cache.
type Store interface {
	Get(ctx context.Context, ref Ref) (Key, error)
	Put(ctx context.Context, key Key) error
}
