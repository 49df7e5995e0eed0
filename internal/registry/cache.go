package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"bapnode.org/internal/obs"
	"bapnode.org/internal/signing"
)

// GetOrFetch is the cache-aside core: read local, fall back to remote, write
// the remote hit through. Pure over its three collaborators so it stays
// testable with fakes. Duplicate concurrent fills are fine: entries are
// immutable and the local write is last-write-wins.
func GetOrFetch(
	ctx context.Context,
	ref Ref,
	localRead func(context.Context, Ref) (Key, error),
	remoteFetch func(context.Context, Ref) (Key, bool, error),
	localWrite func(context.Context, Key) error,
) (Key, error) {
	key, err := localRead(ctx, ref)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNotCached) {
		return Key{}, err
	}

	key, found, err := remoteFetch(ctx, ref)
	if err != nil {
		return Key{}, fmt.Errorf("registry lookup %s: %w", ref.SubscriberID, err)
	}
	if !found {
		return Key{}, ErrUnknownSubscriber
	}
	if err := localWrite(ctx, key); err != nil {
		// The entry is still usable this request; only the cache fill failed.
		obs.Event("registry.cache_write_failed", map[string]any{
			"subscriber_id": ref.SubscriberID,
			"error":         err.Error(),
		})
	}
	return key, nil
}

// Lookup resolves a counterparty key from the remote registry.
type Lookup interface {
	Lookup(ctx context.Context, ref Ref) (Key, bool, error)
}

// Cache resolves counterparty keys, local store first, remote registry on
// miss, write-through on remote hit.
type Cache struct {
	store  Store
	lookup Lookup
}

// NewCache wires a local store to a remote lookup client.
func NewCache(store Store, lookup Lookup) *Cache {
	return &Cache{store: store, lookup: lookup}
}

// Resolve returns the counterparty key for ref.
func (c *Cache) Resolve(ctx context.Context, ref Ref) (Key, error) {
	return GetOrFetch(ctx, ref, c.store.Get, c.lookup.Lookup, c.store.Put)
}

// SigningKey resolves and decodes the counterparty's Ed25519 signing key.
func (c *Cache) SigningKey(ctx context.Context, ref Ref) (ed25519.PublicKey, error) {
	key, err := c.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	pub, err := signing.DecodePublicKey(key.SigningPublicKey)
	if err != nil {
		return nil, fmt.Errorf("subscriber %s: %w", ref.SubscriberID, err)
	}
	return pub, nil
}
