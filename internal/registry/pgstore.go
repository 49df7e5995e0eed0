package registry

import (
	"context"
	"database/sql"
	"errors"
)

// PGStore keeps counterparty keys in the relational store so every node
// instance shares one cache.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, ref Ref) (Key, error) {
	var key Key
	err := s.db.QueryRowContext(ctx, `
		select subscriber_id, participant_type, domain, signing_public_key,
		       encr_public_key, unique_key_id, subscriber_url, registry_id
		from counterparty_keys
		where subscriber_id=$1 and participant_type=$2 and domain=$3
	`, ref.SubscriberID, string(ref.Type), ref.Domain).Scan(
		&key.SubscriberID, &key.Type, &key.Domain, &key.SigningPublicKey,
		&key.EncrPublicKey, &key.UniqueKeyID, &key.SubscriberURL, &key.RegistryID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, ErrNotCached
	}
	if err != nil {
		return Key{}, err
	}
	return key, nil
}

// Put writes an entry through to the store. Concurrent fills for the same
// ref race benignly: entries are immutable, so the conflict is a no-op.
func (s *PGStore) Put(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, `
		insert into counterparty_keys(
			subscriber_id, participant_type, domain, signing_public_key,
			encr_public_key, unique_key_id, subscriber_url, registry_id, created_on
		) values ($1,$2,$3,$4,$5,$6,$7,$8, now())
		on conflict (subscriber_id, participant_type, domain) do nothing
	`, key.SubscriberID, string(key.Type), key.Domain, key.SigningPublicKey,
		key.EncrPublicKey, key.UniqueKeyID, key.SubscriberURL, key.RegistryID)
	return err
}
