package correlation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bapnode.org/internal/ids"
	"bapnode.org/internal/protocol"
)

// PG persists pending actions in Postgres. The natural-key unique index
// makes SavePending idempotent without any read-before-write.
type PG struct {
	db *sql.DB
}

var _ Store = (*PG)(nil)

func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

func (s *PG) SavePending(ctx context.Context, rec Record) error {
	created := rec.CreatedOn
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into pending_actions(
			id, transaction_id, message_id, action,
			user_id, business_id, device_id, payload, created_on
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (transaction_id, message_id, action) do nothing
	`, ids.New(), rec.TransactionID, rec.MessageID, string(rec.Action),
		rec.Requester.UserID, rec.Requester.BusinessID, rec.Requester.DeviceID,
		[]byte(rec.Payload), created)
	return err
}

func (s *PG) MatchPending(ctx context.Context, transactionID, messageID string, action protocol.Action) (Record, error) {
	rec := Record{
		TransactionID: transactionID,
		MessageID:     messageID,
		Action:        action,
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		select user_id, business_id, device_id, payload, created_on
		from pending_actions
		where transaction_id=$1 and message_id=$2 and action=$3
	`, transactionID, messageID, string(action)).Scan(
		&rec.Requester.UserID, &rec.Requester.BusinessID, &rec.Requester.DeviceID,
		&payload, &rec.CreatedOn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrOutOfSequence
	}
	if err != nil {
		return Record{}, err
	}
	rec.Payload = payload
	return rec, nil
}
