package order

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PG persists order aggregates in Postgres. Writes to one transaction id
// are serialized with a row lock inside a DB transaction, so concurrent
// callbacks for the same transaction apply their state changes one at a
// time.
type PG struct {
	db *sql.DB
}

var _ Store = (*PG)(nil)

func NewPG(db *sql.DB) *PG {
	return &PG{db: db}
}

const orderColumns = `
	id, external_urn, bap_id, bap_uri, bpp_id, bpp_uri, kind, status,
	quote, payment, user_id, business_id, device_id, created_at, updated_at`

func (s *PG) Create(ctx context.Context, o Order) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into orders(`+orderColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, o.ID, o.ExternalURN, o.BapID, o.BapURI, o.BppID, o.BppURI,
		string(o.Kind), string(o.Status), nullBytes(o.Quote), nullBytes(o.Payment),
		o.Requester.UserID, o.Requester.BusinessID, o.Requester.DeviceID,
		o.CreatedAt, o.UpdatedAt)
	return err
}

// Supersede deletes any prior draft for the transaction and inserts the new
// aggregate in one DB transaction.
func (s *PG) Supersede(ctx context.Context, o Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from orders where external_urn=$1`, o.ExternalURN); err != nil {
		return err
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		insert into orders(`+orderColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, o.ID, o.ExternalURN, o.BapID, o.BapURI, o.BppID, o.BppURI,
		string(o.Kind), string(o.Status), nullBytes(o.Quote), nullBytes(o.Payment),
		o.Requester.UserID, o.Requester.BusinessID, o.Requester.DeviceID,
		o.CreatedAt, o.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PG) Get(ctx context.Context, externalURN string) (Order, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+orderColumns+` from orders where external_urn=$1
	`, externalURN)
	return scanOrder(row)
}

func (s *PG) Update(ctx context.Context, externalURN string, fn func(*Order) error) (Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+orderColumns+` from orders where external_urn=$1 for update
	`, externalURN)
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, err
	}

	if err := fn(&o); err != nil {
		return Order{}, err
	}
	o.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		update orders
		set bpp_id=$2, bpp_uri=$3, kind=$4, status=$5, quote=$6, payment=$7, updated_at=$8
		where external_urn=$1
	`, externalURN, o.BppID, o.BppURI, string(o.Kind), string(o.Status),
		nullBytes(o.Quote), nullBytes(o.Payment), o.UpdatedAt); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return Order{}, err
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var o Order
	var kind, status string
	var quote, payment []byte
	err := row.Scan(
		&o.ID, &o.ExternalURN, &o.BapID, &o.BapURI, &o.BppID, &o.BppURI,
		&kind, &status, &quote, &payment,
		&o.Requester.UserID, &o.Requester.BusinessID, &o.Requester.DeviceID,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Kind = Kind(kind)
	o.Status = Status(status)
	o.Quote = quote
	o.Payment = payment
	return o, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
