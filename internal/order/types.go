package order

import (
	"encoding/json"
	"errors"
	"time"

	"bapnode.org/internal/correlation"
)

// Status is the order/quote aggregate state. Transitions happen only in the
// callback dispatcher, and only after the correlation store matched the
// inbound callback to a pending outbound action.
type Status string

const (
	StatusQuoteRequested Status = "QUOTE_REQUESTED"
	StatusQuoteAccepted  Status = "QUOTE_ACCEPTED"
	StatusQuoteRejected  Status = "QUOTE_REJECTED"
	StatusInitialized    Status = "INITIALIZED"
	StatusCreated        Status = "CREATED"
	StatusAccepted       Status = "ACCEPTED"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusQuoteRequested: {StatusQuoteAccepted, StatusQuoteRejected},
	StatusQuoteAccepted:  {StatusInitialized, StatusCancelled},
	StatusInitialized:    {StatusCreated, StatusCancelled},
	StatusCreated:        {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Kind makes the select-order overload explicit. The original network
// signalled "sale order" vs "request for quote" by whether the select TTL
// equalled PT30S; here the caller states the kind and the wire TTL derives
// from it.
type Kind string

const (
	KindSaleOrder     Kind = "SALE_ORDER"
	KindPurchaseQuote Kind = "PURCHASE_QUOTE"
)

// saleOrderTTL is the fixed TTL counterparties use to recognise a sale order.
const saleOrderTTL = "PT30S"

// TTL returns the context TTL to put on the wire for a select of this kind.
func (k Kind) TTL() string {
	if k == KindPurchaseQuote {
		return "P1D"
	}
	return saleOrderTTL
}

// KindFromTTL recovers the kind a counterparty meant by the select TTL.
func KindFromTTL(ttl string) Kind {
	if ttl == saleOrderTTL || ttl == "" {
		return KindSaleOrder
	}
	return KindPurchaseQuote
}

// Order is the order/quote aggregate. ExternalURN carries the protocol
// transaction id. Cancellation is a status transition, never a row delete;
// the one exception is a re-select on the same transaction, which
// supersedes (deletes and recreates) the prior draft.
type Order struct {
	ID          string                `json:"id"`
	ExternalURN string                `json:"external_urn"`
	BapID       string                `json:"bap_id"`
	BapURI      string                `json:"bap_uri"`
	BppID       string                `json:"bpp_id"`
	BppURI      string                `json:"bpp_uri"`
	Kind        Kind                  `json:"kind"`
	Status      Status                `json:"status"`
	Quote       json.RawMessage       `json:"quote,omitempty"`
	Payment     json.RawMessage       `json:"payment,omitempty"`
	Requester   correlation.Requester `json:"requester"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)
