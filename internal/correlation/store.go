package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bapnode.org/internal/protocol"
)

// Requester identifies who asked for an outbound action; callbacks are
// routed back to this composite identity.
type Requester struct {
	UserID     string `json:"user_id"`
	BusinessID string `json:"business_id"`
	DeviceID   string `json:"device_id"`
}

// Record is one pending outbound action. Created at send time, never
// mutated; read-matched (not deleted) when the callback arrives so replays
// stay auditable.
type Record struct {
	TransactionID string
	MessageID     string
	Action        protocol.Action
	Requester     Requester
	Payload       json.RawMessage
	CreatedOn     time.Time
}

// ErrOutOfSequence signals a callback with no matching pending action:
// forged, unsolicited, stale, or duplicate. Handlers must fail closed on it.
var ErrOutOfSequence = errors.New("response out of sequence")

// Store persists pending action records.
//
// SavePending is idempotent on (transaction_id, message_id, action):
// repeated sends are not an error and never create a second row.
// MatchPending returns ErrOutOfSequence when no record exists.
type Store interface {
	SavePending(ctx context.Context, rec Record) error
	MatchPending(ctx context.Context, transactionID, messageID string, action protocol.Action) (Record, error)
}
