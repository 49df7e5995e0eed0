package correlation

import (
	"context"
	"sync"
	"time"

	"bapnode.org/internal/protocol"
)

type recordKey struct {
	transactionID string
	messageID     string
	action        protocol.Action
}

// Memory is the in-memory store twin used by tests and the dispatcher's
// unit tests.
type Memory struct {
	mu   sync.RWMutex
	recs map[recordKey]Record
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{recs: make(map[recordKey]Record)}
}

func (m *Memory) SavePending(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{rec.TransactionID, rec.MessageID, rec.Action}
	if _, exists := m.recs[key]; exists {
		return nil
	}
	if rec.CreatedOn.IsZero() {
		rec.CreatedOn = time.Now().UTC()
	}
	m.recs[key] = rec
	return nil
}

func (m *Memory) MatchPending(ctx context.Context, transactionID, messageID string, action protocol.Action) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[recordKey{transactionID, messageID, action}]
	if !ok {
		return Record{}, ErrOutOfSequence
	}
	return rec, nil
}
