package order

import (
	"context"
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusQuoteRequested, StatusQuoteAccepted},
		{StatusQuoteRequested, StatusQuoteRejected},
		{StatusQuoteAccepted, StatusInitialized},
		{StatusInitialized, StatusCreated},
		{StatusCreated, StatusAccepted},
		{StatusAccepted, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusCancelled},
	}
	for _, c := range allowed {
		if !CanTransition(c.from, c.to) {
			t.Errorf("%s -> %s should be allowed", c.from, c.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusQuoteRequested, StatusCreated},
		{StatusQuoteRejected, StatusQuoteAccepted},
		{StatusCompleted, StatusInProgress},
		{StatusCancelled, StatusCreated},
		{StatusCreated, StatusQuoteRequested},
	}
	for _, c := range denied {
		if CanTransition(c.from, c.to) {
			t.Errorf("%s -> %s should be denied", c.from, c.to)
		}
	}

	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() || !StatusQuoteRejected.Terminal() {
		t.Error("terminal statuses misclassified")
	}
	if StatusCreated.Terminal() {
		t.Error("CREATED is not terminal")
	}
}

func TestKindTTL(t *testing.T) {
	if KindSaleOrder.TTL() != "PT30S" {
		t.Fatalf("sale order TTL: %s", KindSaleOrder.TTL())
	}
	if KindPurchaseQuote.TTL() == "PT30S" {
		t.Fatal("purchase quote must not reuse the sale-order TTL")
	}
	if KindFromTTL("PT30S") != KindSaleOrder {
		t.Fatal("PT30S must map to sale order")
	}
	if KindFromTTL("P1D") != KindPurchaseQuote {
		t.Fatal("other TTLs map to purchase quote")
	}
}

func TestMemoryStoreSupersede(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first := Order{ID: "o1", ExternalURN: "txn-1", Status: StatusQuoteAccepted}
	if err := store.Create(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := Order{ID: "o2", ExternalURN: "txn-1", Status: StatusQuoteRequested}
	if err := store.Supersede(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "txn-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "o2" || got.Status != StatusQuoteRequested {
		t.Fatalf("supersede did not replace the draft: %+v", got)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_ = store.Create(ctx, Order{ID: "o1", ExternalURN: "txn-1", Status: StatusInitialized})

	got, err := store.Update(ctx, "txn-1", func(o *Order) error {
		if !CanTransition(o.Status, StatusCreated) {
			return ErrInvalidTransition
		}
		o.Status = StatusCreated
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCreated {
		t.Fatalf("unexpected status %s", got.Status)
	}

	// fn error aborts without writing.
	_, err = store.Update(ctx, "txn-1", func(o *Order) error {
		o.Status = StatusCompleted
		return ErrInvalidTransition
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ = store.Get(ctx, "txn-1")
	if got.Status != StatusCreated {
		t.Fatalf("aborted update must not persist, got %s", got.Status)
	}

	if _, err := store.Update(ctx, "missing", func(o *Order) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
