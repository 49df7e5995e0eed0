package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bapnode.org/internal/gateway"
)

type countingLookup struct {
	calls int
	key   Key
	found bool
	err   error
}

func (c *countingLookup) Lookup(ctx context.Context, ref Ref) (Key, bool, error) {
	c.calls++
	return c.key, c.found, c.err
}

func testKey() Key {
	return Key{
		SubscriberID:     "seller-app.example.com",
		Type:             TypeBPP,
		Domain:           "nic2004:52110",
		SigningPublicKey: "11qYAYKxCrfVS/7TyWQHOg7hcvPapiMlrwIaaPcHURo=",
		UniqueKeyID:      "bpp-key-7",
		SubscriberURL:    "https://seller-app.example.com/bpp",
		RegistryID:       "br-42",
	}
}

func TestCacheWriteThrough(t *testing.T) {
	key := testKey()
	lookup := &countingLookup{key: key, found: true}
	cache := NewCache(NewMemStore(), lookup)
	ctx := context.Background()

	got, err := cache.Resolve(ctx, key.Ref())
	if err != nil {
		t.Fatal(err)
	}
	if got != key {
		t.Fatalf("unexpected key: %+v", got)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected one remote call, got %d", lookup.calls)
	}

	// Second resolve is served locally.
	if _, err := cache.Resolve(ctx, key.Ref()); err != nil {
		t.Fatal(err)
	}
	if lookup.calls != 1 {
		t.Fatalf("expected no second remote call, got %d", lookup.calls)
	}
}

func TestCacheRemoteMiss(t *testing.T) {
	lookup := &countingLookup{found: false}
	cache := NewCache(NewMemStore(), lookup)

	_, err := cache.Resolve(context.Background(), Ref{SubscriberID: "ghost", Type: TypeBPP, Domain: "d"})
	if !errors.Is(err, ErrUnknownSubscriber) {
		t.Fatalf("expected ErrUnknownSubscriber, got %v", err)
	}
}

func TestCacheRemoteError(t *testing.T) {
	lookup := &countingLookup{err: errors.New("registry down")}
	cache := NewCache(NewMemStore(), lookup)

	_, err := cache.Resolve(context.Background(), Ref{SubscriberID: "x", Type: TypeBPP, Domain: "d"})
	if err == nil || errors.Is(err, ErrUnknownSubscriber) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestCacheSigningKeyDecode(t *testing.T) {
	key := testKey()
	store := NewMemStore()
	if err := store.Put(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	cache := NewCache(store, &countingLookup{})

	pub, err := cache.SigningKey(context.Background(), key.Ref())
	if err != nil {
		t.Fatal(err)
	}
	if len(pub) != 32 {
		t.Fatalf("unexpected key length %d", len(pub))
	}
}

func TestClientLookup(t *testing.T) {
	record := map[string]any{
		"br_id":              "br-42",
		"subscriber_id":      "seller-app.example.com",
		"signing_public_key": "cGsK",
		"subscriber_url":     "https://seller-app.example.com/bpp",
		"encr_public_key":    "ZWsK",
		"uk_id":              "bpp-key-7",
		"domain":             "nic2004:52110",
		"type":               "BPP",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lookup" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode lookup request: %v", err)
		}
		if req["subscriber_id"] != "seller-app.example.com" || req["type"] != "BPP" {
			t.Errorf("unexpected lookup request: %v", req)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{record})
	}))
	defer srv.Close()

	client := NewClient(gateway.New(gateway.Policy{}), srv.URL)
	key, found, err := client.Lookup(context.Background(), Ref{
		SubscriberID: "seller-app.example.com",
		Type:         TypeBPP,
		Domain:       "nic2004:52110",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected a record")
	}
	if key.RegistryID != "br-42" || key.UniqueKeyID != "bpp-key-7" || key.SubscriberURL != "https://seller-app.example.com/bpp" {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestClientLookupEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	client := NewClient(gateway.New(gateway.Policy{}), srv.URL)
	_, found, err := client.Lookup(context.Background(), Ref{SubscriberID: "ghost", Type: TypeBPP, Domain: "d"})
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected no record")
	}
}
