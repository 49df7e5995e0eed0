package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bapnode.org/internal/auth"
	"bapnode.org/internal/correlation"
	"bapnode.org/internal/dispatch"
	"bapnode.org/internal/order"
	"bapnode.org/internal/protocol"
	"bapnode.org/internal/registry"
	"bapnode.org/internal/signing"
	"bapnode.org/internal/stream"
)

const (
	// RFC 8032 test key; counterpart of the signing package fixture.
	bppSeedB64 = "nWGxne/9WmC6hEr0kuwsxERJxWl7MmkZcDusAxyuf2A="
	bppPubB64  = "11qYAYKxCrfVS/7TyWQHOg7hcvPapiMlrwIaaPcHURo="
)

type staticLookup struct {
	key   registry.Key
	found bool
}

func (l staticLookup) Lookup(ctx context.Context, ref registry.Ref) (registry.Key, bool, error) {
	return l.key, l.found, nil
}

type fakeSender struct {
	lastURL    string
	lastBody   []byte
	lastHeader http.Header
	resp       []byte
	err        error
}

func (s *fakeSender) PostAction(ctx context.Context, action, url string, body []byte, header http.Header) ([]byte, error) {
	s.lastURL = url
	s.lastBody = body
	s.lastHeader = header
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

type testNode struct {
	api     *API
	pending *correlation.Memory
	orders  *order.Memory
	sender  *fakeSender
	bppCred signing.Credential
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	bppCred, err := signing.LoadCredential("seller-app.example.com", "bpp-key-7", bppSeedB64)
	if err != nil {
		t.Fatal(err)
	}
	bapCred, err := signing.LoadCredential("buyer-app.example.org", "bap-key-1", bppSeedB64)
	if err != nil {
		t.Fatal(err)
	}

	keyStore := registry.NewMemStore()
	_ = keyStore.Put(context.Background(), registry.Key{
		SubscriberID:     "seller-app.example.com",
		Type:             registry.TypeBPP,
		Domain:           "nic2004:52110",
		SigningPublicKey: bppPubB64,
		UniqueKeyID:      "bpp-key-7",
		SubscriberURL:    "https://seller-app.example.com/bpp",
	})
	keys := registry.NewCache(keyStore, staticLookup{})

	pending := correlation.NewMemory()
	orders := order.NewMemory()
	hub := stream.NewHub()
	dispatcher := dispatch.New(pending, orders, hub)
	sender := &fakeSender{resp: mustJSON(t, protocol.NewAck())}

	self := Self{
		SubscriberID:  "buyer-app.example.org",
		SubscriberURI: "https://buyer-app.example.org/buyer",
		Domain:        "nic2004:52110",
		Country:       "IND",
		City:          "std:080",
		CoreVersion:   "1.1.0",
		GatewayURL:    "https://gateway.example.net",
	}

	api := New(ReadyProbe{}, "test", self, bapCred, keys, pending, orders, dispatcher, hub, sender)
	return &testNode{api: api, pending: pending, orders: orders, sender: sender, bppCred: bppCred}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (n *testNode) signedCallback(t *testing.T, env protocol.Envelope) *http.Request {
	t.Helper()
	body := mustJSON(t, env)
	req := httptest.NewRequest(http.MethodPost, "/callback/"+string(env.Context.Action), bytes.NewReader(body))
	req.Header.Set("Authorization", signing.Sign(body, n.bppCred, 0, 0))
	return req
}

func selectCallbackEnv(txn, msg string) protocol.Envelope {
	return protocol.Envelope{
		Context: protocol.Context{
			Domain:        "nic2004:52110",
			Action:        protocol.ActionOnSelect,
			CoreVersion:   "1.1.0",
			BapID:         "buyer-app.example.org",
			BapURI:        "https://buyer-app.example.org/buyer",
			BppID:         "seller-app.example.com",
			BppURI:        "https://seller-app.example.com/bpp",
			TransactionID: txn,
			MessageID:     msg,
		},
		Message: json.RawMessage(`{"order":{"quote":{"price":{"value":"150"}}}}`),
	}
}

func (n *testNode) savePending(t *testing.T, txn, msg string, action protocol.Action) {
	t.Helper()
	err := n.pending.SavePending(context.Background(), correlation.Record{
		TransactionID: txn,
		MessageID:     msg,
		Action:        action,
		Requester:     correlation.Requester{UserID: "u1", BusinessID: "b1", DeviceID: "d1"},
		Payload:       []byte(`{"context":{"ttl":"PT30S"}}`),
	})
	if err != nil {
		t.Fatal(err)
	}
}

// --- Verification gateway ---

func TestCallbackMissingAuthorization(t *testing.T) {
	n := newTestNode(t)
	body := mustJSON(t, selectCallbackEnv("txn-1", "msg-1"))
	req := httptest.NewRequest(http.MethodPost, "/callback/on_select", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Authorization missing") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestCallbackMalformedAuthorization(t *testing.T) {
	n := newTestNode(t)
	body := mustJSON(t, selectCallbackEnv("txn-1", "msg-1"))
	req := httptest.NewRequest(http.MethodPost, "/callback/on_select", bytes.NewReader(body))
	req.Header.Set("Authorization", "Signature garbage")
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid signature format") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestCallbackUnknownSubscriber(t *testing.T) {
	n := newTestNode(t)
	env := selectCallbackEnv("txn-1", "msg-1")
	env.Context.BppID = "impostor.example.net"
	req := n.signedCallback(t, env)
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid subscriber/BPP id") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestCallbackBadSignature(t *testing.T) {
	n := newTestNode(t)
	env := selectCallbackEnv("txn-1", "msg-1")
	body := mustJSON(t, env)
	header := signing.Sign(body, n.bppCred, 0, 0)

	// Deliver a different body under the same signature.
	env.Message = json.RawMessage(`{"order":{"quote":{"price":{"value":"1"}}}}`)
	tampered := mustJSON(t, env)
	req := httptest.NewRequest(http.MethodPost, "/callback/on_select", bytes.NewReader(tampered))
	req.Header.Set("Authorization", header)
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid signature") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

// --- Sequencing and state ---

func TestVerifiedCallbackAdvancesOrder(t *testing.T) {
	n := newTestNode(t)
	n.savePending(t, "txn-1", "msg-1", protocol.ActionSelect)

	req := n.signedCallback(t, selectCallbackEnv("txn-1", "msg-1"))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ack protocol.AckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Message.Ack.Status != "ACK" {
		t.Fatalf("expected ACK, got %+v", ack)
	}

	o, err := n.orders.Get(context.Background(), "txn-1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != order.StatusQuoteAccepted {
		t.Fatalf("expected QUOTE_ACCEPTED, got %s", o.Status)
	}
}

func TestStaleCallbackNacked(t *testing.T) {
	n := newTestNode(t)
	// Valid signature, but no select was ever sent for this pair.
	req := n.signedCallback(t, selectCallbackEnv("txn-ghost", "msg-ghost"))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "response out of sequence") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "NACK") {
		t.Fatalf("expected NACK receipt: %s", rr.Body.String())
	}
}

func TestCallbackEndpointActionMismatch(t *testing.T) {
	n := newTestNode(t)
	n.savePending(t, "txn-1", "msg-1", protocol.ActionSelect)

	env := selectCallbackEnv("txn-1", "msg-1")
	body := mustJSON(t, env)
	req := httptest.NewRequest(http.MethodPost, "/callback/on_confirm", bytes.NewReader(body))
	req.Header.Set("Authorization", signing.Sign(body, n.bppCred, 0, 0))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

// --- Buyer actions ---

func sessionToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateToken("u1", "b1", "d1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestBuyerSelectSignsAndPersists(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "test-secret")
	auth.ResetSecretCache()
	t.Cleanup(auth.ResetSecretCache)

	n := newTestNode(t)
	body := `{"bpp_id":"seller-app.example.com","bpp_uri":"https://seller-app.example.com/bpp","transaction_id":"txn-9","kind":"sale_order","message":{"order":{"items":[{"id":"i1"}]}}}`
	req := httptest.NewRequest(http.MethodPost, "/buyer/select", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+sessionToken(t))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp actionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TransactionID != "txn-9" || resp.MessageID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Delivered to the BPP with a parseable signature over the exact bytes.
	if n.sender.lastURL != "https://seller-app.example.com/bpp/select" {
		t.Fatalf("unexpected destination %s", n.sender.lastURL)
	}
	h, err := signing.ParseHeader(n.sender.lastHeader.Get("Authorization"))
	if err != nil {
		t.Fatalf("outbound header unparseable: %v", err)
	}
	if h.SubscriberID != "buyer-app.example.org" {
		t.Fatalf("unexpected signer %s", h.SubscriberID)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(n.sender.lastBody, &env); err != nil {
		t.Fatal(err)
	}
	if env.Context.TTL != "PT30S" {
		t.Fatalf("sale order select must carry PT30S, got %q", env.Context.TTL)
	}

	// Pending record saved under the same correlation key.
	rec, err := n.pending.MatchPending(context.Background(), "txn-9", resp.MessageID, protocol.ActionSelect)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Requester.UserID != "u1" || rec.Requester.DeviceID != "d1" {
		t.Fatalf("unexpected requester: %+v", rec.Requester)
	}
}

func TestBuyerSearchGoesToGateway(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "test-secret")
	auth.ResetSecretCache()
	t.Cleanup(auth.ResetSecretCache)

	n := newTestNode(t)
	req := httptest.NewRequest(http.MethodPost, "/buyer/search", strings.NewReader(`{"message":{"intent":{"item":{"descriptor":{"name":"tea"}}}}}`))
	req.Header.Set("Authorization", "Bearer "+sessionToken(t))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if n.sender.lastURL != "https://gateway.example.net/search" {
		t.Fatalf("search must route to the gateway, got %s", n.sender.lastURL)
	}
}

func TestBuyerActionRequiresSession(t *testing.T) {
	n := newTestNode(t)
	req := httptest.NewRequest(http.MethodPost, "/buyer/search", strings.NewReader(`{"message":{}}`))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestBuyerDeliveryFailureSurfaced(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "test-secret")
	auth.ResetSecretCache()
	t.Cleanup(auth.ResetSecretCache)

	n := newTestNode(t)
	n.sender.err = errors.New("all attempts exhausted")
	body := `{"bpp_uri":"https://seller-app.example.com/bpp","transaction_id":"txn-9","message":{"order":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/buyer/confirm", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+sessionToken(t))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}

	// The pending record survives a failed delivery: a late legitimate
	// callback can still be matched.
	var env protocol.Envelope
	if err := json.Unmarshal(n.sender.lastBody, &env); err != nil {
		t.Fatal(err)
	}
	if _, err := n.pending.MatchPending(context.Background(), "txn-9", env.Context.MessageID, protocol.ActionConfirm); err != nil {
		t.Fatalf("pending record must be left in place after delivery failure: %v", err)
	}
}

// --- Misc ---

func TestHealthz(t *testing.T) {
	n := newTestNode(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestGetOrderScopedToSession(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "test-secret")
	auth.ResetSecretCache()
	t.Cleanup(auth.ResetSecretCache)

	n := newTestNode(t)
	_ = n.orders.Create(context.Background(), order.Order{
		ID:          "o1",
		ExternalURN: "txn-1",
		Status:      order.StatusCreated,
		Requester:   correlation.Requester{UserID: "someone-else"},
	})

	req := httptest.NewRequest(http.MethodGet, "/buyer/orders/txn-1", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken(t))
	rr := httptest.NewRecorder()
	n.api.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign order must read as missing, got %d", rr.Code)
	}
}
