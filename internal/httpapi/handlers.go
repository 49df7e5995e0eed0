package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"bapnode.org/internal/correlation"
	"bapnode.org/internal/dispatch"
	"bapnode.org/internal/obs"
	"bapnode.org/internal/order"
	"bapnode.org/internal/registry"
	"bapnode.org/internal/signing"
	"bapnode.org/internal/stream"
)

// ReadyProbe checks the node's backing store for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Self is this node's network identity stamped into every outbound context.
type Self struct {
	SubscriberID  string
	SubscriberURI string
	Domain        string
	Country       string
	City          string
	CoreVersion   string
	GatewayURL    string
}

// Sender delivers a signed payload; the retrying gateway client satisfies it.
type Sender interface {
	PostAction(ctx context.Context, action, url string, body []byte, header http.Header) ([]byte, error)
}

// API is the HTTP layer: outbound buyer actions under /buyer, inbound
// callbacks under /callback behind the verification gateway.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	self       Self
	cred       signing.Credential
	keys       *registry.Cache
	pending    correlation.Store
	orders     order.Store
	dispatcher *dispatch.Dispatcher
	hub        *stream.Hub
	sender     Sender
}

func New(
	rp ReadyProbe,
	version string,
	self Self,
	cred signing.Credential,
	keys *registry.Cache,
	pending correlation.Store,
	orders order.Store,
	dispatcher *dispatch.Dispatcher,
	hub *stream.Hub,
	sender Sender,
) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		self:       self,
		cred:       cred,
		keys:       keys,
		pending:    pending,
		orders:     orders,
		dispatcher: dispatcher,
		hub:        hub,
		sender:     sender,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// Outbound buyer actions (session-authenticated).
	buyer := http.NewServeMux()
	buyer.HandleFunc("/buyer/search", a.actionHandler("search"))
	buyer.HandleFunc("/buyer/select", a.actionHandler("select"))
	buyer.HandleFunc("/buyer/init", a.actionHandler("init"))
	buyer.HandleFunc("/buyer/confirm", a.actionHandler("confirm"))
	buyer.HandleFunc("/buyer/status", a.actionHandler("status"))
	buyer.HandleFunc("/buyer/cancel", a.actionHandler("cancel"))
	buyer.HandleFunc("/buyer/update", a.actionHandler("update"))
	buyer.HandleFunc("/buyer/orders/", a.handleGetOrder)
	buyer.HandleFunc("/buyer/notifications", a.Notifications)
	a.mux.Handle("/buyer/", a.withSession(buyer))

	// Inbound callbacks: the only endpoints that may mutate order state,
	// and nothing reaches them unverified.
	callbacks := http.NewServeMux()
	for _, cb := range []string{"on_search", "on_select", "on_init", "on_confirm", "on_status", "on_cancel", "on_update"} {
		callbacks.HandleFunc("/callback/"+cb, a.callbackHandler(cb))
	}
	a.mux.Handle("/callback/", a.withVerification(callbacks))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain for the server.
func (a *API) Handler() http.Handler {
	h := MaxBodyBytes(a.mux, 1<<20)
	h = RateLimit(h, 50, 25)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "bapnode-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          "bapnode-api",
		"subscriber_id": a.self.SubscriberID,
		"domain":        a.self.Domain,
		"time":          time.Now().UTC().Format(time.RFC3339),
		"version":       a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
