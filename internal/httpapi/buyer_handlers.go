package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"bapnode.org/internal/auth"
	"bapnode.org/internal/correlation"
	"bapnode.org/internal/order"
	"bapnode.org/internal/protocol"
	"bapnode.org/internal/signing"
	"bapnode.org/internal/stream"
)

// actionRequest is the buyer-facing request for any outbound action. The
// message block is the domain payload forwarded to the counterparty.
type actionRequest struct {
	TransactionID string          `json:"transaction_id,omitempty"`
	BppID         string          `json:"bpp_id,omitempty"`
	BppURI        string          `json:"bpp_uri,omitempty"`
	Kind          string          `json:"kind,omitempty"` // select only: sale_order | purchase_quote
	Message       json.RawMessage `json:"message"`
}

type actionResponse struct {
	TransactionID string               `json:"transaction_id"`
	MessageID     string               `json:"message_id"`
	Ack           protocol.AckResponse `json:"ack"`
}

func (a *API) actionHandler(name string) http.HandlerFunc {
	action := protocol.Action(name)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing session")
			return
		}

		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
		if len(req.Message) == 0 {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}

		transactionID := strings.TrimSpace(req.TransactionID)
		if action == protocol.ActionSearch {
			if transactionID == "" {
				transactionID = uuid.NewString()
			}
		} else {
			if transactionID == "" {
				writeError(w, http.StatusBadRequest, "transaction_id is required")
				return
			}
			if req.BppURI == "" {
				writeError(w, http.StatusBadRequest, "bpp_uri is required")
				return
			}
		}
		messageID := uuid.NewString()

		env := protocol.Envelope{
			Context: protocol.Context{
				Domain:        a.self.Domain,
				Country:       a.self.Country,
				City:          a.self.City,
				Action:        action,
				CoreVersion:   a.self.CoreVersion,
				BapID:         a.self.SubscriberID,
				BapURI:        a.self.SubscriberURI,
				BppID:         req.BppID,
				BppURI:        req.BppURI,
				TransactionID: transactionID,
				MessageID:     messageID,
				Timestamp:     protocol.Timestamp(time.Now()),
				TTL:           ttlFor(action, req.Kind),
			},
			Message: req.Message,
		}
		body, err := json.Marshal(env)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if err := a.pending.SavePending(r.Context(), correlation.Record{
			TransactionID: transactionID,
			MessageID:     messageID,
			Action:        action,
			Requester: correlation.Requester{
				UserID:     principal.UserID,
				BusinessID: principal.BusinessID,
				DeviceID:   principal.DeviceID,
			},
			Payload: body,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, "storage unavailable")
			return
		}

		ack, err := a.deliver(r.Context(), action, req.BppURI, body)
		if err != nil {
			// The pending record stays: a late legitimate callback can still
			// be matched.
			writeError(w, http.StatusBadGateway, "delivery failed")
			return
		}

		writeJSON(w, http.StatusAccepted, actionResponse{
			TransactionID: transactionID,
			MessageID:     messageID,
			Ack:           ack,
		})
	}
}

// deliver signs the payload and sends it to the counterparty, or to the
// network gateway for search (discovery has no counterparty yet).
func (a *API) deliver(ctx context.Context, action protocol.Action, bppURI string, body []byte) (protocol.AckResponse, error) {
	base := a.self.GatewayURL
	if action != protocol.ActionSearch {
		base = strings.TrimRight(bppURI, "/")
	}
	url := base + "/" + string(action)

	header := http.Header{}
	header.Set(authHeader, signing.Sign(body, a.cred, 0, 0))

	resp, err := a.sender.PostAction(ctx, string(action), url, body, header)
	if err != nil {
		return protocol.AckResponse{}, err
	}

	var ack protocol.AckResponse
	if err := json.Unmarshal(resp, &ack); err != nil {
		// A counterparty answering garbage is a rejection, not a retry case.
		return protocol.AckResponse{}, err
	}
	return ack, nil
}

func ttlFor(action protocol.Action, kind string) string {
	if action != protocol.ActionSelect {
		return ""
	}
	switch kind {
	case "purchase_quote":
		return order.KindPurchaseQuote.TTL()
	default:
		return order.KindSaleOrder.TTL()
	}
}

// handleGetOrder serves the order aggregate for a transaction id, scoped to
// the requesting session.
func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}
	urn := strings.TrimPrefix(r.URL.Path, "/buyer/orders/")
	if urn == "" {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	o, err := a.orders.Get(r.Context(), urn)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if o.Requester.UserID != principal.UserID {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Notifications streams the session's pushes over SSE until the client
// disconnects.
func (a *API) Notifications(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	key := stream.CorrelationKey(principal.UserID, principal.BusinessID, principal.DeviceID)
	ch := a.hub.Subscribe(ctx, key)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for n := range ch {
		payload, err := json.Marshal(n)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
