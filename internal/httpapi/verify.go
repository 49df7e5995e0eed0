package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bapnode.org/internal/obs"
	"bapnode.org/internal/registry"
	"bapnode.org/internal/signing"
)

// withVerification is the verification gateway: it authenticates every
// inbound callback before any handler sees it. The raw body is buffered
// once, hashed for verification, and replayed intact for the JSON decoder
// downstream.
func (a *API) withVerification(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		header, err := signing.ParseHeader(r.Header.Get(authHeader))
		if err != nil {
			if errors.Is(err, signing.ErrMissingHeader) {
				obs.SignatureVerifications.WithLabelValues("missing_header").Inc()
				writeError(w, http.StatusBadRequest, "Authorization missing")
				return
			}
			obs.SignatureVerifications.WithLabelValues("bad_format").Inc()
			writeError(w, http.StatusBadRequest, "invalid signature format")
			return
		}

		// The cache key comes from the body's own claims: the sender's id
		// and the message domain. A signature by some other registry entry
		// does not authenticate these claims.
		var probe struct {
			Context struct {
				Domain string `json:"domain"`
				BppID  string `json:"bpp_id"`
			} `json:"context"`
		}
		_ = json.Unmarshal(body, &probe)
		if probe.Context.BppID == "" || probe.Context.Domain == "" {
			obs.SignatureVerifications.WithLabelValues("unknown_subscriber").Inc()
			writeError(w, http.StatusBadRequest, "invalid subscriber/BPP id")
			return
		}

		ref := registry.Ref{
			SubscriberID: probe.Context.BppID,
			Type:         registry.TypeBPP,
			Domain:       probe.Context.Domain,
		}
		publicKey, err := a.keys.SigningKey(r.Context(), ref)
		if err != nil {
			if errors.Is(err, registry.ErrUnknownSubscriber) || errors.Is(err, signing.ErrInvalidEncoding) {
				obs.SignatureVerifications.WithLabelValues("unknown_subscriber").Inc()
				obs.Event("verify.unknown_subscriber", map[string]any{
					"subscriber_id": ref.SubscriberID,
					"domain":        ref.Domain,
				})
				writeError(w, http.StatusBadRequest, "invalid subscriber/BPP id")
				return
			}
			writeError(w, http.StatusInternalServerError, "registry unavailable")
			return
		}

		if err := signing.Verify(header, body, publicKey); err != nil {
			obs.SignatureVerifications.WithLabelValues("bad_signature").Inc()
			// Enough context to audit an intrusion attempt, nothing that
			// helps forge the next one.
			obs.Event("verify.rejected", map[string]any{
				"subscriber_id": header.SubscriberID,
				"unique_key_id": header.UniqueKeyID,
				"created":       header.Created,
				"expires":       header.Expires,
				"path":          r.URL.Path,
				"ip":            clientIP(r),
			})
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}

		obs.SignatureVerifications.WithLabelValues("ok").Inc()
		next.ServeHTTP(w, r)
	})
}
