package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"bapnode.org/internal/correlation"
	"bapnode.org/internal/order"
	"bapnode.org/internal/protocol"
)

// callbackHandler mounts one on_* endpoint. The envelope reaching it has
// already passed the verification gateway; what remains is sequencing and
// state.
func (a *API) callbackHandler(name string) http.HandlerFunc {
	action := protocol.Action(name)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		var env protocol.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			writeJSON(w, http.StatusBadRequest, protocol.NewNack("30016", "malformed callback body"))
			return
		}
		if env.Context.Action != action {
			writeJSON(w, http.StatusBadRequest, protocol.NewNack("30016", "context action does not match endpoint"))
			return
		}

		if err := a.dispatcher.HandleCallback(r.Context(), env); err != nil {
			switch {
			case errors.Is(err, correlation.ErrOutOfSequence),
				errors.Is(err, order.ErrInvalidTransition),
				errors.Is(err, order.ErrNotFound):
				// Distinct from authentication failure so operators can tell
				// attack traffic from duplicate-delivery noise.
				writeJSON(w, http.StatusBadRequest, protocol.NewNack("40001", "response out of sequence"))
			case errors.Is(err, protocol.ErrMissingContext),
				errors.Is(err, protocol.ErrUnknownAction):
				writeJSON(w, http.StatusBadRequest, protocol.NewNack("30016", err.Error()))
			default:
				writeJSON(w, http.StatusInternalServerError, protocol.NewNack("50001", "internal error"))
			}
			return
		}

		writeJSON(w, http.StatusOK, protocol.NewAck())
	}
}
