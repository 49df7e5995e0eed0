package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bapnode.org/internal/correlation"
	"bapnode.org/internal/ids"
	"bapnode.org/internal/obs"
	"bapnode.org/internal/order"
	"bapnode.org/internal/protocol"
	"bapnode.org/internal/stream"
)

// Dispatcher consumes verified callbacks, advances the order aggregate and
// notifies the original requester's session. It is the only code path
// allowed to apply order state transitions, and it applies none before the
// correlation store has matched the callback to a pending outbound action.
type Dispatcher struct {
	pending correlation.Store
	orders  order.Store
	sink    stream.Sink
}

func New(pending correlation.Store, orders order.Store, sink stream.Sink) *Dispatcher {
	return &Dispatcher{pending: pending, orders: orders, sink: sink}
}

// callbackMessage is the slice of the counterparty message the state
// machine needs; the full payload travels to the requester untouched.
type callbackMessage struct {
	Order struct {
		State   string          `json:"state"`
		Quote   json.RawMessage `json:"quote"`
		Payment json.RawMessage `json:"payment"`
	} `json:"order"`
}

// wire order states used by on_status and friends.
var wireStates = map[string]order.Status{
	"Created":     order.StatusCreated,
	"Accepted":    order.StatusAccepted,
	"In-progress": order.StatusInProgress,
	"Completed":   order.StatusCompleted,
	"Cancelled":   order.StatusCancelled,
}

// HandleCallback validates sequencing, applies the state change and pushes
// the outcome. Error blocks are first-class outcomes: they land the
// rejected/terminal state and still complete the sequence.
func (d *Dispatcher) HandleCallback(ctx context.Context, env protocol.Envelope) error {
	if err := env.ValidateCallback(); err != nil {
		return err
	}
	action := env.Context.Action
	reqAction, ok := action.Request()
	if !ok {
		return protocol.ErrUnknownAction
	}

	rec, err := d.pending.MatchPending(ctx, env.Context.TransactionID, env.Context.MessageID, reqAction)
	if err != nil {
		if errors.Is(err, correlation.ErrOutOfSequence) {
			obs.CallbacksTotal.WithLabelValues(string(action), "out_of_sequence").Inc()
			obs.Event("dispatch.out_of_sequence", map[string]any{
				"action":         string(action),
				"transaction_id": env.Context.TransactionID,
				"message_id":     env.Context.MessageID,
			})
		}
		return err
	}

	var msg callbackMessage
	if len(env.Message) > 0 {
		// A malformed message block is tolerated; the raw payload still
		// reaches the requester.
		_ = json.Unmarshal(env.Message, &msg)
	}

	var updated order.Order
	switch action {
	case protocol.ActionOnSearch:
		// Search results feed the catalog pipeline; no order state involved.
	case protocol.ActionOnSelect:
		updated, err = d.applySelect(ctx, env, rec, msg)
	case protocol.ActionOnInit:
		updated, err = d.applyTransition(ctx, env, msg, order.StatusInitialized, order.StatusCancelled)
	case protocol.ActionOnConfirm:
		updated, err = d.applyTransition(ctx, env, msg, order.StatusCreated, order.StatusCancelled)
	case protocol.ActionOnStatus:
		updated, err = d.applyStatus(ctx, env, msg)
	case protocol.ActionOnCancel:
		updated, err = d.applyTransition(ctx, env, msg, order.StatusCancelled, order.StatusCancelled)
	case protocol.ActionOnUpdate:
		updated, err = d.applyUpdate(ctx, env, msg)
	default:
		return protocol.ErrUnknownAction
	}
	if err != nil {
		obs.CallbacksTotal.WithLabelValues(string(action), "storage_error").Inc()
		return err
	}

	obs.CallbacksTotal.WithLabelValues(string(action), "ok").Inc()
	obs.Event("dispatch.applied", map[string]any{
		"action":         string(action),
		"transaction_id": env.Context.TransactionID,
		"status":         string(updated.Status),
		"rejected":       env.Error != nil,
	})

	d.notify(rec, env, updated)
	return nil
}

// applySelect creates (or supersedes) the draft aggregate and lands it on
// the accepted or rejected quote state.
func (d *Dispatcher) applySelect(ctx context.Context, env protocol.Envelope, rec correlation.Record, msg callbackMessage) (order.Order, error) {
	kind := order.KindSaleOrder
	var sent protocol.Envelope
	if len(rec.Payload) > 0 && json.Unmarshal(rec.Payload, &sent) == nil {
		kind = order.KindFromTTL(sent.Context.TTL)
	}

	draft := order.Order{
		ID:          ids.New(),
		ExternalURN: env.Context.TransactionID,
		BapID:       env.Context.BapID,
		BapURI:      env.Context.BapURI,
		BppID:       env.Context.BppID,
		BppURI:      env.Context.BppURI,
		Kind:        kind,
		Status:      order.StatusQuoteRequested,
		Quote:       msg.Order.Quote,
		Requester:   rec.Requester,
	}
	// A re-select on the same transaction restarts the draft.
	if err := d.orders.Supersede(ctx, draft); err != nil {
		return order.Order{}, fmt.Errorf("persist draft: %w", err)
	}

	target := order.StatusQuoteAccepted
	if env.Error != nil {
		target = order.StatusQuoteRejected
	}
	return d.orders.Update(ctx, env.Context.TransactionID, func(o *order.Order) error {
		if !order.CanTransition(o.Status, target) {
			return order.ErrInvalidTransition
		}
		o.Status = target
		return nil
	})
}

// applyTransition moves the aggregate to happy, or to failed when the
// callback carries an error block, merging counterparty data either way.
func (d *Dispatcher) applyTransition(ctx context.Context, env protocol.Envelope, msg callbackMessage, happy, failed order.Status) (order.Order, error) {
	target := happy
	if env.Error != nil {
		target = failed
	}
	return d.orders.Update(ctx, env.Context.TransactionID, func(o *order.Order) error {
		if !order.CanTransition(o.Status, target) {
			return order.ErrInvalidTransition
		}
		o.Status = target
		mergeCounterparty(o, env, msg)
		return nil
	})
}

// applyStatus follows the counterparty-reported order state. Repeating the
// current state is a no-op, not a sequencing error: status polls are
// legitimate even when nothing moved.
func (d *Dispatcher) applyStatus(ctx context.Context, env protocol.Envelope, msg callbackMessage) (order.Order, error) {
	return d.orders.Update(ctx, env.Context.TransactionID, func(o *order.Order) error {
		if env.Error != nil {
			return nil
		}
		target, known := wireStates[msg.Order.State]
		if !known || target == o.Status {
			mergeCounterparty(o, env, msg)
			return nil
		}
		if !order.CanTransition(o.Status, target) {
			return order.ErrInvalidTransition
		}
		o.Status = target
		mergeCounterparty(o, env, msg)
		return nil
	})
}

// applyUpdate merges revised quote/payment data; the status only moves when
// the counterparty reports a legal new state.
func (d *Dispatcher) applyUpdate(ctx context.Context, env protocol.Envelope, msg callbackMessage) (order.Order, error) {
	return d.orders.Update(ctx, env.Context.TransactionID, func(o *order.Order) error {
		if target, known := wireStates[msg.Order.State]; known && target != o.Status {
			if !order.CanTransition(o.Status, target) {
				return order.ErrInvalidTransition
			}
			o.Status = target
		}
		mergeCounterparty(o, env, msg)
		return nil
	})
}

func mergeCounterparty(o *order.Order, env protocol.Envelope, msg callbackMessage) {
	if env.Context.BppID != "" {
		o.BppID = env.Context.BppID
	}
	if env.Context.BppURI != "" {
		o.BppURI = env.Context.BppURI
	}
	if len(msg.Order.Quote) > 0 {
		o.Quote = msg.Order.Quote
	}
	if len(msg.Order.Payment) > 0 {
		o.Payment = msg.Order.Payment
	}
}

// notify pushes the callback outcome to the requester's session. Best
// effort: the sink never fails the dispatch.
func (d *Dispatcher) notify(rec correlation.Record, env protocol.Envelope, updated order.Order) {
	key := stream.CorrelationKey(rec.Requester.UserID, rec.Requester.BusinessID, rec.Requester.DeviceID)
	payload := map[string]any{
		"transaction_id": env.Context.TransactionID,
		"message_id":     env.Context.MessageID,
	}
	if len(env.Message) > 0 {
		payload["message"] = json.RawMessage(env.Message)
	}
	if env.Error != nil {
		payload["error"] = env.Error
	}
	if updated.ID != "" {
		payload["order_status"] = string(updated.Status)
	}
	d.sink.Push(key, env.Context.Action, payload)
}
