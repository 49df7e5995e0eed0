package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Action identifies a protocol operation on the wire. Outbound requests use
// the bare form ("select"); the asynchronous answer from the counterparty
// uses the callback form ("on_select").
type Action string

const (
	ActionSearch  Action = "search"
	ActionSelect  Action = "select"
	ActionInit    Action = "init"
	ActionConfirm Action = "confirm"
	ActionStatus  Action = "status"
	ActionCancel  Action = "cancel"
	ActionUpdate  Action = "update"

	ActionOnSearch  Action = "on_search"
	ActionOnSelect  Action = "on_select"
	ActionOnInit    Action = "on_init"
	ActionOnConfirm Action = "on_confirm"
	ActionOnStatus  Action = "on_status"
	ActionOnCancel  Action = "on_cancel"
	ActionOnUpdate  Action = "on_update"
)

var callbackOf = map[Action]Action{
	ActionSearch:  ActionOnSearch,
	ActionSelect:  ActionOnSelect,
	ActionInit:    ActionOnInit,
	ActionConfirm: ActionOnConfirm,
	ActionStatus:  ActionOnStatus,
	ActionCancel:  ActionOnCancel,
	ActionUpdate:  ActionOnUpdate,
}

var requestOf = func() map[Action]Action {
	m := make(map[Action]Action, len(callbackOf))
	for req, cb := range callbackOf {
		m[cb] = req
	}
	return m
}()

// Callback returns the callback action answering a request action.
func (a Action) Callback() (Action, bool) {
	cb, ok := callbackOf[a]
	return cb, ok
}

// Request returns the request action a callback answers.
func (a Action) Request() (Action, bool) {
	req, ok := requestOf[a]
	return req, ok
}

// IsCallback reports whether the action is an on_* form.
func (a Action) IsCallback() bool {
	_, ok := requestOf[a]
	return ok
}

// Valid reports whether the action is a known request or callback.
func (a Action) Valid() bool {
	_, req := callbackOf[a]
	_, cb := requestOf[a]
	return req || cb
}

// Context is the routing envelope carried by every message on the network.
type Context struct {
	Domain        string `json:"domain"`
	Country       string `json:"country,omitempty"`
	City          string `json:"city,omitempty"`
	Action        Action `json:"action"`
	CoreVersion   string `json:"core_version"`
	BapID         string `json:"bap_id"`
	BapURI        string `json:"bap_uri"`
	BppID         string `json:"bpp_id,omitempty"`
	BppURI        string `json:"bpp_uri,omitempty"`
	TransactionID string `json:"transaction_id"`
	MessageID     string `json:"message_id"`
	Timestamp     string `json:"timestamp"`
	TTL           string `json:"ttl,omitempty"`
}

// ErrorBlock is the error object a counterparty attaches to a callback.
// Its presence marks a rejected-but-completed protocol outcome, not a fault.
type ErrorBlock struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// Envelope is the full wire message: context plus either a domain message,
// an error block, or both.
type Envelope struct {
	Context Context         `json:"context"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   *ErrorBlock     `json:"error,omitempty"`
}

var (
	ErrMissingContext = errors.New("missing context")
	ErrUnknownAction  = errors.New("unknown action")
)

// ValidateCallback checks the envelope fields a callback handler relies on.
func (e Envelope) ValidateCallback() error {
	c := e.Context
	if c.TransactionID == "" || c.MessageID == "" || c.Domain == "" {
		return ErrMissingContext
	}
	if !c.Action.IsCallback() {
		return ErrUnknownAction
	}
	return nil
}

// Ack is the synchronous receipt returned for a protocol POST.
type Ack struct {
	Status string `json:"status"`
}

type ackMessage struct {
	Ack Ack `json:"ack"`
}

// AckResponse is the body returned when a message is accepted or rejected.
type AckResponse struct {
	Message ackMessage  `json:"message"`
	Error   *ErrorBlock `json:"error,omitempty"`
}

// NewAck builds a positive receipt.
func NewAck() AckResponse {
	return AckResponse{Message: ackMessage{Ack: Ack{Status: "ACK"}}}
}

// NewNack builds a negative receipt with an error block.
func NewNack(code, message string) AckResponse {
	return AckResponse{
		Message: ackMessage{Ack: Ack{Status: "NACK"}},
		Error:   &ErrorBlock{Type: "PROTOCOL-ERROR", Code: code, Message: message},
	}
}

// Timestamp formats t the way counterparties expect context timestamps.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
