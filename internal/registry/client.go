package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Sender is the outbound HTTP capability the lookup client rides on; the
// retrying gateway client satisfies it.
type Sender interface {
	Post(ctx context.Context, url string, body []byte, header http.Header) ([]byte, error)
}

// Client performs remote registry lookups.
type Client struct {
	sender  Sender
	baseURL string
}

// NewClient points a lookup client at the registry base URL.
func NewClient(sender Sender, baseURL string) *Client {
	return &Client{sender: sender, baseURL: strings.TrimRight(baseURL, "/")}
}

type lookupRequest struct {
	SubscriberID string          `json:"subscriber_id"`
	Domain       string          `json:"domain"`
	Type         ParticipantType `json:"type"`
}

type lookupRecord struct {
	BrID             string          `json:"br_id"`
	SubscriberID     string          `json:"subscriber_id"`
	SigningPublicKey string          `json:"signing_public_key"`
	SubscriberURL    string          `json:"subscriber_url"`
	EncrPublicKey    string          `json:"encr_public_key"`
	UkID             string          `json:"uk_id"`
	Domain           string          `json:"domain"`
	Type             ParticipantType `json:"type"`
}

// Lookup queries the registry. The response is an array of zero or one
// records; zero means the participant is unknown.
func (c *Client) Lookup(ctx context.Context, ref Ref) (Key, bool, error) {
	body, err := json.Marshal(lookupRequest{
		SubscriberID: ref.SubscriberID,
		Domain:       ref.Domain,
		Type:         ref.Type,
	})
	if err != nil {
		return Key{}, false, err
	}

	resp, err := c.sender.Post(ctx, c.baseURL+"/lookup", body, nil)
	if err != nil {
		return Key{}, false, err
	}

	var records []lookupRecord
	if err := json.Unmarshal(resp, &records); err != nil {
		return Key{}, false, fmt.Errorf("registry response: %w", err)
	}
	if len(records) == 0 {
		return Key{}, false, nil
	}

	r := records[0]
	return Key{
		SubscriberID:     r.SubscriberID,
		Type:             r.Type,
		Domain:           r.Domain,
		SigningPublicKey: r.SigningPublicKey,
		EncrPublicKey:    r.EncrPublicKey,
		UniqueKeyID:      r.UkID,
		SubscriberURL:    r.SubscriberURL,
		RegistryID:       r.BrID,
	}, true, nil
}
