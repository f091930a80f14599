package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// popupEnvelope is the message the popup posts to its opener.
type popupEnvelope struct {
	WFA  string          `json:"WFA"`
	Data json.RawMessage `json:"data"`
}

// HandlePopupMessage processes a message received from a login popup.
// Messages without the protocol marker are silently ignored; a message
// carrying the marker from a foreign origin is a hard error and the
// session state is left untouched.
func (c *Client) HandlePopupMessage(ctx context.Context, origin string, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	var envelope popupEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.WFA != "WFA" {
		return nil
	}

	expected := c.endpointOrigin()
	if strings.TrimSuffix(origin, "/") != expected {
		return fmt.Errorf("incorrect origin in popup message: expected %q, got %q", expected, origin)
	}

	var r response
	if err := json.Unmarshal(envelope.Data, &r); err != nil {
		return &ProtocolError{ErrorID: "Client.DecodeFailure", Reason: err.Error()}
	}
	return c.handleServerResponse(ctx, &r)
}

func (c *Client) endpointOrigin() string {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return c.cfg.Endpoint
	}
	return u.Scheme + "://" + u.Host
}
