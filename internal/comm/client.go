package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avvvet/bingo-engine/internal/bingo"
	"github.com/nats-io/nats.go"
)

// Engine is the request side of Client.
type Engine interface {
	Call(ctx context.Context, msgType string, req, out interface{}) error
}

// Client sends engine requests on EngineSubject as a fixed caller.
type Client struct {
	Conn   *nats.Conn
	Caller string
}

func NewClient(nc *nats.Conn, caller string) *Client {
	return &Client{Conn: nc, Caller: caller}
}

// As returns a client for the same connection acting as caller.
func (c *Client) As(caller string) *Client {
	return &Client{Conn: c.Conn, Caller: caller}
}

// Call sends req as msgType and decodes the reply data into out. An engine
// rejection comes back as *ErrorBody; out is still filled when the reply
// carries data alongside the error.
func (c *Client) Call(ctx context.Context, msgType string, req, out interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	payload, err := json.Marshal(WSMessage{Type: msgType, Data: data, Caller: c.Caller})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg, err := c.Conn.RequestWithContext(ctx, EngineSubject, payload)
	if err != nil {
		return fmt.Errorf("request %s: %w", msgType, err)
	}
	return DecodeReply(msg.Data, out)
}

// DecodeReply unpacks a Reply into out and its error.
func DecodeReply(data []byte, out interface{}) error {
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if out != nil && len(reply.Data) > 0 {
		if err := json.Unmarshal(reply.Data, out); err != nil {
			return fmt.Errorf("decode reply data: %w", err)
		}
	}
	if reply.Error != nil {
		return reply.Error
	}
	return nil
}

// CodeOf returns the engine error code carried by err, whether err came
// from the engine directly or over the wire.
func CodeOf(err error) string {
	var body *ErrorBody
	if errors.As(err, &body) {
		return body.Code
	}
	return bingo.CodeOf(err)
}

// SubscribeEvents decodes every engine event published on EventsSubject.
func SubscribeEvents(nc *nats.Conn, fn func(bingo.Event)) (*nats.Subscription, error) {
	return nc.Subscribe(EventsSubject, func(m *nats.Msg) {
		if ev, ok := DecodeEvent(m.Data); ok {
			fn(ev)
		}
	})
}

// DecodeEvent unwraps an event envelope.
func DecodeEvent(data []byte) (bingo.Event, bool) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return bingo.Event{}, false
	}
	var ev bingo.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return bingo.Event{}, false
	}
	return ev, true
}
