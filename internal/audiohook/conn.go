package audiohook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Message is one frame read off the wire: either a decoded JSON Envelope
// (Binary == nil) or a raw binary audio frame (Envelope == nil).
type Message struct {
	Envelope *Envelope
	Binary   []byte
}

// Conn wraps a single accepted carrier WebSocket connection, bookkeeping the
// sequence numbers required by the protocol's monotonicity and
// client-sequence-echo invariants.
//
// Sends are serialized through mu so session-update, pong, event, and
// disconnect frames issued from different goroutines never interleave on the
// wire. Conn is safe for concurrent use.
type Conn struct {
	ws *websocket.Conn

	mu        sync.Mutex
	sessionID string
	serverSeq uint64
	clientSeq uint64
}

// NewConn wraps an already-accepted WebSocket connection. sessionID is a
// placeholder correlation id used for logging until the carrier's "open"
// message supplies the authoritative one via SetSessionID.
func NewConn(ws *websocket.Conn, sessionID string) *Conn {
	return &Conn{ws: ws, sessionID: sessionID}
}

// SessionID returns the current session id.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID overwrites the session id, called once when the carrier's
// "open" message supplies its authoritative value. Per the protocol's
// invariant, this must happen at most once per connection.
func (c *Conn) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// Receive reads the next frame off the wire: a JSON text frame is decoded
// into an Envelope (and the client-sequence counter is advanced to its Seq);
// a binary frame is returned as raw bytes.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("audiohook: read: %w", err)
	}

	if typ == websocket.MessageBinary {
		return Message{Binary: data}, nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("audiohook: decode envelope: %w", err)
	}

	c.mu.Lock()
	c.clientSeq = env.Seq
	c.mu.Unlock()

	return Message{Envelope: &env}, nil
}

// sendEnvelope serializes msgType, marshals params, and writes it as a text frame,
// holding mu for the entire call — from sequence assignment through the
// wire write — so concurrent senders can never assign sequence N, get
// preempted, and have sequence N+1 reach the wire first.
func (c *Conn) sendEnvelope(ctx context.Context, msgType string, params any) error {
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.serverSeq++
	env := Envelope{
		Version:    ProtocolVersion,
		ID:         c.sessionID,
		Type:       msgType,
		Seq:        c.serverSeq,
		ClientSeq:  c.clientSeq,
		Parameters: raw,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("audiohook: encode envelope: %w", err)
	}

	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("audiohook: write %s: %w", msgType, err)
	}
	return nil
}

// SendOpened replies to an "open" message.
func (c *Conn) SendOpened(ctx context.Context, params OpenedParams) error {
	return c.sendEnvelope(ctx, TypeOpened, params)
}

// SendPong replies to a "ping" message.
func (c *Conn) SendPong(ctx context.Context) error {
	return c.sendEnvelope(ctx, TypePong, struct{}{})
}

// SendClosed replies to a "close" message.
func (c *Conn) SendClosed(ctx context.Context, params ClosedParams) error {
	return c.sendEnvelope(ctx, TypeClosed, params)
}

// SendEvent emits an asynchronous notification, e.g. a barge-in entity.
func (c *Conn) SendEvent(ctx context.Context, params EventParams) error {
	return c.sendEnvelope(ctx, TypeEvent, params)
}

// SendDisconnect tells the carrier to tear down the call.
func (c *Conn) SendDisconnect(ctx context.Context, params DisconnectParams) error {
	return c.sendEnvelope(ctx, TypeDisconnect, params)
}

// SendAudioFrame writes a binary audio frame to the carrier. Unlike the JSON
// send helpers this does not touch the sequence counters, but it shares the
// same mutex so it cannot interleave with a concurrent JSON send.
func (c *Conn) SendAudioFrame(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("audiohook: write audio frame: %w", err)
	}
	return nil
}

// Close closes the underlying WebSocket with the given status code and
// reason string.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
