package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/a11ypanel/blob"
)

// Hub is the coordinator end of the channel. Surfaces Connect to it to
// obtain a Port.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string][]Listener
	ports    map[*Port]struct{}
	closed   bool

	store  blob.Store
	policy Policy
	mw     Middleware
	logger *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithBlobStore sets the store used for payload indirection. Without a
// store every message travels inline.
func WithBlobStore(s blob.Store) Option {
	return func(h *Hub) { h.store = s }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(h *Hub) { h.policy = p }
}

// WithMiddleware sets the middleware wrapped around every listener
// registered after it. Default: Recovery.
func WithMiddleware(mws ...Middleware) Option {
	return func(h *Hub) { h.mw = Chain(mws...) }
}

// NewHub creates a Hub with no handlers and no ports.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		handlers: make(map[string][]Listener),
		ports:    make(map[*Port]struct{}),
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.mw == nil {
		h.mw = Recovery(h.logger)
	}
	return h
}

// Handle registers l for requests of type typ sent by any port. Several
// listeners may share a type; all are invoked and the first reply wins.
func (h *Hub) Handle(typ string, l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[typ] = append(h.handlers[typ], h.mw(l))
}

// Connect opens a new port named name.
func (h *Hub) Connect(name string) (*Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, &ErrTransport{Type: "connect", Cause: ErrClosed}
	}
	p := newPort(h, name)
	h.ports[p] = struct{}{}
	return p, nil
}

// Connected returns the number of open ports.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ports)
}

// Broadcast delivers a message to every port currently listening for typ
// and returns how many were reached. Ports not listening get nothing:
// messages are never queued for later listeners.
func (h *Hub) Broadcast(ctx context.Context, typ string, payload any) (int, error) {
	msg, err := encode(typ, payload)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0, &ErrTransport{Type: typ, Cause: ErrClosed}
	}
	targets := make([]*Port, 0, len(h.ports))
	for p := range h.ports {
		if p.Listening(typ) {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, p := range targets {
		// Blob references are single use, so each recipient gets its own.
		out, err := h.indirect(ctx, msg)
		if err != nil {
			h.logger.WarnContext(ctx, "channel: blob indirection failed, sending inline",
				"type", typ, "port", p.name, "error", err)
			out = msg
		}
		if p.enqueue(out) {
			delivered++
		}
	}
	return delivered, nil
}

// Close disconnects every port. Later sends and broadcasts fail with
// ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	ports := h.ports
	h.ports = make(map[*Port]struct{})
	h.mu.Unlock()
	for p := range ports {
		p.shutdown()
	}
}

func (h *Hub) disconnect(p *Port) {
	h.mu.Lock()
	delete(h.ports, p)
	h.mu.Unlock()
}

// dispatch runs the hub listeners for a request from sender.
func (h *Hub) dispatch(ctx context.Context, msg Message) (Reply, error) {
	h.mu.RLock()
	closed := h.closed
	listeners := h.handlers[msg.Type]
	h.mu.RUnlock()
	if closed {
		return Reply{}, &ErrTransport{Type: msg.Type, Cause: ErrClosed}
	}
	if len(listeners) == 0 {
		return Reply{}, &ErrTransport{Type: msg.Type, Cause: ErrNoReceiver}
	}

	out, err := h.indirect(ctx, msg)
	if err != nil {
		h.logger.WarnContext(ctx, "channel: blob indirection failed, sending inline",
			"type", msg.Type, "error", err)
		out = msg
	}

	rs := newReplyState(msg.Type)
	pending := false
	for _, l := range listeners {
		if l(ctx, copyMessage(out), rs.reply) {
			pending = true
		}
	}
	if !pending {
		rs.reply(nil)
	}
	select {
	case raw := <-rs.done:
		return Reply{Type: msg.Type, Raw: raw}, nil
	case <-ctx.Done():
		return Reply{}, &ErrTransport{Type: msg.Type, Cause: ctx.Err()}
	}
}

// indirect applies the blob policy to msg.
func (h *Hub) indirect(ctx context.Context, msg Message) (Message, error) {
	if h.store == nil || msg.Payload == nil {
		return msg, nil
	}
	if !h.policy.UseBlob(msg.Type, tabURLOf(msg.Payload), len(msg.Payload)) {
		return msg, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("channel: marshal for blob: %w", err)
	}
	ref, err := h.store.Put(ctx, data)
	if err != nil {
		return msg, fmt.Errorf("channel: blob put: %w", err)
	}
	return Message{
		Type:    msg.Type,
		Payload: h.policy.strip(msg.Payload),
		BlobURL: ref,
		Sender:  msg.Sender,
	}, nil
}

// Inflate is Port.Inflate for messages received by hub listeners.
func (h *Hub) Inflate(ctx context.Context, msg Message) (Message, error) {
	return h.inflate(ctx, msg)
}

// inflate resolves a blob reference back into the full message and
// revokes it.
func (h *Hub) inflate(ctx context.Context, msg Message) (Message, error) {
	if msg.BlobURL == "" {
		return msg, nil
	}
	if h.store == nil {
		return msg, &ErrTransport{Type: msg.Type, Cause: fmt.Errorf("no blob store for %s", msg.BlobURL)}
	}
	data, err := h.store.Fetch(ctx, msg.BlobURL)
	if err != nil {
		return msg, &ErrTransport{Type: msg.Type, Cause: err}
	}
	if err := h.store.Revoke(ctx, msg.BlobURL); err != nil {
		h.logger.WarnContext(ctx, "channel: blob revoke failed", "ref", msg.BlobURL, "error", err)
	}
	var full Message
	if err := json.Unmarshal(data, &full); err != nil {
		return msg, &ErrMalformed{Type: msg.Type, Cause: err}
	}
	if full.Type != msg.Type {
		return msg, &ErrMalformed{Type: msg.Type, Cause: fmt.Errorf("blob holds %s", full.Type)}
	}
	full.Sender = msg.Sender
	return full, nil
}

type replyState struct {
	once sync.Once
	typ  string
	done chan json.RawMessage
}

func newReplyState(typ string) *replyState {
	return &replyState{typ: typ, done: make(chan json.RawMessage, 1)}
}

func (rs *replyState) reply(v any) {
	rs.once.Do(func() {
		if v == nil {
			rs.done <- nil
			return
		}
		if raw, ok := v.(json.RawMessage); ok {
			rs.done <- append(json.RawMessage(nil), raw...)
			return
		}
		data, err := json.Marshal(v)
		if err != nil {
			rs.done <- nil
			return
		}
		rs.done <- data
	})
}

func copyMessage(m Message) Message {
	m.Payload = append(json.RawMessage(nil), m.Payload...)
	return m
}
