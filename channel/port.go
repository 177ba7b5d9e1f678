package channel

import (
	"context"
	"sync"
)

// Port is one surface's end of the channel. Broadcasts are queued in a
// mailbox and delivered in order by a single goroutine per port.
type Port struct {
	name string
	hub  *Hub

	mu        sync.Mutex
	listeners map[string][]Listener
	queue     []Message
	closed    bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPort(h *Hub, name string) *Port {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		name:      name,
		hub:       h,
		listeners: make(map[string][]Listener),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

// Name returns the port name given to Connect.
func (p *Port) Name() string { return p.name }

// Send delivers a request to the hub listeners for typ and waits for the
// reply. Delivery faults return *ErrTransport.
func (p *Port) Send(ctx context.Context, typ string, payload any) (Reply, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return Reply{}, &ErrTransport{Type: typ, Cause: ErrClosed}
	}
	msg, err := encode(typ, payload)
	if err != nil {
		return Reply{}, err
	}
	msg.Sender = p.name
	return p.hub.dispatch(ctx, msg)
}

// AddListener registers l for broadcasts of type typ.
func (p *Port) AddListener(typ string, l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[typ] = append(p.listeners[typ], p.hub.mw(l))
}

// Listening reports whether the port has a listener for typ.
func (p *Port) Listening(typ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && len(p.listeners[typ]) > 0
}

// Inflate replaces a blob-referenced payload with the stored message and
// revokes the reference. Messages without a reference are returned as is.
func (p *Port) Inflate(ctx context.Context, msg Message) (Message, error) {
	return p.hub.inflate(ctx, msg)
}

// Close disconnects the port from its hub and stops delivery. It waits for
// the mailbox goroutine and must not be called from a listener.
func (p *Port) Close() {
	p.hub.disconnect(p)
	p.shutdown()
}

func (p *Port) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	p.queue = nil
	p.mu.Unlock()
	p.cancel()
	<-p.done
}

func (p *Port) enqueue(msg Message) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *Port) run() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if p.closed || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			msg := p.queue[0]
			p.queue = p.queue[1:]
			listeners := append([]Listener(nil), p.listeners[msg.Type]...)
			p.mu.Unlock()

			for _, l := range listeners {
				l(p.ctx, copyMessage(msg), discardReply)
			}
		}
	}
}

func discardReply(any) {}
