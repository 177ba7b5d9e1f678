package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/a11ypanel/session"
)

// Publisher renders surface states and delivers them to a Sink from its
// own goroutine, so slow sinks never hold up a surface. States published
// while the queue is full are dropped.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
	queue  chan Snapshot

	closeOnce sync.Once
	done      chan struct{}
}

// NewPublisher starts a publisher with room for size pending views.
func NewPublisher(s Sink, size int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 64
	}
	p := &Publisher{
		sink:   s,
		logger: logger,
		queue:  make(chan Snapshot, size),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues the rendering of s. Suitable as a session.OnChange hook.
func (p *Publisher) Publish(s session.State) {
	select {
	case p.queue <- Render(s):
	default:
		p.logger.Warn("sink: queue full, view dropped", "surface", s.Surface, "phase", s.Phase)
	}
}

// Close delivers the queued views, then closes the sink. Publish must not
// be called after Close.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.queue) })
	<-p.done
	return p.sink.Close()
}

func (p *Publisher) run() {
	defer close(p.done)
	for v := range p.queue {
		if err := p.sink.Send(context.Background(), v); err != nil {
			p.logger.Warn("sink: publish failed", "surface", v.Surface, "error", err)
		}
	}
}
