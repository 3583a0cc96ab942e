// Package pipeline routes decoded messages from a session's receive loop
// through the echo transform to its send loop.
//
//	Submit -> inbound queue -> transform (+ delay) -> outbound queue -> Next
//
// The transform stage runs every message in its own goroutine unless
// Parallelism caps it, so one delayed message never holds back another.
// Because of that, responses leave in completion order; set Parallelism to 1
// for strict submission order.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/luciancaetano/wsrtt/internal/protocol"
)

var (
	// ErrCompleted is returned by Next once the pipeline was completed and
	// drained, and by Submit after Complete.
	ErrCompleted = errors.New("pipeline completed")
	// ErrAborted is returned once Abort was called.
	ErrAborted = errors.New("pipeline aborted")
)

// Transform converts a request into the value handed to the send side.
type Transform func(protocol.AppMessage) protocol.AppMessage

// Options configures a Pipeline.
type Options struct {
	// Delay is applied to every message after the transform. Zero means none.
	Delay time.Duration
	// Parallelism caps concurrent transforms. 0 is unbounded, 1 keeps order.
	Parallelism int
	// InboundCapacity and OutboundCapacity bound the buffers. 0 is unbounded;
	// a positive value makes the producer block while the buffer is full.
	InboundCapacity  int
	OutboundCapacity int
	// Transform defaults to protocol.Echo.
	Transform Transform
	Logger    *zap.Logger
}

// Pipeline is the three-stage queue owned by one session.
type Pipeline struct {
	delay       time.Duration
	parallelism int
	transform   Transform
	log         *zap.Logger

	inbound  *queue[protocol.AppMessage]
	outbound *queue[protocol.AppMessage]
	sem      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	inFlight *atomic.Int64
	dropped  *atomic.Int64
}

// New creates a pipeline and starts its transform stage.
func New(opts Options) *Pipeline {
	if opts.Transform == nil {
		opts.Transform = protocol.Echo
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		delay:       opts.Delay,
		parallelism: opts.Parallelism,
		transform:   opts.Transform,
		log:         opts.Logger,
		inbound:     newQueue[protocol.AppMessage](opts.InboundCapacity),
		outbound:    newQueue[protocol.AppMessage](opts.OutboundCapacity),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		inFlight:    atomic.NewInt64(0),
		dropped:     atomic.NewInt64(0),
	}
	if opts.Parallelism > 1 {
		p.sem = make(chan struct{}, opts.Parallelism)
	}

	go p.dispatch()
	return p
}

// Submit hands a received message to the transform stage.
func (p *Pipeline) Submit(ctx context.Context, msg protocol.AppMessage) error {
	// Count first: Next may take the message before Push returns.
	p.inFlight.Inc()
	if err := p.inbound.Push(ctx, msg); err != nil {
		p.inFlight.Dec()
		return err
	}
	return nil
}

// Next blocks until a transformed message is available. It returns
// ErrCompleted once the pipeline was completed and every in-flight message
// was delivered.
func (p *Pipeline) Next(ctx context.Context) (protocol.AppMessage, error) {
	msg, err := p.outbound.Pop(ctx)
	if err != nil {
		return msg, err
	}
	p.inFlight.Dec()
	return msg, nil
}

// Complete stops accepting new messages. Messages already submitted are
// still delivered before Next reports ErrCompleted.
func (p *Pipeline) Complete() {
	p.inbound.Close()
}

// Abort cancels the transform stage and drops anything in flight.
func (p *Pipeline) Abort() {
	p.cancel()
	p.inbound.Abort()
	p.outbound.Abort()
}

// Done is closed once the transform stage has exited.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// InFlight returns the number of submitted messages not yet taken by Next.
func (p *Pipeline) InFlight() int64 {
	return p.inFlight.Load()
}

// Dropped returns the number of messages discarded by Abort.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pipeline) dispatch() {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		p.outbound.Close()
		close(p.done)
	}()

	for {
		msg, err := p.inbound.Pop(p.ctx)
		if err != nil {
			return
		}

		if p.parallelism == 1 {
			p.process(msg)
			continue
		}

		if p.sem != nil {
			select {
			case p.sem <- struct{}{}:
			case <-p.ctx.Done():
				p.drop(msg, p.ctx.Err())
				return
			}
		}

		wg.Add(1)
		go func(msg protocol.AppMessage) {
			defer wg.Done()
			if p.sem != nil {
				defer func() { <-p.sem }()
			}
			p.process(msg)
		}(msg)
	}
}

func (p *Pipeline) process(msg protocol.AppMessage) {
	out := p.transform(msg)

	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			p.drop(out, p.ctx.Err())
			return
		}
	}

	if err := p.outbound.Push(p.ctx, out); err != nil {
		p.drop(out, err)
	}
}

func (p *Pipeline) drop(msg protocol.AppMessage, err error) {
	p.inFlight.Dec()
	p.dropped.Inc()
	p.log.Debug("dropped in-flight message", zap.String("id", msg.ID.String()), zap.Error(err))
}
