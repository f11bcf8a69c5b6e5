package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sydnec/skullking/go/internal/lobby/events"
	"github.com/sydnec/skullking/go/internal/lobby/rooms"
)

// Sink receives push traffic from a Source, in order
type Sink interface {
	Deliver(ctx context.Context, raw []byte) error
	Resync(ctx context.Context, snapshot []rooms.RoomEntry) error
}

// Source is a push transport feeding a Sink until ctx is done
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

type inbound struct {
	raw      []byte
	snapshot []rooms.RoomEntry
	resync   bool
}

// Pipeline decodes push messages and applies them to the room state on a
// single goroutine, forwarding the resulting ops to the renderer.
type Pipeline struct {
	state    *rooms.RoomState
	renderer rooms.Renderer
	clock    clockwork.Clock

	inbox chan inbound
	done  chan struct{}

	processed atomic.Uint64
	ignored   atomic.Uint64
	malformed atomic.Uint64
	resyncs   atomic.Uint64
	lastEvent atomic.Int64 // unix nanos
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithPipelineClock sets the clock used for event timestamps
func WithPipelineClock(clock clockwork.Clock) PipelineOption {
	return func(p *Pipeline) { p.clock = clock }
}

// NewPipeline creates a pipeline rendering into renderer
func NewPipeline(renderer rooms.Renderer, bufferSize int, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		state:    rooms.NewRoomState(),
		renderer: renderer,
		clock:    clockwork.NewRealClock(),
		inbox:    make(chan inbound, bufferSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var errPipelineStopped = errors.New("pipeline stopped")

// Deliver queues a raw push message
func (p *Pipeline) Deliver(ctx context.Context, raw []byte) error {
	return p.enqueue(ctx, inbound{raw: raw})
}

// Resync queues an authoritative room list
func (p *Pipeline) Resync(ctx context.Context, snapshot []rooms.RoomEntry) error {
	return p.enqueue(ctx, inbound{snapshot: snapshot, resync: true})
}

func (p *Pipeline) enqueue(ctx context.Context, in inbound) error {
	select {
	case p.inbox <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return errPipelineStopped
	}
}

// Run processes queued traffic until ctx is done
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)
	log.Info().Msg("room pipeline started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room pipeline shutting down")
			return
		case in := <-p.inbox:
			if in.resync {
				p.HandleResync(in.snapshot)
			} else {
				p.Handle(in.raw)
			}
		}
	}
}

// Handle decodes and applies one message. Bad input is logged and dropped.
func (p *Pipeline) Handle(raw []byte) []rooms.Op {
	event, err := events.Decode(raw)
	switch {
	case errors.Is(err, events.ErrIgnored):
		p.ignored.Add(1)
		log.Debug().Int("size", len(raw)).Msg("ignoring non room message")
		return nil
	case err != nil:
		p.malformed.Add(1)
		log.Warn().Err(err).Msg("dropping malformed room update")
		return nil
	}

	ops := p.state.Apply(event)
	p.processed.Add(1)
	p.lastEvent.Store(p.clock.Now().UnixNano())

	log.Debug().
		Str("code", event.Code).
		Str("kind", string(event.Kind)).
		Int("usernames", len(event.Usernames)).
		Int("ops", len(ops)).
		Msg("room event applied")

	rooms.Dispatch(p.renderer, ops)
	return ops
}

// HandleResync replaces the room state with snapshot
func (p *Pipeline) HandleResync(snapshot []rooms.RoomEntry) []rooms.Op {
	ops := p.state.Resync(snapshot)
	p.resyncs.Add(1)

	log.Info().
		Int("rooms", p.state.Len()).
		Int("ops", len(ops)).
		Msg("room list resynchronized")

	rooms.Dispatch(p.renderer, ops)
	return ops
}

// State exposes the room state; only safe to read from the pipeline goroutine or when Run is not active
func (p *Pipeline) State() *rooms.RoomState {
	return p.state
}

// Stats returns pipeline counters
func (p *Pipeline) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"events_processed": p.processed.Load(),
		"events_ignored":   p.ignored.Load(),
		"events_malformed": p.malformed.Load(),
		"resyncs":          p.resyncs.Load(),
	}
	if last := p.lastEvent.Load(); last != 0 {
		stats["last_event_time"] = time.Unix(0, last).UTC()
	}
	return stats
}
