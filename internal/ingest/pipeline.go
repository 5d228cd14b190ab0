package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fingermesh/accesshub/internal/models"
	"github.com/fingermesh/accesshub/internal/presence"
	"github.com/fingermesh/accesshub/internal/services"
)

// deviceQueueSize bounds the backlog of one device's unprocessed messages.
// A device flooding past this loses messages rather than stalling others.
const deviceQueueSize = 128

// Broadcaster is the slice of the hub the pipeline needs.
type Broadcaster interface {
	Publish(event string, payload interface{})
}

// LiveUpdate is what dashboards receive for each processed message: the
// normalized event plus what persistence made of it.
type LiveUpdate struct {
	models.Event
	Result services.SyncResult `json:"result"`
}

// Pipeline drives a message from the transport through classification,
// presence, persistence, and broadcast. Each device gets its own serial
// worker, so one device's events stay ordered end to end while distinct
// devices proceed concurrently.
type Pipeline struct {
	tracker *presence.Tracker
	sync    *services.SyncService
	hub     Broadcaster
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]chan models.Event
}

func NewPipeline(tracker *presence.Tracker, syncService *services.SyncService, hub Broadcaster, logger zerolog.Logger) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		tracker: tracker,
		sync:    syncService,
		hub:     hub,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]chan models.Event),
	}
}

// Handle ingests one raw transport message. It never returns an error and
// never blocks on persistence or slow subscribers; a malformed message
// degrades inside Classify, and a flooded device queue drops the message
// with a log line.
func (p *Pipeline) Handle(topic string, payload []byte) {
	ev := Classify(topic, payload, time.Now())

	// Liveness first: any traffic counts, even unclassified noise.
	p.tracker.Observe(ev)

	if ev.DeviceID == "" {
		return
	}

	select {
	case p.worker(ev.DeviceID) <- ev:
	default:
		p.logger.Warn().
			Str("device_id", ev.DeviceID).
			Str("kind", string(ev.Kind)).
			Msg("device queue full, message dropped")
	}
}

// Close stops all device workers and waits for in-flight events to finish.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) worker(deviceID string) chan models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue, ok := p.workers[deviceID]
	if !ok {
		queue = make(chan models.Event, deviceQueueSize)
		p.workers[deviceID] = queue
		p.wg.Add(1)
		go p.runWorker(queue)
	}
	return queue
}

func (p *Pipeline) runWorker(queue chan models.Event) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-queue:
			p.process(ev)
		}
	}
}

func (p *Pipeline) process(ev models.Event) {
	result := p.sync.Apply(p.ctx, ev)

	// Unclassified traffic still refreshed liveness and the device row,
	// but dashboards only get the named event stream.
	if ev.Kind == models.KindUnclassified {
		return
	}
	p.hub.Publish(string(ev.Kind), LiveUpdate{Event: ev, Result: result})
}
