package broker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"maintenance-automation/internal/engine"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
)

var (
	ErrQueueFull        = errors.New("dispatch queue full")
	ErrProcessorStopped = errors.New("processor stopped")
)

// Queue accepts decoded events for dispatch away from the transport's
// delivery goroutine. done, when set, receives the summary from the worker
// once dispatch finishes.
type Queue interface {
	Submit(evt Event, done func(engine.DispatchSummary)) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Workers   int
	QueueSize int // per worker
}

// Processor runs events through an EventSink on a fixed set of workers.
// All events of one company go to the same worker, so they dispatch in
// arrival order while other companies make progress on the other workers.
type Processor struct {
	sink    EventSink
	logger  *logger.Logger
	metrics *metrics.Metrics
	queues  []chan *job
	stats   processorStats
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

type job struct {
	evt  Event
	done func(engine.DispatchSummary)
}

type processorStats struct {
	dispatched atomic.Uint64
	rejected   atomic.Uint64
	queued     atomic.Int64
}

// ProcessorStats is a point-in-time copy of the processor counters.
type ProcessorStats struct {
	Dispatched uint64 `json:"dispatched"`
	Rejected   uint64 `json:"rejected"`
	Queued     int64  `json:"queued"`
}

// NewProcessor creates a processor and starts its workers.
func NewProcessor(sink EventSink, cfg ProcessorConfig, log *logger.Logger, metricsService *metrics.Metrics) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	p := &Processor{
		sink:    sink,
		logger:  log,
		metrics: metricsService,
		queues:  make([]chan *job, cfg.Workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan *job, cfg.QueueSize)
	}

	p.startWorkers()
	return p
}

func (p *Processor) startWorkers() {
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.worker(queue)
	}
}

func (p *Processor) worker(queue <-chan *job) {
	defer p.wg.Done()

	for j := range queue {
		p.updateDepth(-1)
		p.process(j)
	}
}

func (p *Processor) process(j *job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("event dispatch panicked",
				"trigger", j.evt.Trigger,
				"companyId", j.evt.CompanyID,
				"panic", r)
		}
	}()

	summary := p.sink.SubmitEvent(context.Background(), j.evt.Trigger, j.evt.CompanyID, j.evt.Context)
	p.stats.dispatched.Add(1)
	if j.done != nil {
		j.done(summary)
	}
}

// Submit queues evt on its company's worker. It never blocks: a full
// queue returns ErrQueueFull.
func (p *Processor) Submit(evt Event, done func(engine.DispatchSummary)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		p.reject()
		return ErrProcessorStopped
	}

	select {
	case p.queues[p.workerFor(evt.CompanyID)] <- &job{evt: evt, done: done}:
		p.updateDepth(1)
		return nil
	default:
		p.reject()
		p.logger.Warn("dispatch queue full, dropping event",
			"trigger", evt.Trigger,
			"companyId", evt.CompanyID)
		return ErrQueueFull
	}
}

func (p *Processor) workerFor(companyID string) int {
	h := fnv.New32a()
	h.Write([]byte(companyID))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Processor) reject() {
	p.stats.rejected.Add(1)
	if p.metrics != nil {
		p.metrics.IncEventsRejected()
	}
}

func (p *Processor) updateDepth(delta int64) {
	depth := p.stats.queued.Add(delta)
	if p.metrics != nil {
		p.metrics.SetQueueDepth(float64(depth))
	}
}

// GetStats returns current processing statistics
func (p *Processor) GetStats() ProcessorStats {
	return ProcessorStats{
		Dispatched: p.stats.dispatched.Load(),
		Rejected:   p.stats.rejected.Load(),
		Queued:     p.stats.queued.Load(),
	}
}

// Close stops accepting events and waits until every queued event has
// been dispatched.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
