package hashing

import (
	"context"
	"io"
	"sync"
	"time"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// OpenFunc opens the file to hash. The engine calls it inside a worker
// so queued jobs do not hold remote file handles open while waiting.
type OpenFunc func(ctx context.Context) (io.ReadSeeker, error)

// Result carries the outcome of one hash job.
type Result struct {
	Path   string
	Hashes FileHashes
	Err    error
}

type job struct {
	ctx  context.Context
	open OpenFunc
	path string
	size int64
	out  chan Result
}

// Engine runs hash computations on a fixed pool of workers.
type Engine struct {
	opts    Options
	jobs    chan job
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool

	// senders counts submits between the closed check and the queue
	// send; Shutdown waits for them before closing the queue.
	senders sync.WaitGroup
}

// NewEngine starts an engine with the given number of workers.
func NewEngine(workers int, opts Options) *Engine {
	if workers < 1 {
		workers = 1
	}
	e := &Engine{
		opts: opts.withDefaults(),
		jobs: make(chan job, workers*2),
	}

	metrics.HashWorkers.Set(float64(workers))
	logging.Debug("Starting hashing engine with %d workers", workers)

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.jobs {
		metrics.HashJobsQueued.Dec()
		j.out <- e.run(j)
		close(j.out)
	}
}

func (e *Engine) run(j job) Result {
	if err := j.ctx.Err(); err != nil {
		return Result{Path: j.path, Err: &ComputationError{Path: j.path, Err: err}}
	}

	start := time.Now()
	r, err := j.open(j.ctx)
	if err != nil {
		metrics.HashFailures.Inc()
		return Result{Path: j.path, Err: &ComputationError{Path: j.path, Err: err}}
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	hashes, err := Compute(r, j.size, e.opts)
	if err != nil {
		metrics.HashFailures.Inc()
		return Result{Path: j.path, Err: &ComputationError{Path: j.path, Err: err}}
	}

	kind := "full"
	if hashes.SHA256 == "" {
		kind = "quick"
	}
	metrics.HashDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return Result{Path: j.path, Hashes: hashes}
}

// Submit queues one file for hashing and returns a channel delivering
// its single Result. Submitting to a shut-down engine delivers a
// ComputationError instead of blocking.
func (e *Engine) Submit(ctx context.Context, path string, size int64, open OpenFunc) <-chan Result {
	out := make(chan Result, 1)

	// The lock only guards the closed flag. The queue send happens
	// outside it: a producer waiting on a full queue must not stall
	// every other producer, or Shutdown.
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		out <- Result{Path: path, Err: &ComputationError{Path: path, Err: context.Canceled}}
		close(out)
		return out
	}
	e.senders.Add(1)
	e.closeMu.Unlock()

	metrics.HashJobsQueued.Inc()
	e.jobs <- job{ctx: ctx, open: open, path: path, size: size, out: out}
	e.senders.Done()

	return out
}

// Shutdown stops accepting jobs and waits for queued work to drain.
func (e *Engine) Shutdown() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	e.closeMu.Unlock()

	// In-flight submits finish against live workers before the queue
	// closes.
	e.senders.Wait()
	close(e.jobs)

	e.wg.Wait()
	metrics.HashWorkers.Set(0)
	logging.Debug("Hashing engine stopped")
}
