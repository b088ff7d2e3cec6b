// Package derivepool runs key derivations on a small fixed set of worker
// goroutines so expensive generation never blocks the caller. Jobs queue FIFO
// when all workers are busy; callers hold a handle that settles exactly once.
package derivepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"seedforge/go-engine/internal/keyderive"
	"seedforge/go-engine/internal/observability"
)

var (
	ErrWorker     = errors.New("worker failure")
	ErrPoolClosed = errors.New("pool is shut down")
)

const (
	// DefaultMaxWorkers bounds concurrent derivations.
	DefaultMaxWorkers = 4

	// queueDepth bounds the FIFO backlog per pool.
	queueDepth = 64
)

// SubmitOptions tune a single submission.
type SubmitOptions struct {
	// Inline runs the derivation synchronously on the caller's goroutine.
	Inline bool
	// OnProgress, when set, receives periodic stage reports. Callbacks run
	// on the pool dispatcher goroutine and should return quickly.
	OnProgress ProgressFunc
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	ActiveWorkers int   `json:"active_workers"`
	QueueSize     int   `json:"queue_size"`
	CompletedJobs int64 `json:"completed_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
}

// Job is the caller's handle to a pending derivation. It settles exactly once
// with either material or an error.
type Job struct {
	id       uint64
	done     chan struct{}
	material *keyderive.KeyMaterial
	err      error
}

// Done is closed when the job settles.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job settles or ctx is cancelled.
func (j *Job) Wait(ctx context.Context) (*keyderive.KeyMaterial, error) {
	select {
	case <-j.done:
		return j.material, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type queuedJob struct {
	id   uint64
	seed []byte
}

// Pool owns the workers and the dispatcher. Safe for concurrent use.
type Pool struct {
	deriver *keyderive.Deriver
	log     *slog.Logger

	queue    chan queuedJob
	messages chan message
	stop     chan struct{} // signals workers to stop taking jobs
	dispStop chan struct{} // signals the dispatcher to drain and exit
	dispDone chan struct{} // closed once the dispatcher has exited
	workerWG sync.WaitGroup

	workersStarted bool

	mu           sync.Mutex
	nextID       uint64
	pending      map[uint64]*pendingJob
	active       int
	completed    int64
	failed       int64
	inlineOnly   bool
	shuttingDown bool
}

type pendingJob struct {
	handle     *Job
	onProgress ProgressFunc
	started    time.Time
}

// New starts maxWorkers background workers. A non-positive count puts the
// pool in inline-only mode instead of failing.
func New(deriver *keyderive.Deriver, maxWorkers int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		deriver:  deriver,
		log:      logger,
		queue:    make(chan queuedJob, queueDepth),
		messages: make(chan message, queueDepth),
		stop:     make(chan struct{}),
		dispStop: make(chan struct{}),
		dispDone: make(chan struct{}),
		pending:  make(map[uint64]*pendingJob),
	}
	if maxWorkers <= 0 {
		p.log.Warn("no workers configured, falling back to inline execution")
		p.inlineOnly = true
		close(p.dispDone)
		return p
	}

	p.workersStarted = true
	go p.dispatch()
	for i := 0; i < maxWorkers; i++ {
		p.workerWG.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit schedules a derivation for seed and returns a settled-once handle.
// With opts.Inline (or when the pool has fallen back to inline mode) the
// derivation runs on the caller's goroutine and the handle is settled on
// return.
func (p *Pool) Submit(seed []byte, opts SubmitOptions) (*Job, error) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.nextID++
	id := p.nextID
	inline := opts.Inline || p.inlineOnly
	handle := &Job{id: id, done: make(chan struct{})}
	if !inline {
		p.pending[id] = &pendingJob{handle: handle, onProgress: opts.OnProgress, started: time.Now()}
	}
	p.mu.Unlock()

	if inline {
		p.runInline(handle, seed, opts.OnProgress)
		return handle, nil
	}

	job := queuedJob{id: id, seed: append([]byte(nil), seed...)}
	select {
	case p.queue <- job:
		observability.SetQueuedJobs(len(p.queue))
		return handle, nil
	default:
		// Backlog full. Running on the caller keeps the engine responsive
		// instead of blocking the submission path.
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		p.runInline(handle, seed, opts.OnProgress)
		return handle, nil
	}
}

// Stats reports current pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		ActiveWorkers: p.active,
		QueueSize:     len(p.queue),
		CompletedJobs: p.completed,
		FailedJobs:    p.failed,
	}
}

// Shutdown stops the workers. If graceful termination does not finish within
// timeout the remaining workers are abandoned and their jobs settle as
// failed. Shutdown never hangs.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return
	}
	p.shuttingDown = true
	p.mu.Unlock()

	close(p.stop)
	if !p.workersStarted {
		return
	}

	drained := make(chan struct{})
	go func() {
		p.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(timeout):
		p.log.Warn("pool shutdown timed out, abandoning workers", "timeout", timeout)
	}

	close(p.dispStop)
	<-p.dispDone

	// Settle whatever never made it through the dispatcher so no caller
	// waits forever.
	p.mu.Lock()
	stale := make([]*Job, 0, len(p.pending))
	for id, pj := range p.pending {
		stale = append(stale, pj.handle)
		delete(p.pending, id)
		p.failed++
	}
	p.mu.Unlock()
	for _, handle := range stale {
		handle.err = fmt.Errorf("%w: pool shut down before job settled", ErrWorker)
		close(handle.done)
	}
}

func (p *Pool) worker(n int) {
	defer p.workerWG.Done()
	defer func() {
		if r := recover(); r != nil {
			// A worker that dies unexpectedly must not stall future
			// submissions; route them through the caller instead.
			p.log.Error("worker exited unexpectedly, enabling inline fallback", "worker", n, "panic", fmt.Sprint(r))
			p.mu.Lock()
			p.inlineOnly = true
			p.mu.Unlock()
		}
	}()

	for {
		select {
		case <-p.stop:
			return
		case job := <-p.queue:
			observability.SetQueuedJobs(len(p.queue))
			p.execute(job)
		}
	}
}

// execute runs one job and reports through the message channel. A panic in
// the deriver fails the job, not the worker.
func (p *Pool) execute(job queuedJob) {
	p.mu.Lock()
	p.active++
	observability.SetActiveWorkers(p.active)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		observability.SetActiveWorkers(p.active)
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			p.send(message{kind: msgError, jobID: job.id, err: fmt.Errorf("%w: derivation panicked: %v", ErrWorker, r)})
		}
	}()

	started := time.Now()
	material, err := p.deriver.Generate(job.seed, func(stage string, percent int) {
		p.send(message{
			kind:     msgProgress,
			jobID:    job.id,
			progress: Progress{Stage: stage, Percent: percent, ETA: estimateRemaining(started, percent)},
		})
	})
	if err != nil {
		p.send(message{kind: msgError, jobID: job.id, err: err})
		return
	}
	p.send(message{kind: msgResult, jobID: job.id, material: material})
}

func (p *Pool) send(m message) {
	select {
	case p.messages <- m:
	case <-p.dispDone:
	}
}

// dispatch is the single consumer of worker messages. It forwards progress,
// settles handles, and keeps the counters; malformed messages and unknown
// job ids are dropped rather than treated as faults.
func (p *Pool) dispatch() {
	defer close(p.dispDone)
	for {
		select {
		case m := <-p.messages:
			p.handleMessage(m)
		case <-p.dispStop:
			for {
				select {
				case m := <-p.messages:
					p.handleMessage(m)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) handleMessage(m message) {
	if !m.wellFormed() {
		p.log.Debug("dropping malformed worker message", "job_id", m.jobID)
		return
	}
	switch m.kind {
	case msgProgress:
		p.mu.Lock()
		pj, ok := p.pending[m.jobID]
		p.mu.Unlock()
		if ok && pj.onProgress != nil {
			pj.onProgress(m.progress)
		}
	case msgResult:
		p.settle(m.jobID, m.material, nil)
	case msgError:
		p.settle(m.jobID, nil, m.err)
	}
}

func (p *Pool) settle(id uint64, material *keyderive.KeyMaterial, err error) {
	p.mu.Lock()
	pj, ok := p.pending[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, id)
	elapsed := time.Since(pj.started)
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()

	if err != nil {
		observability.RecordDerivation("failed", elapsed)
	} else {
		observability.RecordDerivation("completed", elapsed)
	}
	pj.handle.material = material
	pj.handle.err = err
	close(pj.handle.done)
}

func (p *Pool) runInline(handle *Job, seed []byte, onProgress ProgressFunc) {
	started := time.Now()
	material, err := p.deriver.Generate(seed, func(stage string, percent int) {
		if onProgress != nil {
			onProgress(Progress{Stage: stage, Percent: percent, ETA: estimateRemaining(started, percent)})
		}
	})

	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()

	if err != nil {
		observability.RecordDerivation("failed", time.Since(started))
	} else {
		observability.RecordDerivation("completed", time.Since(started))
	}
	handle.material = material
	handle.err = err
	close(handle.done)
}

func estimateRemaining(started time.Time, percent int) time.Duration {
	if percent <= 0 || percent >= 100 {
		return 0
	}
	elapsed := time.Since(started)
	return elapsed * time.Duration(100-percent) / time.Duration(percent)
}
