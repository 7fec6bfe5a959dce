// Package scheduler is a worker-pool policy built on top of pkg/wsdeque:
// each worker owns a deque, pops its own work LIFO for cache locality,
// and steals FIFO from a random peer when it runs dry. Victim selection,
// parking, and backoff are scheduling policy and live here; pkg/wsdeque
// itself makes no decisions about who steals from whom or when.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/wsdeque/pkg/wsdeque"
)

var (
	metricQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wsdeque",
		Name:      "scheduler_queue_length",
		Help:      "Jobs submitted but not yet processed, by pool.",
	}, []string{"pool"})

	metricStealsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsdeque",
		Name:      "scheduler_steals_total",
		Help:      "Successful steals across all workers, by pool.",
	}, []string{"pool"})

	metricStealRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsdeque",
		Name:      "scheduler_steal_retries_total",
		Help:      "Steal attempts that lost a CAS race, by pool.",
	}, []string{"pool"})

	metricJobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsdeque",
		Name:      "scheduler_jobs_processed_total",
		Help:      "Jobs that finished running, by pool.",
	}, []string{"pool"})
)

// Job is a unit of work. w lets a job fan out sub-jobs onto the deque of
// the worker currently running it.
type Job func(ctx context.Context, w *Worker) error

// Worker is handed to a running Job so it can spawn further work without
// reaching across to another worker's owner handle — doing that would
// violate wsdeque.Owner's single-writer contract.
type Worker struct {
	pool *Pool
	id   int
}

// Spawn pushes job onto this worker's own deque.
func (w *Worker) Spawn(job Job) {
	w.pool.owners[w.id].Push(job)
	w.pool.trackEnqueued()
}

// Pool runs Jobs across a fixed set of work-stealing workers.
type Pool struct {
	cfg    Config
	logger log.Logger

	owners   []wsdeque.Owner[Job]
	stealers []wsdeque.Stealer[Job]

	started   atomic.Bool
	nextOwner atomic.Int64
	inFlight  atomic.Int64
	submitted atomic.Int64
	processed atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a Pool, one wsdeque per configured worker.
func New(cfg Config, logger log.Logger) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	owners := make([]wsdeque.Owner[Job], cfg.Workers)
	stealers := make([]wsdeque.Stealer[Job], cfg.Workers)
	for i := range owners {
		owners[i] = wsdeque.NewWithMinCapacity[Job](cfg.MinQueueCapacity)
		stealers[i] = owners[i].Stealer()
	}

	return &Pool{
		cfg:      cfg,
		logger:   logger,
		owners:   owners,
		stealers: stealers,
	}, nil
}

// Submit enqueues job onto a worker chosen round-robin. Only valid before
// Run; a running job must use Worker.Spawn instead, since by the time Run
// has started, every Owner handle belongs exclusively to its worker
// goroutine.
func (p *Pool) Submit(job Job) error {
	if p.started.Load() {
		return fmt.Errorf("wsdeque/scheduler: Submit called after Run started; use Worker.Spawn from within a running Job instead")
	}
	idx := int(uint64(p.nextOwner.Add(1)-1) % uint64(len(p.owners)))
	p.owners[idx].Push(job)
	p.trackEnqueued()
	return nil
}

func (p *Pool) trackEnqueued() {
	p.inFlight.Inc()
	p.submitted.Inc()
	metricQueueLength.WithLabelValues(p.cfg.Name).Set(float64(p.inFlight.Load()))
}

// Run starts every worker and blocks until ctx is cancelled, a Job
// returns a non-nil error, or every deque is empty with nothing in
// flight. It returns the first error any worker or Job reported, or nil.
func (p *Pool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	p.started.Store(true)

	g, ctx := errgroup.WithContext(ctx)
	for i := range p.owners {
		i := i
		g.Go(func() error {
			return p.runWorker(ctx, i)
		})
	}
	return g.Wait()
}

// Shutdown cancels the context passed to Run, if Run is in progress.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	owner := p.owners[id]
	worker := &Worker{pool: p, id: id}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if job, ok := owner.Pop(); ok {
			if err := p.execute(ctx, job, worker); err != nil {
				return err
			}
			continue
		}

		stole, err := p.stealFromPeer(ctx, id, worker)
		if err != nil {
			return err
		}
		if stole {
			continue
		}

		if p.inFlight.Load() == 0 && p.allDequesEmpty() {
			return nil
		}

		// Nothing to do this instant; let another goroutine run before
		// re-checking rather than spinning a full core.
		runtime.Gosched()
	}
}

// stealFromPeer tries every other worker once, starting from a random
// offset so workers don't all pile onto worker 0 when they fall idle
// together.
func (p *Pool) stealFromPeer(ctx context.Context, id int, worker *Worker) (stole bool, err error) {
	n := len(p.stealers)
	if n <= 1 {
		return false, nil
	}

	start := rand.Intn(n)
	for attempt := 0; attempt < n; attempt++ {
		victim := (start + attempt) % n
		if victim == id {
			continue
		}

		res := p.stealers[victim].Steal()
		if res.IsRetry() {
			metricStealRetriesTotal.WithLabelValues(p.cfg.Name).Inc()
			continue
		}
		if job, ok := res.Success(); ok {
			metricStealsTotal.WithLabelValues(p.cfg.Name).Inc()
			level.Debug(p.logger).Log("msg", "stole job", "pool", p.cfg.Name, "from", victim, "to", id)
			return true, p.execute(ctx, job, worker)
		}
	}
	return false, nil
}

func (p *Pool) execute(ctx context.Context, job Job, worker *Worker) error {
	defer func() {
		p.inFlight.Dec()
		metricQueueLength.WithLabelValues(p.cfg.Name).Set(float64(p.inFlight.Load()))
	}()
	err := job(ctx, worker)
	p.processed.Inc()
	metricJobsProcessedTotal.WithLabelValues(p.cfg.Name).Inc()
	if err != nil {
		level.Error(p.logger).Log("msg", "job failed", "pool", p.cfg.Name, "err", err)
	}
	return err
}

func (p *Pool) allDequesEmpty() bool {
	for _, s := range p.stealers {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

// Len reports the number of jobs submitted or spawned but not yet
// finished.
func (p *Pool) Len() int {
	return int(p.inFlight.Load())
}
