// Package batch runs bulk account fills in the background.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/metrics"
	"github.com/R3E-Network/coin_service/pkg/logger"
)

// DefaultWorkers bounds concurrent fills when no limit is configured.
const DefaultWorkers = 4

// ErrClosed is returned by Submit once Shutdown has started.
var ErrClosed = errors.New("batch orchestrator is shutting down")

// Ledger is the part of the audited ledger a batch needs.
type Ledger interface {
	FillAccount(ctx context.Context, destination string, amount decimal.Decimal, comment string) (coin.Transaction, error)
	GetTreasuryAmount(ctx context.Context) (decimal.Decimal, error)
}

// Progress reports a job. Transactions is filled only once every task is
// done, in row order.
type Progress struct {
	Completed    int                `json:"completed"`
	Total        int                `json:"total"`
	Transactions []coin.Transaction `json:"transactions,omitempty"`
}

// Done reports whether every task finished.
func (p Progress) Done() bool { return p.Completed == p.Total }

type result struct {
	tx  coin.Transaction
	err error
}

type job struct {
	mu        sync.Mutex
	rows      []Row
	results   []result
	next      int
	completed int
}

// take hands out the next queued row index.
func (j *job) take() (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.next >= len(j.rows) {
		return 0, false
	}
	i := j.next
	j.next++
	return i, true
}

func (j *job) finish(i int, tx coin.Transaction, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[i] = result{tx: tx, err: err}
	j.completed++
}

func (j *job) progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := Progress{Completed: j.completed, Total: len(j.rows)}
	if !p.Done() {
		return p
	}
	p.Transactions = make([]coin.Transaction, 0, len(j.results))
	for i, res := range j.results {
		if res.err != nil {
			p.Transactions = append(p.Transactions, coin.Failed(j.rows[i].AccountID, j.rows[i].Amount, res.err))
			continue
		}
		p.Transactions = append(p.Transactions, res.tx)
	}
	return p
}

// Orchestrator schedules fill tasks on a bounded pool and tracks jobs by id.
// Jobs are kept for the life of the process.
type Orchestrator struct {
	ledger  Ledger
	sem     *semaphore.Weighted
	workers int
	log     *logger.Logger

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool

	wg sync.WaitGroup
}

// New creates an orchestrator running at most workers fills at once.
func New(ledger Ledger, workers int, log *logger.Logger) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = logger.NewDefault("batch")
	}
	return &Orchestrator{
		ledger:  ledger,
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		log:     log,
		jobs:    make(map[string]*job),
	}
}

// Submit validates rows against the live treasury balance and queues one
// fill per row. It returns the job id without waiting for the fills.
func (o *Orchestrator) Submit(ctx context.Context, rows []Row) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: no rows", coin.ErrInvalidBatchFormat)
	}
	if o.isClosed() {
		return "", ErrClosed
	}

	total := decimal.Zero
	for _, row := range rows {
		if row.Amount.IsNegative() {
			return "", fmt.Errorf("%w: %s for %s", coin.ErrInvalidAmount, row.Amount, row.AccountID)
		}
		total = total.Add(row.Amount)
	}
	treasury, err := o.ledger.GetTreasuryAmount(ctx)
	if err != nil {
		return "", err
	}
	if total.GreaterThan(treasury) {
		return "", fmt.Errorf("%w: batch needs %s, treasury holds %s", coin.ErrInsufficientTreasury, total, treasury)
	}

	id := uuid.NewString()
	j := &job{rows: append([]Row(nil), rows...), results: make([]result, len(rows))}
	workers := min(o.workers, len(j.rows))

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	o.jobs[id] = j
	o.wg.Add(workers)
	o.mu.Unlock()
	metrics.RecordBatchJob()

	// Tasks outlive the submitting request.
	taskCtx := context.WithoutCancel(ctx)
	for w := 0; w < workers; w++ {
		go o.work(taskCtx, id, j)
	}

	o.log.WithField("job", id).WithField("rows", len(rows)).WithField("total", total.String()).Info("batch fill submitted")
	return id, nil
}

// work drains j's queue. The shared semaphore bounds fills across jobs.
func (o *Orchestrator) work(ctx context.Context, id string, j *job) {
	defer o.wg.Done()
	for {
		i, ok := j.take()
		if !ok {
			return
		}
		if err := o.sem.Acquire(ctx, 1); err != nil {
			j.finish(i, coin.Transaction{}, err)
			metrics.RecordBatchTask(false)
			continue
		}
		o.fill(ctx, id, j, i)
		o.sem.Release(1)
	}
}

func (o *Orchestrator) fill(ctx context.Context, id string, j *job, i int) {
	row := j.rows[i]
	comment := fmt.Sprintf("Filling account %s by %s coins", row.AccountID, row.Amount)
	tx, err := o.ledger.FillAccount(ctx, row.AccountID, row.Amount, comment)
	if err != nil {
		o.log.WithError(err).WithField("job", id).WithField("account", row.AccountID).Warn("batch fill failed")
	}
	j.finish(i, tx, err)
	metrics.RecordBatchTask(err == nil)
}

// CheckProgress reports job id without waiting on running tasks.
func (o *Orchestrator) CheckProgress(id string) (Progress, error) {
	o.mu.RLock()
	j, ok := o.jobs[id]
	o.mu.RUnlock()
	if !ok {
		return Progress{}, fmt.Errorf("%w: %s", coin.ErrJobNotFound, id)
	}
	return j.progress(), nil
}

// Shutdown rejects further submissions and waits for queued tasks until ctx
// is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}
