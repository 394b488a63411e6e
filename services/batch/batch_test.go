package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

type fakeLedger struct {
	treasury decimal.Decimal
	fails    map[string]error
	gate     chan struct{}

	mu       sync.Mutex
	fills    int
	comments []string
	inflight int32
	peak     int32
}

func (f *fakeLedger) GetTreasuryAmount(context.Context) (decimal.Decimal, error) {
	return f.treasury, nil
}

func (f *fakeLedger) FillAccount(ctx context.Context, destination string, amount decimal.Decimal, comment string) (coin.Transaction, error) {
	n := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	f.fills++
	f.comments = append(f.comments, comment)
	f.mu.Unlock()

	if err := f.fails[destination]; err != nil {
		return coin.Transaction{}, err
	}
	return coin.Transaction{
		AccountID: destination,
		Amount:    &amount,
		Comment:   comment,
		Status:    coin.StatusSuccess,
	}, nil
}

func (f *fakeLedger) fillCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fills
}

func rows(pairs ...any) []Row {
	var out []Row
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Row{AccountID: pairs[i].(string), Amount: decimal.NewFromInt(int64(pairs[i+1].(int)))})
	}
	return out
}

func waitDone(t *testing.T, o *Orchestrator, id string) Progress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := o.CheckProgress(id)
		require.NoError(t, err)
		if p.Done() {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return Progress{}
}

func TestSubmitRejectsBatchOverTreasury(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(1000)}
	o := New(ledger, 2, nil)

	_, err := o.Submit(context.Background(), rows("alice", 700, "bob", 500))
	require.ErrorIs(t, err, coin.ErrInsufficientTreasury)
	require.NoError(t, o.Shutdown(context.Background()))
	assert.Zero(t, ledger.fillCount())
}

func TestSubmitWithinTreasuryFillsEveryRow(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(1000)}
	o := New(ledger, 2, nil)

	id, err := o.Submit(context.Background(), rows("alice", 500, "bob", 300))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	p := waitDone(t, o, id)
	assert.Equal(t, 2, p.Total)
	require.Len(t, p.Transactions, 2)
	for _, tx := range p.Transactions {
		assert.Equal(t, coin.StatusSuccess, tx.Status)
	}
	assert.Equal(t, "alice", p.Transactions[0].AccountID)
	assert.Equal(t, "bob", p.Transactions[1].AccountID)
	assert.Contains(t, ledger.comments, "Filling account alice by 500 coins")
}

func TestSubmitAcceptsExactTreasury(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(10)}
	o := New(ledger, 1, nil)

	id, err := o.Submit(context.Background(), rows("alice", 4, "bob", 6))
	require.NoError(t, err)
	waitDone(t, o, id)
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	o := New(&fakeLedger{}, 1, nil)
	_, err := o.Submit(context.Background(), nil)
	require.ErrorIs(t, err, coin.ErrInvalidBatchFormat)
}

func TestFailedTaskYieldsFailedRecord(t *testing.T) {
	ledger := &fakeLedger{
		treasury: decimal.NewFromInt(100),
		fails:    map[string]error{"dave": fmt.Errorf("%w: dave", coin.ErrAccountNotBound)},
	}
	o := New(ledger, 4, nil)

	id, err := o.Submit(context.Background(), rows("alice", 1, "dave", 2))
	require.NoError(t, err)

	p := waitDone(t, o, id)
	require.Len(t, p.Transactions, 2)
	assert.Equal(t, coin.StatusSuccess, p.Transactions[0].Status)
	failed := p.Transactions[1]
	assert.Equal(t, coin.StatusFailed, failed.Status)
	assert.Equal(t, "dave", failed.AccountID)
	assert.True(t, failed.Amount.Equal(decimal.NewFromInt(2)))
	assert.Contains(t, failed.Error, coin.ErrAccountNotBound.Error())
}

func TestCheckProgressDoesNotBlock(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(100), gate: make(chan struct{})}
	o := New(ledger, 1, nil)

	id, err := o.Submit(context.Background(), rows("alice", 1, "bob", 1, "carol", 1))
	require.NoError(t, err)

	p, err := o.CheckProgress(id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 0, p.Completed)
	assert.Nil(t, p.Transactions)

	close(ledger.gate)
	waitDone(t, o, id)
	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ledger.peak))
}

func TestCheckProgressUnknownJob(t *testing.T) {
	o := New(&fakeLedger{}, 1, nil)
	_, err := o.CheckProgress("missing")
	require.ErrorIs(t, err, coin.ErrJobNotFound)
}

func TestShutdownHonoursContext(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(100), gate: make(chan struct{})}
	o := New(ledger, 1, nil)
	_, err := o.Submit(context.Background(), rows("alice", 1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.True(t, errors.Is(o.Shutdown(ctx), context.DeadlineExceeded))

	close(ledger.gate)
	require.NoError(t, o.Shutdown(context.Background()))
}

func TestSubmitKeepsGoroutinesBounded(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(1_000_000), gate: make(chan struct{})}
	o := New(ledger, 2, nil)

	many := make([]Row, 5000)
	for i := range many {
		many[i] = Row{AccountID: fmt.Sprintf("acct-%d", i), Amount: decimal.NewFromInt(1)}
	}

	before := runtime.NumGoroutine()
	id, err := o.Submit(context.Background(), many)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	if grown := runtime.NumGoroutine() - before; grown > 10 {
		t.Fatalf("submit started %d goroutines for %d rows", grown, len(many))
	}

	close(ledger.gate)
	p := waitDone(t, o, id)
	assert.Len(t, p.Transactions, len(many))
	assert.LessOrEqual(t, atomic.LoadInt32(&ledger.peak), int32(2))
	require.NoError(t, o.Shutdown(context.Background()))
}

func TestSubmitAfterShutdownIsRejected(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(100)}
	o := New(ledger, 2, nil)
	require.NoError(t, o.Shutdown(context.Background()))

	_, err := o.Submit(context.Background(), rows("alice", 1))
	require.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, ledger.fillCount())
}

func TestSubmitRacingShutdown(t *testing.T) {
	ledger := &fakeLedger{treasury: decimal.NewFromInt(1000)}
	o := New(ledger, 2, nil)

	var (
		wg       sync.WaitGroup
		accepted int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Submit(context.Background(), rows("alice", 1, "bob", 1))
			if err == nil {
				atomic.AddInt32(&accepted, 1)
				return
			}
			assert.ErrorIs(t, err, ErrClosed)
		}()
	}
	require.NoError(t, o.Shutdown(context.Background()))
	wg.Wait()

	// every accepted job ran to completion before Shutdown returned or was
	// rejected outright
	assert.Equal(t, int(atomic.LoadInt32(&accepted))*2, ledger.fillCount())
}
