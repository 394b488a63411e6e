package ledger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/pkg/logger"
)

// Refresher periodically re-reads balances so cached account amounts track
// the chain.
type Refresher struct {
	engine  *Engine
	cron    *cron.Cron
	timeout time.Duration
	log     *logger.Logger
}

// NewRefresher schedules a refresh of every account type on spec (standard
// five-field cron syntax or descriptors such as "@every 10m").
func NewRefresher(engine *Engine, spec string, log *logger.Logger) (*Refresher, error) {
	if log == nil {
		log = logger.NewDefault("ledger-refresher")
	}
	r := &Refresher{
		engine:  engine,
		cron:    cron.New(),
		timeout: 5 * time.Minute,
		log:     log,
	}
	if _, err := r.cron.AddFunc(spec, r.RefreshAll); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the schedule.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running refresh up to ctx.
func (r *Refresher) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RefreshAll refreshes cached amounts of every account type.
func (r *Refresher) RefreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	for _, typ := range []coin.AccountType{coin.AccountRegular, coin.AccountMerchant} {
		total, err := r.engine.GetAmountByAccountType(ctx, typ)
		if err != nil {
			r.log.WithError(err).WithField("type", typ).Warn("balance refresh failed")
			continue
		}
		r.log.WithField("type", typ).WithField("total", total.String()).Debug("balances refreshed")
	}
}
