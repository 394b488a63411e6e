// Package httpapi exposes the ledger over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/metrics"
	"github.com/R3E-Network/coin_service/pkg/logger"
	"github.com/R3E-Network/coin_service/services/batch"
)

// Ledger is the audited ledger facade.
type Ledger interface {
	GetAmount(ctx context.Context, id string) (decimal.Decimal, error)
	GetTreasuryAmount(ctx context.Context) (decimal.Decimal, error)
	GetAmountByAccountType(ctx context.Context, typ coin.AccountType) (decimal.Decimal, error)
	FillAccount(ctx context.Context, destination string, amount decimal.Decimal, comment string) (coin.Transaction, error)
	Distribute(ctx context.Context, amount decimal.Decimal, comment string) error
	Move(ctx context.Context, source, destination string, amount decimal.Decimal, comment string) (coin.Transaction, error)
	Buy(ctx context.Context, destination, source string, amount decimal.Decimal, comment string) (coin.Transaction, error)
	MoveToTreasury(ctx context.Context, source string, amount decimal.Decimal, comment string) (coin.Transaction, error)
	Withdraw(ctx context.Context, source string, amount decimal.Decimal, comment string, wantsImage bool) ([]byte, error)
	Deposit(ctx context.Context, cheque coin.Cheque, source, comment string) (coin.Transaction, error)
}

// Batches runs bulk fills.
type Batches interface {
	Submit(ctx context.Context, rows []batch.Row) (string, error)
	CheckProgress(id string) (batch.Progress, error)
}

// Accounts creates merchants.
type Accounts interface {
	AddMerchant(ctx context.Context, name string) (coin.Account, error)
}

// History lists audit records.
type History interface {
	ListTransactions(ctx context.Context, accountID string, limit int) ([]coin.Transaction, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Ledger   Ledger
	Batches  Batches
	Accounts Accounts
	History  History
}

// Config tunes the HTTP layer.
type Config struct {
	RateLimit float64
	RateBurst int
}

// Server routes requests to the ledger.
type Server struct {
	deps    Deps
	limiter *RateLimiter
	log     *logger.Logger
	router  *mux.Router
}

// NewServer builds the router. A zero RateLimit disables throttling.
func NewServer(deps Deps, cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("http")
	}
	s := &Server{deps: deps, log: log}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	}
	s.router = s.routes()
	return s
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(metrics.InstrumentHandler)
	if s.limiter != nil {
		api.Use(s.limiter.Handler)
	}

	api.HandleFunc("/accounts/{id}/amount", s.handleAccountAmount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/transactions", s.handleTransactions).Methods(http.MethodGet)
	api.HandleFunc("/treasury/amount", s.handleTreasuryAmount).Methods(http.MethodGet)
	api.HandleFunc("/amount/{type}", s.handleAmountByType).Methods(http.MethodGet)

	api.HandleFunc("/fill", s.handleFill).Methods(http.MethodPost)
	api.HandleFunc("/fill/batch", s.handleBatchSubmit).Methods(http.MethodPost)
	api.HandleFunc("/fill/batch/{id}", s.handleBatchProgress).Methods(http.MethodGet)
	api.HandleFunc("/distribute", s.handleDistribute).Methods(http.MethodPost)
	api.HandleFunc("/move", s.handleMove).Methods(http.MethodPost)
	api.HandleFunc("/buy", s.handleBuy).Methods(http.MethodPost)
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/treasury/move", s.handleMoveToTreasury).Methods(http.MethodPost)
	api.HandleFunc("/merchants", s.handleAddMerchant).Methods(http.MethodPost)
	return r
}
