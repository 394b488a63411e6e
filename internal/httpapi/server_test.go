package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/services/batch"
)

type stubLedger struct {
	err      error
	amount   decimal.Decimal
	lastCall string
	image    bool
}

func (l *stubLedger) tx(call string, account string, amount decimal.Decimal) (coin.Transaction, error) {
	l.lastCall = call
	if l.err != nil {
		return coin.Transaction{}, l.err
	}
	return coin.Transaction{AccountID: account, Amount: &amount, Status: coin.StatusSuccess}, nil
}

func (l *stubLedger) GetAmount(context.Context, string) (decimal.Decimal, error) {
	return l.amount, l.err
}

func (l *stubLedger) GetTreasuryAmount(context.Context) (decimal.Decimal, error) {
	return l.amount, l.err
}

func (l *stubLedger) GetAmountByAccountType(context.Context, coin.AccountType) (decimal.Decimal, error) {
	return l.amount, l.err
}

func (l *stubLedger) FillAccount(_ context.Context, destination string, amount decimal.Decimal, _ string) (coin.Transaction, error) {
	return l.tx("fill", destination, amount)
}

func (l *stubLedger) Distribute(context.Context, decimal.Decimal, string) error {
	l.lastCall = "distribute"
	return l.err
}

func (l *stubLedger) Move(_ context.Context, source, _ string, amount decimal.Decimal, _ string) (coin.Transaction, error) {
	return l.tx("move", source, amount)
}

func (l *stubLedger) Buy(_ context.Context, _, source string, amount decimal.Decimal, _ string) (coin.Transaction, error) {
	return l.tx("buy", source, amount)
}

func (l *stubLedger) MoveToTreasury(_ context.Context, source string, amount decimal.Decimal, _ string) (coin.Transaction, error) {
	return l.tx("moveToTreasury", source, amount)
}

func (l *stubLedger) Withdraw(_ context.Context, _ string, _ decimal.Decimal, _ string, wantsImage bool) ([]byte, error) {
	l.lastCall = "withdraw"
	l.image = wantsImage
	if l.err != nil {
		return nil, l.err
	}
	if wantsImage {
		return []byte("\x89PNG"), nil
	}
	return []byte(`{"chequeHash":"beef"}`), nil
}

func (l *stubLedger) Deposit(_ context.Context, cheque coin.Cheque, source, _ string) (coin.Transaction, error) {
	return l.tx("deposit", source, cheque.Amount)
}

type stubBatches struct {
	rows []batch.Row
	err  error
}

func (b *stubBatches) Submit(_ context.Context, rows []batch.Row) (string, error) {
	b.rows = rows
	if b.err != nil {
		return "", b.err
	}
	return "job-1", nil
}

func (b *stubBatches) CheckProgress(id string) (batch.Progress, error) {
	if id != "job-1" {
		return batch.Progress{}, fmt.Errorf("%w: %s", coin.ErrJobNotFound, id)
	}
	return batch.Progress{Completed: 1, Total: 2}, nil
}

type stubAccounts struct{}

func (stubAccounts) AddMerchant(_ context.Context, name string) (coin.Account, error) {
	return coin.Account{ID: name, Type: coin.AccountMerchant}, nil
}

func newTestServer(ledger *stubLedger, batches *stubBatches) *Server {
	return NewServer(Deps{Ledger: ledger, Batches: batches, Accounts: stubAccounts{}}, Config{}, nil)
}

func do(t *testing.T, s *Server, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		coin.ErrInvalidAmount:                                 http.StatusBadRequest,
		coin.ErrInvalidBatchFormat:                            http.StatusBadRequest,
		coin.InsufficientFunds("a", "1", "2"):                 http.StatusConflict,
		coin.ErrInsufficientTreasury:                          http.StatusConflict,
		coin.ErrAccountNotFound:                               http.StatusNotFound,
		coin.ErrJobNotFound:                                   http.StatusNotFound,
		fmt.Errorf("%w: dave", coin.ErrAccountNotBound):       http.StatusUnprocessableEntity,
		coin.ErrPoolExhausted:                                 http.StatusUnprocessableEntity,
		coin.Processing("transfer", "N1", errors.New("boom")): http.StatusBadGateway,
		batch.ErrClosed:                                       http.StatusServiceUnavailable,
		errors.New("unexpected"):                              http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Fatalf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&stubLedger{}, &stubBatches{}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountAmount(t *testing.T) {
	s := newTestServer(&stubLedger{amount: decimal.NewFromInt(42)}, &stubBatches{})
	rec := do(t, s, http.MethodGet, "/v1/accounts/alice/amount", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"amount":"42"}}`, rec.Body.String())
}

func TestAmountByTypeRejectsUnknownType(t *testing.T) {
	rec := do(t, newTestServer(&stubLedger{}, &stubBatches{}), http.MethodGet, "/v1/amount/VIP", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFill(t *testing.T) {
	ledger := &stubLedger{}
	s := newTestServer(ledger, &stubBatches{})

	rec := do(t, s, http.MethodPost, "/v1/fill", "application/json", `{"account":"alice","amount":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fill", ledger.lastCall)
	assert.True(t, decodeResponse(t, rec).Success)

	rec = do(t, s, http.MethodPost, "/v1/fill", "application/json", `{"amount":"100"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/fill", "application/json", `{"account":"alice","amount":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedgerErrorsMapToStatus(t *testing.T) {
	ledger := &stubLedger{err: coin.InsufficientFunds("carol", "5", "10")}
	s := newTestServer(ledger, &stubBatches{})

	rec := do(t, s, http.MethodPost, "/v1/move", "application/json",
		`{"source":"carol","destination":"bob","amount":10}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "insufficient funds")

	ledger.err = coin.Processing("transfer", "N1", errors.New("rpc down"))
	rec = do(t, s, http.MethodPost, "/v1/buy", "application/json",
		`{"merchant":"shop","account":"alice","amount":1}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWithdrawImage(t *testing.T) {
	ledger := &stubLedger{}
	s := newTestServer(ledger, &stubBatches{})

	rec := do(t, s, http.MethodPost, "/v1/withdraw?image=true", "application/json", `{"account":"bob","amount":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, ledger.image)

	rec = do(t, s, http.MethodPost, "/v1/withdraw", "application/json", `{"account":"bob","amount":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chequeHash":"beef"}`, rec.Body.String())
}

func TestDepositRequiresCheque(t *testing.T) {
	s := newTestServer(&stubLedger{}, &stubBatches{})
	rec := do(t, s, http.MethodPost, "/v1/deposit", "application/json", `{"account":"bob","cheque":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchSubmitAndProgress(t *testing.T) {
	batches := &stubBatches{}
	s := newTestServer(&stubLedger{}, batches)

	rec := do(t, s, http.MethodPost, "/v1/fill/batch", "text/csv", "account,coins\nalice,500\nbob,300\n")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, batches.rows, 2)
	assert.JSONEq(t, `{"success":true,"data":{"jobId":"job-1"}}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/v1/fill/batch/job-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/fill/batch/other", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/fill/batch", "application/json", "{}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	batches.err = coin.ErrInsufficientTreasury
	rec = do(t, s, http.MethodPost, "/v1/fill/batch", "text/csv", "account,coins\nalice,1200\n")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddMerchant(t *testing.T) {
	s := newTestServer(&stubLedger{}, &stubBatches{})
	rec := do(t, s, http.MethodPost, "/v1/merchants", "application/json", `{"name":" cafe "}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "cafe")
}

func TestRateLimit(t *testing.T) {
	s := NewServer(Deps{Ledger: &stubLedger{}}, Config{RateLimit: 1, RateBurst: 1}, nil)

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/treasury/amount", bytes.NewReader(nil))
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])

	// other clients keep their own budget
	req := httptest.NewRequest(http.MethodGet, "/v1/treasury/amount", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
