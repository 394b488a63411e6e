package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/services/batch"
)

// maxBatchBody bounds an uploaded batch file.
const maxBatchBody = 10 << 20

type amountResponse struct {
	Amount decimal.Decimal `json:"amount"`
}

type fillRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	Comment string          `json:"comment,omitempty"`
}

type distributeRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Comment string          `json:"comment,omitempty"`
}

type moveRequest struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Comment     string          `json:"comment,omitempty"`
}

type buyRequest struct {
	Merchant string          `json:"merchant"`
	Account  string          `json:"account"`
	Amount   decimal.Decimal `json:"amount"`
	Comment  string          `json:"comment,omitempty"`
}

type depositRequest struct {
	Account string      `json:"account"`
	Cheque  coin.Cheque `json:"cheque"`
	Comment string      `json:"comment,omitempty"`
}

type merchantRequest struct {
	Name string `json:"name"`
}

type batchResponse struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAccountAmount(w http.ResponseWriter, r *http.Request) {
	amount, err := s.deps.Ledger.GetAmount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, amountResponse{Amount: amount})
}

func (s *Server) handleTreasuryAmount(w http.ResponseWriter, r *http.Request) {
	amount, err := s.deps.Ledger.GetTreasuryAmount(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, amountResponse{Amount: amount})
}

func (s *Server) handleAmountByType(w http.ResponseWriter, r *http.Request) {
	typ, ok := coin.ParseAccountType(mux.Vars(r)["type"])
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown account type")
		return
	}
	amount, err := s.deps.Ledger.GetAmountByAccountType(r.Context(), typ)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, amountResponse{Amount: amount})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		WriteError(w, http.StatusNotImplemented, "history not available")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	txs, err := s.deps.History.ListTransactions(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if txs == nil {
		txs = []coin.Transaction{}
	}
	WriteSuccess(w, txs)
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if !s.decode(w, r, &req) || !required(w, req.Account, "account") {
		return
	}
	tx, err := s.deps.Ledger.FillAccount(r.Context(), req.Account, req.Amount, req.Comment)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, tx)
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Ledger.Distribute(r.Context(), req.Amount, req.Comment); err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, nil)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !s.decode(w, r, &req) || !required(w, req.Source, "source") || !required(w, req.Destination, "destination") {
		return
	}
	tx, err := s.deps.Ledger.Move(r.Context(), req.Source, req.Destination, req.Amount, req.Comment)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, tx)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if !s.decode(w, r, &req) || !required(w, req.Merchant, "merchant") || !required(w, req.Account, "account") {
		return
	}
	tx, err := s.deps.Ledger.Buy(r.Context(), req.Merchant, req.Account, req.Amount, req.Comment)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, tx)
}

func (s *Server) handleMoveToTreasury(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if !s.decode(w, r, &req) || !required(w, req.Account, "account") {
		return
	}
	tx, err := s.deps.Ledger.MoveToTreasury(r.Context(), req.Account, req.Amount, req.Comment)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, tx)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if !s.decode(w, r, &req) || !required(w, req.Account, "account") {
		return
	}
	wantsImage, _ := strconv.ParseBool(r.URL.Query().Get("image"))

	payload, err := s.deps.Ledger.Withdraw(r.Context(), req.Account, req.Amount, req.Comment, wantsImage)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if wantsImage {
		w.Header().Set("Content-Type", "image/png")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) || !required(w, req.Account, "account") {
		return
	}
	if req.Cheque.ChequeHash == "" || req.Cheque.TokenContractAddress == "" {
		WriteError(w, http.StatusBadRequest, "cheque is incomplete")
		return
	}
	tx, err := s.deps.Ledger.Deposit(r.Context(), req.Cheque, req.Account, req.Comment)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, tx)
}

func (s *Server) handleBatchSubmit(w http.ResponseWriter, r *http.Request) {
	rows, err := batch.ParseCSV(r.Header.Get("Content-Type"), http.MaxBytesReader(w, r.Body, maxBatchBody))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	id, err := s.deps.Batches.Submit(r.Context(), rows)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: batchResponse{JobID: id}})
}

func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Batches.CheckProgress(mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteSuccess(w, progress)
}

func (s *Server) handleAddMerchant(w http.ResponseWriter, r *http.Request) {
	var req merchantRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !required(w, req.Name, "name") {
		return
	}
	acct, err := s.deps.Accounts.AddMerchant(r.Context(), req.Name)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, APIResponse{Success: true, Data: acct})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := ReadJSON(r, v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func required(w http.ResponseWriter, value, field string) bool {
	if strings.TrimSpace(value) == "" {
		WriteError(w, http.StatusBadRequest, field+" required")
		return false
	}
	return true
}
