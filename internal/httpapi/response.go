package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/services/batch"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WriteJSON writes data as a JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

// WriteError writes a failed envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, APIResponse{Success: false, Error: message})
}

// ReadJSON decodes the request body into v.
func ReadJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("empty request body")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// StatusFor maps a ledger error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, coin.ErrInvalidAmount), errors.Is(err, coin.ErrInvalidBatchFormat):
		return http.StatusBadRequest
	case errors.Is(err, coin.ErrInsufficientFunds), errors.Is(err, coin.ErrInsufficientTreasury):
		return http.StatusConflict
	case errors.Is(err, coin.ErrAccountNotFound), errors.Is(err, coin.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, coin.ErrAccountNotBound), errors.Is(err, coin.ErrPoolExhausted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, coin.ErrLedgerProcessing):
		return http.StatusBadGateway
	case errors.Is(err, batch.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	entry := s.log.WithError(err).WithField("path", r.URL.Path).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteError(w, status, msg)
}
