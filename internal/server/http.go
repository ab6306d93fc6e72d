package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tagwerk/chiptrace/internal/execution"
	"github.com/tagwerk/chiptrace/internal/lifecycle"
	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/presence"
	"github.com/tagwerk/chiptrace/internal/stock"
	"github.com/tagwerk/chiptrace/internal/store"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *ChipsServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chips", s.handleRegisterChip)
	mux.HandleFunc("GET /v1/chips", s.handleListChips)
	mux.HandleFunc("GET /v1/chips/{id}", s.handleGetChip)
	mux.HandleFunc("GET /v1/chips/{id}/ledger", s.handleGetLedger)
	mux.HandleFunc("POST /v1/chips/{id}/transition", s.handleTransition)
	mux.HandleFunc("POST /v1/chips/{id}/encode", s.handleEncodeChip)
	mux.HandleFunc("POST /v1/scans/verify", s.handleVerifyScan)
	mux.HandleFunc("POST /v1/allocations", s.handleAllocate)
	mux.HandleFunc("POST /v1/executions", s.handleOpenExecution)
	mux.HandleFunc("GET /v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /v1/executions/{id}/close", s.handleCloseExecution)
	mux.HandleFunc("POST /v1/executions/{id}/abandon", s.handleAbandonExecution)
	mux.HandleFunc("GET /v1/stats", s.handleGetStats)
	mux.HandleFunc("GET /v1/devices/roster", s.handleDeviceRoster)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, RecoveryMiddleware(LoggingMiddleware(mux)))
}

// handleHealth handles GET /v1/health.
func (s *ChipsServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetStats handles GET /v1/stats.
func (s *ChipsServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count chips")
		return
	}

	byStatus := make(map[string]int, len(counts))
	total := 0
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"by_status": byStatus,
	})
}

// handleDeviceRoster handles GET /v1/devices/roster.
func (s *ChipsServer) handleDeviceRoster(w http.ResponseWriter, r *http.Request) {
	roster := s.Presence.Roster(0)
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": roster,
		"total":   len(roster),
	})
}

// recordDevice notes the scanning device on the presence roster, if the
// request identifies one.
func (s *ChipsServer) recordDevice(r *http.Request, action, operator, controlPointRef string) {
	deviceID := r.Header.Get("X-Device-ID")
	if deviceID == "" {
		return
	}
	s.Presence.RecordScan(presence.ScanEvent{
		DeviceID:        deviceID,
		Action:          action,
		Operator:        operator,
		ControlPointRef: controlPointRef,
	})
}

// writeDomainError maps a domain error to an HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		illegalEdge  *lifecycle.IllegalEdgeError
		precondition *lifecycle.PreconditionError
		notEligible  *execution.NotEligibleError
		authErr      *execution.AuthError
		insufficient *store.InsufficientStockError
		validation   *model.ValidationError
		input        inputError
	)
	switch {
	case errors.As(err, &input):
		writeError(w, http.StatusBadRequest, input.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &precondition):
		writeError(w, http.StatusBadRequest, precondition.Error())
	case errors.Is(err, execution.ErrReasonRequired), errors.Is(err, stock.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &authErr):
		writeError(w, http.StatusForbidden, authErr.Error())
	case errors.Is(err, lifecycle.ErrChipNotFound),
		errors.Is(err, execution.ErrWindowNotFound),
		errors.Is(err, execution.ErrSchedulableNotFound),
		errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &illegalEdge),
		errors.As(err, &notEligible),
		errors.As(err, &insufficient),
		errors.Is(err, execution.ErrAlreadyOpen),
		errors.Is(err, execution.ErrTokenMismatch),
		errors.Is(err, execution.ErrWindowNotOpen),
		errors.Is(err, store.ErrStale):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
