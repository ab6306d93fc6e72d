package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/events"
	"github.com/tagwerk/chiptrace/internal/execution"
	"github.com/tagwerk/chiptrace/internal/model"
)

type openExecutionInput struct {
	SchedulableRef string              `json:"schedulable_ref"`
	Scan           chipauth.ScanReport `json:"scan"`
	Actor          string              `json:"actor"`
}

// handleOpenExecution handles POST /v1/executions. The opening scan must
// authenticate and the chip must be active at the schedulable's declared
// control point.
func (s *ChipsServer) handleOpenExecution(w http.ResponseWriter, r *http.Request) {
	var in openExecutionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.SchedulableRef == "" {
		writeError(w, http.StatusBadRequest, "schedulable_ref is required")
		return
	}

	win, err := s.coordinator.Open(r.Context(), in.SchedulableRef, in.Scan, in.Actor)
	if err != nil {
		s.publishIfRejected(r, err, in.Scan)
		writeDomainError(w, err)
		return
	}

	s.recordDevice(r, "open", in.Actor, "")
	s.publish(r.Context(), events.TopicWindowOpened, events.WindowOpened{Window: win})

	writeJSON(w, http.StatusCreated, win)
}

// handleGetExecution handles GET /v1/executions/{id}.
func (s *ChipsServer) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	win, err := s.store.GetWindow(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, win)
}

type closeExecutionInput struct {
	Scan    chipauth.ScanReport `json:"scan"`
	Payload model.Payload       `json:"payload"`
	Actor   string              `json:"actor"`
}

// handleCloseExecution handles POST /v1/executions/{id}/close. The closing
// scan must present the same chip that opened the window. Flags computed on
// closure are advisory and never block it.
func (s *ChipsServer) handleCloseExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var in closeExecutionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	win, err := s.coordinator.Close(r.Context(), id, in.Scan, in.Payload)
	if err != nil {
		s.publishIfRejected(r, err, in.Scan)
		writeDomainError(w, err)
		return
	}

	s.recordDevice(r, "close", in.Actor, "")
	s.publish(r.Context(), events.TopicWindowClosed, events.WindowClosed{
		Window: win,
		Flags:  win.Flags.List(),
	})

	writeJSON(w, http.StatusOK, win)
}

type abandonExecutionInput struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// handleAbandonExecution handles POST /v1/executions/{id}/abandon.
func (s *ChipsServer) handleAbandonExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var in abandonExecutionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	win, err := s.coordinator.Abandon(r.Context(), id, in.Actor, in.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordDevice(r, "abandon", in.Actor, "")
	s.publish(r.Context(), events.TopicWindowAbandoned, events.WindowAbandoned{
		Window: win,
		Reason: in.Reason,
	})

	writeJSON(w, http.StatusOK, win)
}

// publishIfRejected emits a scan-rejected event when an execution scan failed
// authentication.
func (s *ChipsServer) publishIfRejected(r *http.Request, err error, scan chipauth.ScanReport) {
	var authErr *execution.AuthError
	if !errors.As(err, &authErr) {
		return
	}
	s.publish(r.Context(), events.TopicScanRejected, events.ScanRejected{
		ChipID: scan.ChipID,
		UID:    scan.UID,
		Reason: string(authErr.Result.Reason),
	})
}
