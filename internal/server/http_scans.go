package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/events"
)

type verifyScanInput struct {
	chipauth.ScanReport
	Operator string `json:"operator,omitempty"`
}

// handleVerifyScan handles POST /v1/scans/verify. It authenticates one scan
// report against the stored secret material and reports the outcome without
// changing any state.
func (s *ChipsServer) handleVerifyScan(w http.ResponseWriter, r *http.Request) {
	var in verifyScanInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.ChipID == "" && in.UID == "" {
		writeError(w, http.StatusBadRequest, "chip_id or uid is required")
		return
	}

	// Resolve the chip by ID when the reader decoded one, otherwise by the
	// hardware UID.
	chip, err := s.store.GetChip(r.Context(), in.ChipID)
	if in.ChipID == "" || errors.Is(err, sql.ErrNoRows) {
		chip, err = s.store.GetChipByUID(r.Context(), in.UID)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusInternalServerError, "failed to get chip")
		return
	}

	res := chipauth.Verify(chip, in.UID, in.ClaimedChecksum)

	controlPoint := ""
	chipID := in.ChipID
	if chip != nil {
		controlPoint = chip.ControlPointRef
		chipID = chip.ID
	}
	s.recordDevice(r, "verify", in.Operator, controlPoint)

	if !res.Authentic {
		if res.Reason == chipauth.ReasonMismatch {
			slog.Warn("checksum mismatch on verify; possible cloned tag",
				"chip_id", chipID, "uid", in.UID)
		}
		s.publish(r.Context(), events.TopicScanRejected, events.ScanRejected{
			ChipID: chipID,
			UID:    in.UID,
			Reason: string(res.Reason),
		})
		writeJSON(w, http.StatusOK, res)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authentic": true,
		"chip":      chip,
	})
}
