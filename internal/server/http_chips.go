package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/events"
	"github.com/tagwerk/chiptrace/internal/idgen"
	"github.com/tagwerk/chiptrace/internal/lifecycle"
	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

type registerChipInput struct {
	UID       string `json:"uid"`
	CreatedBy string `json:"created_by"`
}

// handleRegisterChip handles POST /v1/chips. A registered chip starts its
// life in transit from the supplier.
func (s *ChipsServer) handleRegisterChip(w http.ResponseWriter, r *http.Request) {
	var in registerChipInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(in.UID) == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	id, err := idgen.NewChipID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate chip id")
		return
	}

	now := time.Now().UTC()
	chip := &model.Chip{
		ID:        id,
		UID:       in.UID,
		Status:    model.StatusInTransit,
		CreatedAt: now,
		CreatedBy: in.CreatedBy,
		UpdatedAt: now,
	}
	if err := model.ValidateChip(chip); err != nil {
		writeDomainError(w, err)
		return
	}

	err = s.store.RunInTransaction(r.Context(), func(tx store.Store) error {
		if err := tx.CreateChip(r.Context(), chip); err != nil {
			return err
		}
		return tx.AppendLedger(r.Context(), &model.LedgerEntry{
			ChipID:     chip.ID,
			FromStatus: "",
			ToStatus:   model.StatusInTransit,
			Actor:      in.CreatedBy,
			Notes:      "registered",
			CreatedAt:  now,
		})
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register chip")
		return
	}

	s.publish(r.Context(), events.TopicChipRegistered, events.ChipRegistered{Chip: chip})

	writeJSON(w, http.StatusCreated, chip)
}

// handleListChips handles GET /v1/chips.
func (s *ChipsServer) handleListChips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ChipFilter{
		CustomerRef:     q.Get("customer_ref"),
		OrderRef:        q.Get("order_ref"),
		ControlPointRef: q.Get("control_point_ref"),
		UID:             q.Get("uid"),
		Sort:            q.Get("sort"),
	}

	if v := q.Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			filter.Status = append(filter.Status, model.ChipStatus(st))
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	chips, total, err := s.store.ListChips(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chips")
		return
	}

	// Ensure chips is never null in JSON output.
	if chips == nil {
		chips = []*model.Chip{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chips": chips,
		"total": total,
	})
}

// handleGetChip handles GET /v1/chips/{id}.
func (s *ChipsServer) handleGetChip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	chip, err := s.store.GetChip(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "chip not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chip")
		return
	}

	writeJSON(w, http.StatusOK, chip)
}

// handleGetLedger handles GET /v1/chips/{id}/ledger.
func (s *ChipsServer) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	// 404 for an unknown chip, not an empty history.
	if _, err := s.store.GetChip(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "chip not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get chip")
		return
	}

	entries, err := s.store.GetLedger(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get ledger")
		return
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

type evidenceInput struct {
	ManifestMatched bool   `json:"manifest_matched"`
	Salt            string `json:"salt"`
	Checksum        string `json:"checksum"`
	CustomerRef     string `json:"customer_ref"`
	OrderRef        string `json:"order_ref"`
	ControlPointRef string `json:"control_point_ref"`
	ReplacementID   string `json:"replacement_id"`
	Notes           string `json:"notes"`
}

type transitionInput struct {
	Target   string               `json:"target"`
	Actor    string               `json:"actor"`
	Evidence evidenceInput        `json:"evidence"`
	Scan     *chipauth.ScanReport `json:"scan,omitempty"`
}

// handleTransition handles POST /v1/chips/{id}/transition. When the request
// carries a scan report, the server verifies it and treats a pass as the
// checksum-verification evidence; clients never assert verification themselves.
func (s *ChipsServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var in transitionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	target := model.ChipStatus(in.Target)
	if !target.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid target status")
		return
	}

	ev := lifecycle.Evidence{
		ManifestMatched: in.Evidence.ManifestMatched,
		Salt:            in.Evidence.Salt,
		Checksum:        in.Evidence.Checksum,
		CustomerRef:     in.Evidence.CustomerRef,
		OrderRef:        in.Evidence.OrderRef,
		ControlPointRef: in.Evidence.ControlPointRef,
		ReplacementID:   in.Evidence.ReplacementID,
		Notes:           in.Evidence.Notes,
	}

	current, err := s.store.GetChip(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "chip not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chip")
		return
	}
	from := current.Status

	if in.Scan != nil {
		res := chipauth.Verify(current, in.Scan.UID, in.Scan.ClaimedChecksum)
		if !res.Authentic {
			if res.Reason == chipauth.ReasonMismatch {
				slog.Warn("checksum mismatch on transition scan; possible cloned tag",
					"chip_id", id, "uid", in.Scan.UID)
			}
			s.publish(r.Context(), events.TopicScanRejected, events.ScanRejected{
				ChipID: id,
				UID:    in.Scan.UID,
				Reason: string(res.Reason),
			})
			writeError(w, http.StatusForbidden, "scan rejected: "+string(res.Reason))
			return
		}
		ev.ChecksumVerified = true
	}

	chip, err := s.lifecycle.RequestTransition(r.Context(), id, target, in.Actor, ev)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.recordDevice(r, "transition", in.Actor, chip.ControlPointRef)
	s.publish(r.Context(), events.TopicChipTransitioned, events.ChipTransitioned{
		Chip:       chip,
		FromStatus: from,
		Actor:      in.Actor,
	})

	writeJSON(w, http.StatusOK, chip)
}

type encodeChipInput struct {
	Actor string `json:"actor"`
	Notes string `json:"notes"`
}

// handleEncodeChip handles POST /v1/chips/{id}/encode. It generates fresh
// secret material, moves the chip to in_stock, and returns the checksum the
// workshop writer must burn into the tag's protected sector. The salt never
// leaves the service.
func (s *ChipsServer) handleEncodeChip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var in encodeChipInput
	_ = json.NewDecoder(r.Body).Decode(&in)

	chip, err := s.store.GetChip(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "chip not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chip")
		return
	}

	material, err := chipauth.Encode(chip.UID, chip.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret material")
		return
	}

	chip, err = s.lifecycle.RequestTransition(r.Context(), id, model.StatusInStock, in.Actor, lifecycle.Evidence{
		Salt:     material.Salt,
		Checksum: material.Checksum,
		Notes:    in.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.publish(r.Context(), events.TopicChipEncoded, events.ChipEncoded{Chip: chip})

	writeJSON(w, http.StatusOK, map[string]any{
		"chip":     chip,
		"checksum": material.Checksum,
	})
}
