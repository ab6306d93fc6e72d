package server

import (
	"encoding/json"
	"net/http"

	"github.com/tagwerk/chiptrace/internal/events"
	"github.com/tagwerk/chiptrace/internal/model"
)

type allocateInput struct {
	CustomerRef string `json:"customer_ref"`
	OrderRef    string `json:"order_ref"`
	Count       int    `json:"count"`
	Actor       string `json:"actor"`
}

// handleAllocate handles POST /v1/allocations. The claim is all-or-nothing;
// a short stock pool leaves every chip untouched.
func (s *ChipsServer) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var in allocateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chips, err := s.allocator.Allocate(r.Context(), in.CustomerRef, in.OrderRef, in.Count, in.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if chips == nil {
		chips = []*model.Chip{}
	}

	ids := make([]string, 0, len(chips))
	for _, c := range chips {
		ids = append(ids, c.ID)
	}
	s.publish(r.Context(), events.TopicStockAllocated, events.StockAllocated{
		CustomerRef: in.CustomerRef,
		OrderRef:    in.OrderRef,
		ChipIDs:     ids,
		Actor:       in.Actor,
	})

	writeJSON(w, http.StatusCreated, map[string]any{
		"chips": chips,
		"total": len(chips),
	})
}
