package execution

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/fraud"
	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/store"
)

// execStore is an in-memory store for coordinator tests. It honors the same
// conditional contracts as the Postgres implementation and is safe for
// concurrent callers.
type execStore struct {
	store.Store

	mu           sync.Mutex
	chips        map[string]*model.Chip
	windows      map[string]*model.ExecutionWindow
	schedulables map[string]*model.Schedulable
	bounds       map[string]map[string]model.Bounds
	history      map[string][]model.Payload

	// afterWindowUpdate, when set, runs after a successful UpdateWindowStatus
	// to interleave store mutations mid-operation.
	afterWindowUpdate func()
}

func newExecStore() *execStore {
	return &execStore{
		chips:        make(map[string]*model.Chip),
		windows:      make(map[string]*model.ExecutionWindow),
		schedulables: make(map[string]*model.Schedulable),
		bounds:       make(map[string]map[string]model.Bounds),
		history:      make(map[string][]model.Payload),
	}
}

func (s *execStore) GetChip(_ context.Context, id string) (*model.Chip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chips[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (s *execStore) StampChipScan(_ context.Context, chipID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chips[chipID]
	if !ok {
		return sql.ErrNoRows
	}
	if c.FirstScanAt == nil {
		first := now
		c.FirstScanAt = &first
	}
	last := now
	c.LastScanAt = &last
	c.UpdatedAt = now
	return nil
}

func (s *execStore) CreateWindow(_ context.Context, w *model.ExecutionWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.windows {
		if existing.SchedulableRef == w.SchedulableRef && existing.Status == model.WindowOpen {
			return store.ErrWindowExists
		}
	}
	cp := *w
	s.windows[w.ID] = &cp
	return nil
}

func (s *execStore) GetWindow(_ context.Context, id string) (*model.ExecutionWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (s *execStore) UpdateWindowStatus(_ context.Context, w *model.ExecutionWindow) error {
	s.mu.Lock()
	current, ok := s.windows[w.ID]
	if !ok || current.Status != model.WindowOpen {
		s.mu.Unlock()
		return store.ErrStale
	}
	cp := *w
	s.windows[w.ID] = &cp
	s.mu.Unlock()
	if s.afterWindowUpdate != nil {
		s.afterWindowUpdate()
	}
	return nil
}

func (s *execStore) GetSchedulable(_ context.Context, ref string) (*model.Schedulable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedulables[ref]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *sc
	return &cp, nil
}

func (s *execStore) GetControlPointBounds(_ context.Context, ref string) (map[string]model.Bounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds[ref], nil
}

func (s *execStore) GetRecentPayloads(_ context.Context, ref string, n int) ([]model.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[ref]
	if len(h) > n {
		h = h[:n]
	}
	return h, nil
}

func (s *execStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// fixture seeds an active chip at cp-1 plus a matching schedulable and
// returns the coordinator, the store, and the chip's genuine scan report.
func fixture(t *testing.T) (*Coordinator, *execStore, chipauth.ScanReport) {
	t.Helper()
	s := newExecStore()

	m, err := chipauth.Encode("04AA", "ch-1")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	s.chips["ch-1"] = &model.Chip{
		ID:              "ch-1",
		UID:             "04AA",
		Status:          model.StatusActive,
		CustomerRef:     "cust-1",
		OrderRef:        "ord-1",
		ControlPointRef: "cp-1",
		SecretSalt:      m.Salt,
		Checksum:        m.Checksum,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.schedulables["task-1"] = &model.Schedulable{
		Ref:             "task-1",
		ControlPointRef: "cp-1",
		TaskType:        "inspection",
		ScheduledAt:     now,
	}

	coord := New(s, fraud.New(fraud.DefaultConfig()), nil)
	scan := chipauth.ScanReport{UID: "04AA", ChipID: "ch-1", ClaimedChecksum: m.Checksum}
	return coord, s, scan
}

func TestOpen(t *testing.T) {
	coord, s, scan := fixture(t)

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if w.Status != model.WindowOpen {
		t.Errorf("status = %s", w.Status)
	}
	if w.ChipID != "ch-1" || w.SchedulableRef != "task-1" || w.OpenedBy != "op-1" {
		t.Errorf("window = %+v", w)
	}

	// The opening scan stamps the chip.
	chip := s.chips["ch-1"]
	if chip.FirstScanAt == nil || chip.LastScanAt == nil {
		t.Error("expected scan stamps on chip")
	}
}

func TestOpen_SecondOpenRejected(t *testing.T) {
	coord, _, scan := fixture(t)

	if _, err := coord.Open(context.Background(), "task-1", scan, "op-1"); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := coord.Open(context.Background(), "task-1", scan, "op-2")
	if !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("got %v, want ErrAlreadyOpen", err)
	}
}

func TestOpen_UnknownSchedulable(t *testing.T) {
	coord, _, scan := fixture(t)
	_, err := coord.Open(context.Background(), "task-ghost", scan, "op-1")
	if !errors.Is(err, ErrSchedulableNotFound) {
		t.Fatalf("got %v, want ErrSchedulableNotFound", err)
	}
}

func TestOpen_RejectedScan(t *testing.T) {
	coord, s, scan := fixture(t)

	scan.ClaimedChecksum = "deadbeef"
	_, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %v, want AuthError", err)
	}
	if authErr.Result.Reason != chipauth.ReasonMismatch {
		t.Errorf("reason = %s", authErr.Result.Reason)
	}
	// No window created, no scan stamped.
	if len(s.windows) != 0 {
		t.Error("rejected scan must not create a window")
	}
	if s.chips["ch-1"].LastScanAt != nil {
		t.Error("rejected scan must not stamp the chip")
	}
}

func TestOpen_ChipNotEligible(t *testing.T) {
	coord, s, scan := fixture(t)

	// Not active.
	s.chips["ch-1"].Status = model.StatusAssignedInactive
	_, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	var ne *NotEligibleError
	if !errors.As(err, &ne) {
		t.Fatalf("inactive chip: got %v, want NotEligibleError", err)
	}

	// Active at the wrong control point.
	s.chips["ch-1"].Status = model.StatusActive
	s.chips["ch-1"].ControlPointRef = "cp-other"
	_, err = coord.Open(context.Background(), "task-1", scan, "op-1")
	if !errors.As(err, &ne) {
		t.Fatalf("wrong control point: got %v, want NotEligibleError", err)
	}
	if !strings.Contains(ne.Detail, "cp-other") {
		t.Errorf("detail = %q", ne.Detail)
	}
}

func TestClose(t *testing.T) {
	coord, _, scan := fixture(t)

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}

	payload := model.Payload{Readings: map[string]float64{"temperature": 21.5}}
	closed, err := coord.Close(context.Background(), w.ID, scan, payload)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != model.WindowClosed {
		t.Errorf("status = %s", closed.Status)
	}
	if closed.SecondScanAt == nil {
		t.Error("expected second scan timestamp")
	}
	if closed.Payload == nil || closed.Payload.Readings["temperature"] != 21.5 {
		t.Error("payload not recorded")
	}
}

func TestClose_FlagsComputedAndAdvisory(t *testing.T) {
	coord, s, scan := fixture(t)

	// Out-of-range bounds plus an instant second scan: two flags, and the
	// window still closes.
	s.bounds["cp-1"] = map[string]model.Bounds{"temperature": {Min: 15, Max: 25}}

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}

	payload := model.Payload{Readings: map[string]float64{"temperature": 80}}
	closed, err := coord.Close(context.Background(), w.ID, scan, payload)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != model.WindowClosed {
		t.Error("flags must never block closure")
	}
	if !closed.Flags.FastEntry || !closed.Flags.OutOfRange {
		t.Errorf("flags = %v", closed.Flags.List())
	}
}

func TestClose_TokenMismatch(t *testing.T) {
	coord, s, scan := fixture(t)

	// A second genuine chip at the same control point.
	m2, err := chipauth.Encode("04BB", "ch-2")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	s.chips["ch-2"] = &model.Chip{
		ID: "ch-2", UID: "04BB", Status: model.StatusActive,
		CustomerRef: "cust-1", OrderRef: "ord-1", ControlPointRef: "cp-1",
		SecretSalt: m2.Salt, Checksum: m2.Checksum,
		CreatedAt: now, UpdatedAt: now,
	}

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}

	otherScan := chipauth.ScanReport{UID: "04BB", ChipID: "ch-2", ClaimedChecksum: m2.Checksum}
	_, err = coord.Close(context.Background(), w.ID, otherScan, model.Payload{})
	if !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("got %v, want ErrTokenMismatch", err)
	}
	// The window stays open for resolution.
	if s.windows[w.ID].Status != model.WindowOpen {
		t.Error("window must remain open after a mismatched close")
	}
}

func TestClose_PreservesConcurrentTransition(t *testing.T) {
	coord, s, scan := fixture(t)

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}

	// A return-for-service transition commits between the window update and
	// the chip stamp. The stamp must not write the status read earlier.
	s.afterWindowUpdate = func() {
		s.chips["ch-1"].Status = model.StatusReturnedForService
	}

	closed, err := coord.Close(context.Background(), w.ID, scan, model.Payload{})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != model.WindowClosed {
		t.Errorf("window status = %s", closed.Status)
	}

	chip := s.chips["ch-1"]
	if chip.Status != model.StatusReturnedForService {
		t.Errorf("concurrent transition lost: chip status = %s", chip.Status)
	}
	if chip.LastScanAt == nil {
		t.Error("closing scan not stamped")
	}
}

func TestOpen_ConcurrentSingleWinner(t *testing.T) {
	coord, _, scan := fixture(t)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Open(context.Background(), "task-1", scan, "op-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyOpen):
			lost++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Errorf("winners = %d, want exactly 1", won)
	}
	if lost != callers-1 {
		t.Errorf("losers = %d, want %d", lost, callers-1)
	}
}

func TestClose_TerminalWindow(t *testing.T) {
	coord, _, scan := fixture(t)

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := coord.Close(context.Background(), w.ID, scan, model.Payload{}); err != nil {
		t.Fatal(err)
	}

	_, err = coord.Close(context.Background(), w.ID, scan, model.Payload{})
	if !errors.Is(err, ErrWindowNotOpen) {
		t.Fatalf("got %v, want ErrWindowNotOpen", err)
	}
}

func TestClose_UnknownWindow(t *testing.T) {
	coord, _, scan := fixture(t)
	_, err := coord.Close(context.Background(), "win-ghost", scan, model.Payload{})
	if !errors.Is(err, ErrWindowNotFound) {
		t.Fatalf("got %v, want ErrWindowNotFound", err)
	}
}

func TestAbandon(t *testing.T) {
	coord, s, scan := fixture(t)

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}

	abandoned, err := coord.Abandon(context.Background(), w.ID, "supervisor-1", "chip damaged")
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if abandoned.Status != model.WindowAbandoned {
		t.Errorf("status = %s", abandoned.Status)
	}
	if !strings.Contains(abandoned.AbandonReason, "chip damaged") || !strings.Contains(abandoned.AbandonReason, "supervisor-1") {
		t.Errorf("reason = %q", abandoned.AbandonReason)
	}

	// Abandoning frees the schedulable for a fresh open.
	if _, err := coord.Open(context.Background(), "task-1", scan, "op-2"); err != nil {
		t.Errorf("reopen after abandon: %v", err)
	}
	_ = s
}

func TestAbandon_ReasonRequired(t *testing.T) {
	coord, _, scan := fixture(t)

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = coord.Abandon(context.Background(), w.ID, "supervisor-1", "")
	if !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("got %v, want ErrReasonRequired", err)
	}
}

func TestAbandon_TerminalWindow(t *testing.T) {
	coord, _, scan := fixture(t)

	w, err := coord.Open(context.Background(), "task-1", scan, "op-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := coord.Abandon(context.Background(), w.ID, "s", "first"); err != nil {
		t.Fatal(err)
	}
	_, err = coord.Abandon(context.Background(), w.ID, "s", "second")
	if !errors.Is(err, ErrWindowNotOpen) {
		t.Fatalf("got %v, want ErrWindowNotOpen", err)
	}
}
