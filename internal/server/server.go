package server

import (
	"context"
	"log/slog"

	"github.com/tagwerk/chiptrace/internal/events"
	"github.com/tagwerk/chiptrace/internal/execution"
	"github.com/tagwerk/chiptrace/internal/fraud"
	"github.com/tagwerk/chiptrace/internal/lifecycle"
	"github.com/tagwerk/chiptrace/internal/presence"
	"github.com/tagwerk/chiptrace/internal/stock"
	"github.com/tagwerk/chiptrace/internal/store"
)

// ChipsServer exposes the chip registry, lifecycle, stock, and execution
// operations over HTTP.
type ChipsServer struct {
	store       store.Store
	publisher   events.Publisher
	lifecycle   *lifecycle.Engine
	coordinator *execution.Coordinator
	allocator   *stock.Allocator
	Presence    *presence.Tracker
}

// NewChipsServer returns a new ChipsServer backed by the given store,
// publisher, and fraud engine.
func NewChipsServer(s store.Store, p events.Publisher, f *fraud.Engine) *ChipsServer {
	return &ChipsServer{
		store:       s,
		publisher:   p,
		lifecycle:   lifecycle.New(s),
		coordinator: execution.New(s, f, slog.Default()),
		allocator:   stock.New(s),
		Presence:    presence.New(),
	}
}

// publish emits an event to the bus. Best-effort; failures are logged but do
// not block the caller, since the ledger row is already committed.
func (s *ChipsServer) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// inputError indicates invalid user input.
// The transport layer maps this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }
