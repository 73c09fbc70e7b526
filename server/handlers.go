package server

import (
	"context"

	"github.com/team7636/robomania-bot/stream"
)

// StreamStatus reports the event stream state machine.
type StreamStatus interface {
	Status() stream.Status
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	stream StreamStatus
	db     Pinger
}

// NewHandlers creates a Handlers. db may be nil when no audit store is configured.
func NewHandlers(s StreamStatus, db Pinger) *Handlers {
	return &Handlers{stream: s, db: db}
}
