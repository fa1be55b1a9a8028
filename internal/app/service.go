package app

import (
	"context"

	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/dispatch"
	"github.com/herambskanda/teletrade/internal/ledger"
	"github.com/herambskanda/teletrade/internal/pipeline"
	"github.com/herambskanda/teletrade/internal/server"
)

// service adapts the application internals to the operator API contract.
type service struct {
	pipe       *pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	led        *ledger.Ledger
	trail      audit.Trail
}

var _ server.Service = (*service)(nil)

func (s *service) Signal(id string) (pipeline.View, bool) { return s.pipe.Signal(id) }

func (s *service) Signals(limit int) []pipeline.View { return s.pipe.Signals(limit) }

func (s *service) Order(id string) (dispatch.OrderView, bool) { return s.dispatcher.Order(id) }

func (s *service) LedgerSnapshot() ledger.Snapshot { return s.led.Snapshot() }

func (s *service) AuditRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return s.trail.Recent(ctx, limit)
}

func (s *service) AuditBySignal(ctx context.Context, signalID string) ([]audit.Event, error) {
	return s.trail.BySignal(ctx, signalID)
}

func (s *service) EmergencyStop(ctx context.Context, actor, reason string) error {
	return s.pipe.EmergencyStop(ctx, actor, reason)
}

func (s *service) ClearEmergencyStop(ctx context.Context, actor string) error {
	return s.pipe.ClearEmergencyStop(ctx, actor)
}

func (s *service) ApplyExecution(ctx context.Context, rep dispatch.ExecutionReport) error {
	return s.pipe.ApplyExecution(ctx, rep)
}

func (s *service) RecordLateAck(ctx context.Context, signalID, brokerID, note string) error {
	return s.pipe.RecordLateAck(ctx, signalID, brokerID, note)
}
