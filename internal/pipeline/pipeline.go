package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/dedup"
	"github.com/herambskanda/teletrade/internal/dispatch"
	"github.com/herambskanda/teletrade/internal/intent"
	"github.com/herambskanda/teletrade/internal/interpreter"
	"github.com/herambskanda/teletrade/internal/ledger"
	"github.com/herambskanda/teletrade/internal/logger"
	"github.com/herambskanda/teletrade/internal/risk"
	"github.com/herambskanda/teletrade/internal/store"
)

// Config tunes the admission loop.
type Config struct {
	DedupWindow           time.Duration
	MaxConcurrentDispatch int64
	ValidateTimeout       time.Duration
	DispatchTimeout       time.Duration
	QueueSize             int
}

func (c Config) withDefaults() Config {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Minute
	}
	if c.MaxConcurrentDispatch <= 0 {
		c.MaxConcurrentDispatch = 4
	}
	if c.ValidateTimeout <= 0 {
		c.ValidateTimeout = 10 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 60 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	return c
}

// Notifier pushes operator-facing summaries out of process. Nil disables
// notifications.
type Notifier interface {
	SendText(text string) error
}

// Pipeline is the admission actor. One goroutine owns every signal state
// transition; validation and dispatch run in side goroutines and post their
// results back as events, so transitions stay serialized without a lock per
// signal. Each transition is recorded to the audit trail before the next
// stage starts.
type Pipeline struct {
	interp     interpreter.Interpreter
	dedupe     *dedup.Store
	chain      *risk.Chain
	ledger     *ledger.Ledger
	trail      audit.Trail
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	notifier   Notifier
	cfg        Config

	msgCh  chan EventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	dispatchSem *semaphore.Weighted

	mu      sync.RWMutex
	signals map[string]*Signal
}

func New(interp interpreter.Interpreter, dedupe *dedup.Store, chain *risk.Chain,
	led *ledger.Ledger, trail audit.Trail, disp *dispatch.Dispatcher, st *store.Store, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		interp:      interp,
		dedupe:      dedupe,
		chain:       chain,
		ledger:      led,
		trail:       trail,
		dispatcher:  disp,
		store:       st,
		cfg:         cfg,
		msgCh:       make(chan EventEnvelope, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		dispatchSem: semaphore.NewWeighted(cfg.MaxConcurrentDispatch),
		signals:     make(map[string]*Signal),
	}
}

// SetNotifier attaches the operator notifier. Call before Start.
func (p *Pipeline) SetNotifier(n Notifier) { p.notifier = n }

func (p *Pipeline) Start() {
	p.wg.Add(1)
	go p.runLoop()
}

func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Send queues an event for the actor loop.
func (p *Pipeline) Send(evt EventEnvelope) error {
	select {
	case p.msgCh <- evt:
		return nil
	case <-p.stopCh:
		return fmt.Errorf("pipeline is stopped")
	}
}

// SendSync queues an event and waits for the handler's result.
func (p *Pipeline) SendSync(ctx context.Context, evt EventEnvelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := p.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return fmt.Errorf("pipeline stopped during sync call")
	}
}

// Ingest interprets one raw channel message and, when it carries a signal,
// admits it. Returns the signal ID, or "" when the message was chatter.
// Interpretation happens on the caller's goroutine; only admission enters
// the actor loop.
func (p *Pipeline) Ingest(ctx context.Context, msg interpreter.Message) (string, error) {
	it, err := p.interp.Interpret(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("interpret: %w", err)
	}
	if it == nil {
		logger.Debugf("pipeline: message %s from %s carried no signal", msg.ID, msg.Source)
		return "", nil
	}
	if err := it.Validate(); err != nil {
		return "", fmt.Errorf("interpreted intent invalid: %w", err)
	}
	return p.Admit(ctx, it)
}

// Admit runs a validated intent through admission and returns its signal ID.
func (p *Pipeline) Admit(ctx context.Context, it *intent.Intent) (string, error) {
	if err := it.Validate(); err != nil {
		return "", err
	}
	sigID := uuid.NewString()
	payload, err := json.Marshal(IntentPayload{SignalID: sigID, Intent: it})
	if err != nil {
		return "", err
	}
	evt := EventEnvelope{
		ID:        uuid.NewString(),
		Type:      EvtIntent,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := p.SendSync(ctx, evt); err != nil {
		return "", err
	}
	return sigID, nil
}

// Signal returns a copy of the tracked signal.
func (p *Pipeline) Signal(id string) (View, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sig, ok := p.signals[id]
	if !ok {
		return View{}, false
	}
	return sig.view(), true
}

// Signals returns copies of every tracked signal, newest first capped at limit.
func (p *Pipeline) Signals(limit int) []View {
	if limit <= 0 {
		limit = 100
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]View, 0, len(p.signals))
	for _, sig := range p.signals {
		out = append(out, sig.view())
	}
	sortViewsNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ApplyExecution folds a broker execution report into the order machine and,
// when the order went terminal, completes the owning signal.
func (p *Pipeline) ApplyExecution(ctx context.Context, rep dispatch.ExecutionReport) error {
	if err := p.dispatcher.ApplyExecution(ctx, rep); err != nil {
		return err
	}
	if !rep.State.Terminal() {
		return nil
	}
	view, ok := p.dispatcher.Order(rep.OrderID)
	if !ok {
		return nil
	}
	payload, _ := json.Marshal(OrderTerminalPayload{
		SignalID: view.SignalID,
		OrderID:  view.ID,
		State:    string(view.State),
	})
	return p.Send(EventEnvelope{
		ID:        uuid.NewString(),
		Type:      EvtOrderTerminal,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

// RecordLateAck flags a broker acknowledgement that arrived after the
// signal was already written off. The ack is recorded for the operator,
// never merged back into the signal.
func (p *Pipeline) RecordLateAck(ctx context.Context, signalID, brokerID, note string) error {
	payload, _ := json.Marshal(LateAckPayload{SignalID: signalID, BrokerID: brokerID, Note: note})
	return p.SendSync(ctx, EventEnvelope{
		ID:        uuid.NewString(),
		Type:      EvtLateAck,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
}

// EmergencyStop trips the kill switch and audits who pulled it. New signals
// reject at the first gate; live orders are untouched.
func (p *Pipeline) EmergencyStop(ctx context.Context, actor, reason string) error {
	p.ledger.EmergencyStop()
	p.notify(fmt.Sprintf("EMERGENCY STOP set by %s: %s", actor, reason))
	return p.trail.Record(ctx, audit.Event{
		Kind:   audit.KindOperator,
		Code:   "emergency_stop",
		Reason: fmt.Sprintf("set by %s: %s", actor, reason),
	})
}

// ClearEmergencyStop re-opens admission.
func (p *Pipeline) ClearEmergencyStop(ctx context.Context, actor string) error {
	p.ledger.ClearEmergencyStop()
	p.notify("emergency stop cleared by " + actor)
	return p.trail.Record(ctx, audit.Event{
		Kind:   audit.KindOperator,
		Code:   "emergency_stop_cleared",
		Reason: "cleared by " + actor,
	})
}

// Recover lists orders that were open at the last shutdown and flags each
// one for reconciliation. Open work is never silently resumed.
func (p *Pipeline) Recover(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	open, err := p.store.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("listing open orders: %w", err)
	}
	for _, row := range open {
		logger.Warnf("pipeline: order %s (%s %s) was open at shutdown, flagging for reconciliation",
			row.ID, row.Side, row.Symbol)
		if err := p.trail.Record(ctx, audit.Event{
			SignalID: row.SignalID,
			OrderID:  row.ID,
			Kind:     audit.KindReconciliation,
			Code:     "open_at_restart",
			Reason:   fmt.Sprintf("order in state %s at restart, reconcile with broker", row.State),
		}); err != nil {
			return err
		}
	}
	logger.Infof("pipeline: recovery scan complete, %d open orders flagged", len(open))
	return nil
}

func (p *Pipeline) runLoop() {
	defer p.wg.Done()
	logger.Infof("pipeline actor started")
	for {
		select {
		case evt := <-p.msgCh:
			p.handleEvent(evt)
		case <-p.stopCh:
			logger.Infof("pipeline actor stopping")
			return
		}
	}
}

// handleEvent dispatches one event on the actor goroutine. Panics are
// contained to the event, synchronous senders always get unblocked, and
// handlers taking over 100ms get flagged.
func (p *Pipeline) handleEvent(evt EventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("pipeline panic handling event %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("pipeline: slow event %s took %v", evt.Type, dur)
		}
	}()

	switch evt.Type {
	case EvtIntent:
		err = p.handleIntent(evt.Payload)
	case EvtVerdicts:
		err = p.handleVerdicts(evt.Payload)
	case EvtDispatchOutcome:
		err = p.handleDispatchOutcome(evt.Payload)
	case EvtOrderTerminal:
		err = p.handleOrderTerminal(evt.Payload)
	case EvtLateAck:
		err = p.handleLateAck(evt.Payload)
	default:
		logger.Warnf("pipeline: no handler for event type %s", evt.Type)
	}
	if err != nil {
		logger.Errorf("pipeline failed to handle %s: %v", evt.Type, err)
	}
}

func (p *Pipeline) handleIntent(payload json.RawMessage) error {
	var in IntentPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("decoding intent payload: %w", err)
	}
	if in.Intent == nil {
		return fmt.Errorf("intent payload carries no intent")
	}
	it := in.Intent
	now := time.Now()
	sig := &Signal{
		ID:          in.SignalID,
		Fingerprint: dedup.Fingerprint(it, p.cfg.DedupWindow),
		Intent:      it,
		State:       StateReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	p.mu.Lock()
	p.signals[sig.ID] = sig
	p.mu.Unlock()

	ctx := context.Background()
	if err := p.record(ctx, sig, "", StateReceived, "", ""); err != nil {
		return err
	}
	p.persistSignal(ctx, sig)

	if p.dedupe.Register(sig.Fingerprint, p.cfg.DedupWindow) == dedup.Duplicate {
		return p.transition(ctx, sig, StateDedupedOut, "duplicate",
			"fingerprint already admitted inside the dedup window")
	}

	if err := p.transition(ctx, sig, StateValidating, "", ""); err != nil {
		return err
	}

	// Validation runs off the actor; the verdicts come back as an event.
	snap := p.ledger.Snapshot()
	go p.validate(sig.ID, it, snap)
	return nil
}

func (p *Pipeline) validate(signalID string, it *intent.Intent, snap ledger.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ValidateTimeout)
	defer cancel()
	verdicts := p.chain.Evaluate(ctx, it, snap)
	payload, _ := json.Marshal(VerdictsPayload{SignalID: signalID, Verdicts: verdicts})
	if err := p.Send(EventEnvelope{
		ID:        uuid.NewString(),
		Type:      EvtVerdicts,
		Payload:   payload,
		CreatedAt: time.Now(),
	}); err != nil {
		logger.Errorf("pipeline: posting verdicts for signal %s failed: %v", signalID, err)
	}
}

func (p *Pipeline) handleVerdicts(payload json.RawMessage) error {
	var in VerdictsPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("decoding verdicts payload: %w", err)
	}
	sig := p.signal(in.SignalID)
	if sig == nil {
		return fmt.Errorf("verdicts for unknown signal %s", in.SignalID)
	}
	if sig.State != StateValidating {
		return fmt.Errorf("verdicts for signal %s in state %s", sig.ID, sig.State)
	}
	// write-ahead: the verdict list becomes part of the signal only after
	// the audit record is durable
	ctx := context.Background()
	raw, _ := json.Marshal(in.Verdicts)
	if err := p.trail.Record(ctx, audit.Event{
		SignalID: sig.ID,
		Kind:     audit.KindVerdicts,
		Payload:  raw,
	}); err != nil {
		return fmt.Errorf("recording verdicts: %w", err)
	}
	p.mu.Lock()
	sig.Verdicts = in.Verdicts
	p.mu.Unlock()

	if !risk.Approved(in.Verdicts) {
		rej, _ := risk.FirstRejection(in.Verdicts)
		return p.transition(ctx, sig, StateRejected, string(rej.Code), rej.Reason)
	}

	if err := p.transition(ctx, sig, StateApproved, "", ""); err != nil {
		return err
	}
	if err := p.transition(ctx, sig, StateDispatching, "", ""); err != nil {
		return err
	}

	go p.dispatch(sig.ID, sig.Fingerprint, sig.Intent)
	return nil
}

// dispatch runs one bounded broker placement off the actor loop.
func (p *Pipeline) dispatch(signalID, fingerprint string, it *intent.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DispatchTimeout)
	defer cancel()

	if err := p.dispatchSem.Acquire(ctx, 1); err != nil {
		p.postDispatchOutcome(DispatchOutcomePayload{
			SignalID:  signalID,
			Ambiguous: false,
			Rejected:  false,
			Reason:    "dispatch slot unavailable: " + err.Error(),
		})
		return
	}
	defer p.dispatchSem.Release(1)

	out := p.dispatcher.Dispatch(ctx, signalID, fingerprint, it)
	res := DispatchOutcomePayload{SignalID: signalID}
	switch {
	case out.Order != nil:
		res.OrderID = out.Order.ID
		res.BrokerID = out.Order.BrokerID
		if out.Order.State.Terminal() {
			// rejection replay; the order is already final
			res.Rejected = out.Order.State == dispatch.OrderRejectedByBroker
			res.Reason = out.Order.Reason
		}
	case out.Rejected:
		res.Rejected = true
		res.Reason = out.Reason
	default:
		res.Ambiguous = out.Ambiguous
		if out.Err != nil {
			res.Reason = out.Err.Error()
		}
	}
	p.postDispatchOutcome(res)
}

func (p *Pipeline) postDispatchOutcome(res DispatchOutcomePayload) {
	payload, _ := json.Marshal(res)
	if err := p.Send(EventEnvelope{
		ID:        uuid.NewString(),
		Type:      EvtDispatchOutcome,
		Payload:   payload,
		CreatedAt: time.Now(),
	}); err != nil {
		logger.Errorf("pipeline: posting dispatch outcome for signal %s failed: %v", res.SignalID, err)
	}
}

func (p *Pipeline) handleDispatchOutcome(payload json.RawMessage) error {
	var in DispatchOutcomePayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("decoding dispatch outcome: %w", err)
	}
	sig := p.signal(in.SignalID)
	if sig == nil {
		return fmt.Errorf("dispatch outcome for unknown signal %s", in.SignalID)
	}
	if sig.State != StateDispatching {
		return fmt.Errorf("dispatch outcome for signal %s in state %s", sig.ID, sig.State)
	}
	p.mu.Lock()
	sig.OrderID = in.OrderID
	p.mu.Unlock()

	ctx := context.Background()
	switch {
	case in.Rejected:
		// broker said no; the pipeline's job for this signal is done
		return p.transition(ctx, sig, StateExecuted, "broker_rejected", in.Reason)
	case in.OrderID != "":
		// order is live; the signal completes when the order goes terminal
		p.persistSignal(ctx, sig)
		return nil
	default:
		reason := in.Reason
		if reason == "" {
			reason = "dispatch failed"
		}
		code := "dispatch_error"
		if in.Ambiguous {
			code = "ambiguous"
			reason = "retries exhausted, order existence unknown: " + reason
		}
		return p.transition(ctx, sig, StateDispatchFailed, code, reason)
	}
}

func (p *Pipeline) handleOrderTerminal(payload json.RawMessage) error {
	var in OrderTerminalPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("decoding order terminal payload: %w", err)
	}
	sig := p.signal(in.SignalID)
	if sig == nil {
		return fmt.Errorf("terminal order %s for unknown signal %s", in.OrderID, in.SignalID)
	}
	if sig.State != StateDispatching {
		// already concluded; nothing to advance
		return nil
	}
	return p.transition(context.Background(), sig, StateExecuted, "", "order "+in.OrderID+" reached "+in.State)
}

func (p *Pipeline) handleLateAck(payload json.RawMessage) error {
	var in LateAckPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("decoding late ack payload: %w", err)
	}
	sig := p.signal(in.SignalID)
	if sig == nil {
		return fmt.Errorf("late ack for unknown signal %s", in.SignalID)
	}
	if sig.State != StateDispatchFailed {
		return fmt.Errorf("late ack for signal %s in state %s, expected %s",
			sig.ID, sig.State, StateDispatchFailed)
	}
	logger.Warnf("pipeline: late broker ack %s for written-off signal %s, flagging for operator",
		in.BrokerID, sig.ID)
	return p.trail.Record(context.Background(), audit.Event{
		SignalID: sig.ID,
		Kind:     audit.KindReconciliation,
		Code:     "late_ack",
		Reason:   fmt.Sprintf("broker ack %s arrived after dispatch_failed: %s", in.BrokerID, in.Note),
	})
}

// transition records the state change to the audit trail first, then applies
// it. A transition whose record cannot be made durable does not happen.
func (p *Pipeline) transition(ctx context.Context, sig *Signal, to SignalState, code, reason string) error {
	if !sig.State.canTransition(to) {
		return fmt.Errorf("signal %s: illegal transition %s -> %s", sig.ID, sig.State, to)
	}
	if err := p.record(ctx, sig, sig.State, to, code, reason); err != nil {
		return fmt.Errorf("signal %s: recording %s -> %s: %w", sig.ID, sig.State, to, err)
	}
	p.mu.Lock()
	sig.State = to
	sig.Code = code
	sig.Reason = reason
	sig.UpdatedAt = time.Now()
	p.mu.Unlock()

	p.persistSignal(ctx, sig)
	p.notify(concludeSummary(sig.Intent, to, code, reason))
	return nil
}

// notify sends one summary line without ever blocking the actor loop.
func (p *Pipeline) notify(text string) {
	if p.notifier == nil || text == "" {
		return
	}
	go func() {
		if err := p.notifier.SendText(text); err != nil {
			logger.Warnf("pipeline: operator notification failed: %v", err)
		}
	}()
}

// concludeSummary renders the operator line for a concluded signal. Interim
// states and dedup drops produce nothing; duplicates would only be noise.
func concludeSummary(it *intent.Intent, to SignalState, code, reason string) string {
	var side, sym, qty string
	if it != nil {
		side = string(it.Side)
		sym = it.NormalizedSymbol()
		qty = it.Quantity.String()
	}
	switch to {
	case StateRejected:
		return fmt.Sprintf("rejected %s %s: %s (%s)", side, sym, reason, code)
	case StateDispatchFailed:
		return fmt.Sprintf("dispatch failed for %s %s: %s (%s)", side, sym, reason, code)
	case StateExecuted:
		if code == "broker_rejected" {
			return fmt.Sprintf("broker rejected %s %s: %s", side, sym, reason)
		}
		return fmt.Sprintf("executed %s %s qty=%s", side, sym, qty)
	}
	return ""
}

func (p *Pipeline) record(ctx context.Context, sig *Signal, from, to SignalState, code, reason string) error {
	return p.trail.Record(ctx, audit.Event{
		SignalID: sig.ID,
		Kind:     audit.KindTransition,
		From:     string(from),
		To:       string(to),
		Code:     code,
		Reason:   reason,
	})
}

func (p *Pipeline) persistSignal(ctx context.Context, sig *Signal) {
	if p.store == nil {
		return
	}
	p.mu.RLock()
	intentJSON, _ := json.Marshal(sig.Intent)
	verdictsJSON, _ := json.Marshal(sig.Verdicts)
	row := &store.SignalModel{
		ID:          sig.ID,
		Fingerprint: sig.Fingerprint,
		Source:      sig.Intent.SourceChannel,
		Symbol:      sig.Intent.NormalizedSymbol(),
		State:       string(sig.State),
		Code:        sig.Code,
		Reason:      sig.Reason,
		OrderID:     sig.OrderID,
		Intent:      intentJSON,
		Verdicts:    verdictsJSON,
		CreatedAt:   sig.CreatedAt.Unix(),
	}
	p.mu.RUnlock()
	if err := p.store.SaveSignal(ctx, row); err != nil {
		logger.Errorf("pipeline: persisting signal %s failed: %v", sig.ID, err)
	}
}

func (p *Pipeline) signal(id string) *Signal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.signals[id]
}

func sortViewsNewestFirst(views []View) {
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
}
