package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/dispatch"
	"github.com/herambskanda/teletrade/internal/ledger"
	"github.com/herambskanda/teletrade/internal/pipeline"
)

type fakeService struct {
	signals map[string]pipeline.View
	orders  map[string]dispatch.OrderView
	led     *ledger.Ledger
	trail   *audit.MemoryTrail

	stopped  bool
	executed []dispatch.ExecutionReport
	lateAcks []string
}

func newFakeService() *fakeService {
	return &fakeService{
		signals: make(map[string]pipeline.View),
		orders:  make(map[string]dispatch.OrderView),
		led:     ledger.New(decimal.NewFromInt(100000)),
		trail:   audit.NewMemoryTrail(),
	}
}

func (f *fakeService) Signal(id string) (pipeline.View, bool) {
	v, ok := f.signals[id]
	return v, ok
}

func (f *fakeService) Signals(limit int) []pipeline.View {
	out := make([]pipeline.View, 0, len(f.signals))
	for _, v := range f.signals {
		out = append(out, v)
	}
	return out
}

func (f *fakeService) Order(id string) (dispatch.OrderView, bool) {
	v, ok := f.orders[id]
	return v, ok
}

func (f *fakeService) LedgerSnapshot() ledger.Snapshot { return f.led.Snapshot() }

func (f *fakeService) AuditRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return f.trail.Recent(ctx, limit)
}

func (f *fakeService) AuditBySignal(ctx context.Context, signalID string) ([]audit.Event, error) {
	return f.trail.BySignal(ctx, signalID)
}

func (f *fakeService) EmergencyStop(_ context.Context, actor, reason string) error {
	f.stopped = true
	return nil
}

func (f *fakeService) ClearEmergencyStop(_ context.Context, actor string) error {
	f.stopped = false
	return nil
}

func (f *fakeService) ApplyExecution(_ context.Context, rep dispatch.ExecutionReport) error {
	f.executed = append(f.executed, rep)
	return nil
}

func (f *fakeService) RecordLateAck(_ context.Context, signalID, brokerID, note string) error {
	f.lateAcks = append(f.lateAcks, signalID+"/"+brokerID)
	return nil
}

func newTestServer(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	svc := newFakeService()
	srv, err := NewServer(ServerConfig{Addr: ":0", Service: svc})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return svc, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignalLookup(t *testing.T) {
	svc, ts := newTestServer(t)
	svc.signals["sig-1"] = pipeline.View{ID: "sig-1", Symbol: "RELIANCE", State: pipeline.StateExecuted}

	resp, err := http.Get(ts.URL + "/api/signals/sig-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/signals/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmergencyStopRequiresActor(t *testing.T) {
	svc, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/controls/emergency-stop", "application/json",
		strings.NewReader(`{"reason": "no actor"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, svc.stopped)

	resp, err = http.Post(ts.URL+"/api/controls/emergency-stop", "application/json",
		strings.NewReader(`{"actor": "ops", "reason": "drill"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, svc.stopped)

	resp, err = http.Post(ts.URL+"/api/controls/emergency-stop/clear", "application/json",
		strings.NewReader(`{"actor": "ops"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, svc.stopped)
}

func TestExecutionWebhook(t *testing.T) {
	svc, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/executions", "application/json",
		strings.NewReader(`{"order_id": "ord-1", "state": "filled", "filled_qty": "10", "fill_price": "2500.5"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, svc.executed, 1)
	rep := svc.executed[0]
	assert.Equal(t, "ord-1", rep.OrderID)
	assert.Equal(t, dispatch.OrderFilled, rep.State)
	assert.True(t, rep.FilledQty.Equal(decimal.NewFromInt(10)))

	// missing required fields
	resp, err = http.Post(ts.URL+"/api/executions", "application/json",
		strings.NewReader(`{"state": "filled"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLateAckEndpoint(t *testing.T) {
	svc, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/reconciliation/late-ack", "application/json",
		strings.NewReader(`{"signal_id": "sig-1", "broker_id": "brk-9"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"sig-1/brk-9"}, svc.lateAcks)
}
