package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/dispatch"
	"github.com/herambskanda/teletrade/internal/ledger"
	"github.com/herambskanda/teletrade/internal/logger"
	"github.com/herambskanda/teletrade/internal/pipeline"
)

// Service is everything the operator API needs from the rest of the
// application.
type Service interface {
	Signal(id string) (pipeline.View, bool)
	Signals(limit int) []pipeline.View
	Order(id string) (dispatch.OrderView, bool)
	LedgerSnapshot() ledger.Snapshot
	AuditRecent(ctx context.Context, limit int) ([]audit.Event, error)
	AuditBySignal(ctx context.Context, signalID string) ([]audit.Event, error)
	EmergencyStop(ctx context.Context, actor, reason string) error
	ClearEmergencyStop(ctx context.Context, actor string) error
	ApplyExecution(ctx context.Context, rep dispatch.ExecutionReport) error
	RecordLateAck(ctx context.Context, signalID, brokerID, note string) error
}

type router struct {
	svc Service
}

func newRouter(svc Service) *router {
	return &router{svc: svc}
}

func (r *router) register(group *gin.RouterGroup) {
	group.GET("/signals", r.handleSignals)
	group.GET("/signals/:id", r.handleSignalByID)
	group.GET("/signals/:id/audit", r.handleSignalAudit)
	group.GET("/orders/:id", r.handleOrderByID)
	group.GET("/ledger", r.handleLedger)
	group.GET("/audit/events", r.handleAuditEvents)
	group.POST("/controls/emergency-stop", r.handleEmergencyStop)
	group.POST("/controls/emergency-stop/clear", r.handleEmergencyStopClear)
	group.POST("/executions", r.handleExecution)
	group.POST("/reconciliation/late-ack", r.handleLateAck)
}

func (r *router) handleSignals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"signals": r.svc.Signals(limit)})
}

func (r *router) handleSignalByID(c *gin.Context) {
	view, ok := r.svc.Signal(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *router) handleSignalAudit(c *gin.Context) {
	events, err := r.svc.AuditBySignal(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Errorf("[api] signal audit lookup failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *router) handleOrderByID(c *gin.Context) {
	view, ok := r.svc.Order(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (r *router) handleLedger(c *gin.Context) {
	c.JSON(http.StatusOK, r.svc.LedgerSnapshot())
}

func (r *router) handleAuditEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := r.svc.AuditRecent(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] audit list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type controlRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (r *router) handleEmergencyStop(c *gin.Context) {
	var req controlRequest
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Actor) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}
	if err := r.svc.EmergencyStop(c.Request.Context(), req.Actor, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("[api] emergency stop set by %s: %s", req.Actor, req.Reason)
	c.JSON(http.StatusOK, gin.H{"kill_switch": true})
}

func (r *router) handleEmergencyStopClear(c *gin.Context) {
	var req controlRequest
	_ = c.ShouldBindJSON(&req)
	if strings.TrimSpace(req.Actor) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}
	if err := r.svc.ClearEmergencyStop(c.Request.Context(), req.Actor); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("[api] emergency stop cleared by %s", req.Actor)
	c.JSON(http.StatusOK, gin.H{"kill_switch": false})
}

type executionRequest struct {
	OrderID   string          `json:"order_id" binding:"required"`
	State     string          `json:"state" binding:"required"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	FillPrice decimal.Decimal `json:"fill_price"`
}

// handleExecution is the execution-report webhook the broker back end
// posts fills and cancels to.
func (r *router) handleExecution(c *gin.Context) {
	var req executionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rep := dispatch.ExecutionReport{
		OrderID:   req.OrderID,
		State:     dispatch.OrderState(req.State),
		FilledQty: req.FilledQty,
		FillPrice: req.FillPrice,
	}
	if err := r.svc.ApplyExecution(c.Request.Context(), rep); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true})
}

type lateAckRequest struct {
	SignalID string `json:"signal_id" binding:"required"`
	BrokerID string `json:"broker_id" binding:"required"`
	Note     string `json:"note"`
}

func (r *router) handleLateAck(c *gin.Context) {
	var req lateAckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.svc.RecordLateAck(c.Request.Context(), req.SignalID, req.BrokerID, req.Note); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"flagged": true})
}
