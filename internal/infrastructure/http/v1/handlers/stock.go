package handlers

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/core/tx"
	"storefront/internal/domain/ledger"
	"storefront/internal/infrastructure/http/v1/dto"
	"storefront/pkg/logger"
)

// Ledger is the part of the ledger engine the HTTP API exposes.
type Ledger interface {
	RecordMovement(ctx context.Context, scope tenant.Scope, in ledger.RecordInput, uow tx.UnitOfWork) (entity.StockMovement, error)
	CorrectMovement(ctx context.Context, scope tenant.Scope, in ledger.CorrectionInput) (ledger.CorrectionResult, error)
	GetHistory(ctx context.Context, scope tenant.Scope, q ledger.HistoryQuery) (ledger.HistoryPage, error)
	GetCurrentStock(ctx context.Context, scope tenant.Scope, ref entity.ItemRef) (int, error)
	GetCurrentStockBatch(ctx context.Context, scope tenant.Scope, kind entity.ItemKind, itemIDs []id.ID) (map[id.ID]int, error)
	VerifyBalance(ctx context.Context, scope tenant.Scope, ref entity.ItemRef) (ledger.BalanceReport, error)
	FindDrift(ctx context.Context, scope tenant.Scope, limit int) ([]ledger.BalanceReport, error)
}

// retryBaseDelay is the first backoff step between write attempts.
const retryBaseDelay = 10 * time.Millisecond

// StockHandler handles HTTP requests for the stock ledger.
type StockHandler struct {
	*BaseHandler
	ledger        Ledger
	retryAttempts int
}

// NewStockHandler creates a new stock handler.
// retryAttempts bounds how often a write is run on serialization failures.
func NewStockHandler(base *BaseHandler, l Ledger, retryAttempts int) *StockHandler {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &StockHandler{
		BaseHandler:   base,
		ledger:        l,
		retryAttempts: retryAttempts,
	}
}

// RecordMovement handles POST /stock/movements
func (h *StockHandler) RecordMovement(c *gin.Context) {
	scope, ok := h.Scope(c)
	if !ok {
		return
	}

	var req dto.RecordMovementRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	var movement entity.StockMovement
	err = h.retryWrite(ctx, func() error {
		var werr error
		movement, werr = h.ledger.RecordMovement(ctx, scope, in, nil)
		return werr
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromMovement(movement))
}

// CorrectMovement handles POST /stock/movements/:id/corrections
func (h *StockHandler) CorrectMovement(c *gin.Context) {
	scope, ok := h.Scope(c)
	if !ok {
		return
	}

	var req dto.CorrectMovementRequest
	if !h.BindJSON(c, &req) {
		return
	}
	in, err := req.ToInput(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	var result ledger.CorrectionResult
	err = h.retryWrite(ctx, func() error {
		var werr error
		result, werr = h.ledger.CorrectMovement(ctx, scope, in)
		return werr
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromCorrection(result))
}

// History handles GET /stock/movements
func (h *StockHandler) History(c *gin.Context) {
	scope, ok := h.Scope(c)
	if !ok {
		return
	}

	var req dto.HistoryRequest
	if !h.BindQuery(c, &req) {
		return
	}
	q, err := req.ToQuery()
	if err != nil {
		h.Error(c, err)
		return
	}

	page, err := h.ledger.GetHistory(c.Request.Context(), scope, q)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromHistoryPage(page))
}

// Level handles GET /stock/levels/:kind/:id
func (h *StockHandler) Level(c *gin.Context) {
	scope, ok := h.Scope(c)
	if !ok {
		return
	}
	ref, ok := h.itemRef(c)
	if !ok {
		return
	}

	quantity, err := h.ledger.GetCurrentStock(c.Request.Context(), scope, ref)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.StockLevelResponse{
		Kind:     string(ref.Kind()),
		ItemID:   ref.ID().String(),
		Quantity: quantity,
	})
}

// Batch handles POST /stock/levels/:kind/batch
func (h *StockHandler) Batch(c *gin.Context) {
	scope, ok := h.Scope(c)
	if !ok {
		return
	}

	kind, err := entity.ParseItemKind(c.Param("kind"))
	if err != nil {
		h.Error(c, err)
		return
	}

	var req dto.BatchStockRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ids, err := req.ParseIDs()
	if err != nil {
		h.Error(c, err)
		return
	}

	quantities, err := h.ledger.GetCurrentStockBatch(c.Request.Context(), scope, kind, ids)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewBatchStockResponse(kind, quantities))
}

// Verify handles GET /stock/levels/:kind/:id/verify
func (h *StockHandler) Verify(c *gin.Context) {
	scope, ok := h.Scope(c)
	if !ok {
		return
	}
	ref, ok := h.itemRef(c)
	if !ok {
		return
	}

	report, err := h.ledger.VerifyBalance(c.Request.Context(), scope, ref)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromBalanceReport(report))
}

// Drift handles GET /stock/drift (privileged)
func (h *StockHandler) Drift(c *gin.Context) {
	scope, ok := h.Scope(c)
	if !ok {
		return
	}

	reports, err := h.ledger.FindDrift(c.Request.Context(), scope, h.ParseIntQuery(c, "limit", ledger.DefaultDriftLimit))
	if err != nil {
		h.Error(c, err)
		return
	}

	out := make([]dto.BalanceResponse, len(reports))
	for i, r := range reports {
		out[i] = dto.FromBalanceReport(r)
	}
	h.OK(c, gin.H{"data": out})
}

func (h *StockHandler) itemRef(c *gin.Context) (entity.ItemRef, bool) {
	kind, err := entity.ParseItemKind(c.Param("kind"))
	if err != nil {
		h.Error(c, err)
		return entity.ItemRef{}, false
	}
	itemID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid item id").WithDetail("value", c.Param("id")))
		return entity.ItemRef{}, false
	}
	return entity.NewItemRef(kind, itemID), true
}

// retryWrite runs fn again while it fails with a serialization failure.
// Each attempt is a fresh transaction, so replays see the winner's commit.
func (h *StockHandler) retryWrite(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= h.retryAttempts; attempt++ {
		err = fn()
		if err == nil || !apperror.IsRetryable(err) || attempt == h.retryAttempts {
			return err
		}

		delay := time.Duration(attempt)*retryBaseDelay + rand.N(retryBaseDelay)
		logger.Debug(ctx, "retrying write after serialization failure",
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return err
}
