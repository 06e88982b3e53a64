package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes. Administrative endpoints get a
// tighter rate limit than the global stack.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.handleRecordMovement)
	r.Get("/balances/{warehouseID}/{itemCode}", h.handleGetBalance)
	r.Get("/balances/{warehouseID}/{itemCode}/history", h.handleHistory)
	r.Get("/reports/low-stock", h.handleLowStock)
	r.Get("/reports/valuation", h.handleValuation)
	r.Get("/reports/consumption", h.handleConsumption)
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/warehouses/{warehouseID}/lock", h.handleLock)
		r.Delete("/warehouses/{warehouseID}/lock", h.handleUnlock)
		r.Post("/balances/corrections", h.handleCorrection)
	})
}

type movementRequest struct {
	ItemCode      string  `json:"item_code" validate:"required"`
	WarehouseID   int64   `json:"warehouse_id" validate:"required,gt=0"`
	Type          string  `json:"transaction_type" validate:"required"`
	QtyIn         float64 `json:"qty_in" validate:"gte=0"`
	QtyOut        float64 `json:"qty_out" validate:"gte=0"`
	ValuationRate float64 `json:"valuation_rate" validate:"gte=0"`
	RefDoctype    string  `json:"reference_doctype"`
	RefName       string  `json:"reference_name"`
	BatchID       int64   `json:"batch_id"`
}

type lockRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type correctionRequest struct {
	ItemCode      string   `json:"item_code" validate:"required"`
	WarehouseID   int64    `json:"warehouse_id" validate:"required,gt=0"`
	TargetQty     float64  `json:"target_qty" validate:"gte=0"`
	ReservedQty   *float64 `json:"reserved_qty"`
	ValuationRate *float64 `json:"valuation_rate"`
	Reason        string   `json:"reason" validate:"required"`
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	entry, err := h.service.RecordMovement(r.Context(), MovementInput{
		ItemCode:      req.ItemCode,
		WarehouseID:   req.WarehouseID,
		Type:          TransactionType(req.Type),
		QtyIn:         req.QtyIn,
		QtyOut:        req.QtyOut,
		ValuationRate: req.ValuationRate,
		RefDoctype:    req.RefDoctype,
		RefName:       req.RefName,
		BatchID:       req.BatchID,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	warehouseID, itemCode, ok := balanceParams(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), itemCode, warehouseID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	warehouseID, itemCode, ok := balanceParams(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.MovementHistory(r.Context(), HistoryFilter{
		ItemCode:    itemCode,
		WarehouseID: warehouseID,
		Limit:       limit,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter LowStockFilter
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filter.ReorderLevel, _ = strconv.ParseFloat(q.Get("reorder_level"), 64)
	rows, err := h.service.LowStock(r.Context(), filter)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ValuationSummary(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleConsumption(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ConsumptionFilter
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t
	}
	rows, err := h.service.DailyConsumption(r.Context(), filter)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "warehouse id must be numeric")
		return
	}
	var req lockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	actorID := shared.ActorFromContext(r.Context())
	if err := h.service.LockWarehouse(r.Context(), warehouseID, req.Reason, actorID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouse_id": warehouseID, "locked": true})
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "warehouse id must be numeric")
		return
	}
	actorID := shared.ActorFromContext(r.Context())
	if err := h.service.UnlockWarehouse(r.Context(), warehouseID, actorID); err != nil {
		if errors.Is(err, ErrWarehouseNotLocked) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"warehouse_id": warehouseID, "locked": false})
}

func (h *Handler) handleCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	entry, err := h.service.CorrectBalance(r.Context(), CorrectionInput{
		ItemCode:      req.ItemCode,
		WarehouseID:   req.WarehouseID,
		TargetQty:     req.TargetQty,
		ReservedQty:   req.ReservedQty,
		ValuationRate: req.ValuationRate,
		Reason:        req.Reason,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func balanceParams(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "warehouse id must be numeric")
		return 0, "", false
	}
	itemCode := chi.URLParam(r, "itemCode")
	return warehouseID, itemCode, true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidMovement), errors.Is(err, ErrInvalidRate):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrWarehouseLocked):
		httpx.Problem(w, http.StatusConflict, "Warehouse Locked", err.Error())
	case errors.Is(err, ErrBalanceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
