package stockentry

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/batch"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for stock entries.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}", h.handleUpdate)
	r.Post("/{id}/submit", h.handleSubmit)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Delete("/{id}", h.handleDelete)
}

type itemRequest struct {
	ItemCode      string  `json:"item_code" validate:"required"`
	Qty           float64 `json:"qty" validate:"required,gt=0"`
	UOM           string  `json:"uom"`
	ValuationRate float64 `json:"valuation_rate" validate:"gte=0"`
	BatchNo       string  `json:"batch_no"`
	SerialNo      string  `json:"serial_no"`
	Remarks       string  `json:"remarks"`
}

type createEntryRequest struct {
	EntryDate       string        `json:"entry_date" validate:"required"`
	EntryType       string        `json:"entry_type" validate:"required"`
	FromWarehouseID int64         `json:"from_warehouse_id"`
	ToWarehouseID   int64         `json:"to_warehouse_id"`
	Purpose         string        `json:"purpose"`
	RefDoctype      string        `json:"reference_doctype"`
	RefName         string        `json:"reference_name"`
	Remarks         string        `json:"remarks"`
	Items           []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type updateEntryRequest struct {
	Purpose string `json:"purpose"`
	Remarks string `json:"remarks"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	entryDate, err := time.Parse("2006-01-02", req.EntryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "entry_date must be YYYY-MM-DD")
		return
	}
	input := CreateInput{
		EntryDate:       entryDate,
		Type:            EntryType(req.EntryType),
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Purpose:         req.Purpose,
		RefDoctype:      req.RefDoctype,
		RefName:         req.RefName,
		Remarks:         req.Remarks,
		ActorID:         shared.ActorFromContext(r.Context()),
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput(it))
	}
	result, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	payload := map[string]any{"data": result.Entry}
	if result.Warning != "" {
		payload["warning"] = result.Warning
		h.logger.Warn("stock entry auto-submit failed",
			slog.String("entry_no", result.Entry.EntryNo),
			slog.String("reason", result.Warning))
	}
	httpx.JSON(w, http.StatusCreated, payload)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("page_size"))
	pagination := shared.NewPagination(page, perPage, 0)
	filter := ListFilter{
		Type:   EntryType(q.Get("entry_type")),
		Status: Status(q.Get("status")),
		Search: q.Get("search"),
		Limit:  pagination.PerPage,
		Offset: (pagination.Page - 1) * pagination.PerPage,
	}
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req updateEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	entry, err := h.service.UpdateDraft(r.Context(), id, req.Purpose, req.Remarks, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Submit(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "id must be numeric")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidEntry):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateReference), errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrNotSubmitted):
		httpx.Problem(w, http.StatusConflict, "Invalid Status", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ledger.ErrWarehouseLocked):
		httpx.Problem(w, http.StatusConflict, "Warehouse Locked", err.Error())
	case errors.Is(err, batch.ErrInsufficientQty), errors.Is(err, batch.ErrTerminalStatus):
		httpx.Problem(w, http.StatusConflict, "Batch Conflict", err.Error())
	case errors.Is(err, batch.ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Batch Not Found", err.Error())
	default:
		h.logger.Error("stock entry request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
