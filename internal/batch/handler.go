package batch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler wires HTTP endpoints for batch tracking.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers batch routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/expired", h.handleExpired)
	r.Get("/near-expiry", h.handleNearExpiry)
	r.Get("/summary", h.handleSummary)
	r.Get("/{batchNo}", h.handleGet)
	r.Get("/{batchNo}/traceability", h.handleTraceability)
	r.Post("/{batchNo}/deplete", h.handleDeplete)
	r.Post("/id/{id}/expire", h.handleMarkExpired)
	r.Post("/id/{id}/scrap", h.handleMarkScrapped)
}

type createRequest struct {
	BatchNo     string  `json:"batch_no" validate:"required"`
	ItemCode    string  `json:"item_code" validate:"required"`
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	BatchQty    float64 `json:"batch_qty" validate:"required,gt=0"`
	MfgDate     string  `json:"mfg_date"`
	ExpiryDate  string  `json:"expiry_date"`
	RefDoctype  string  `json:"reference_doctype"`
	RefName     string  `json:"reference_name"`
	Remarks     string  `json:"remarks"`
}

type depleteRequest struct {
	Qty float64 `json:"qty" validate:"required,gt=0"`
}

type scrapRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	mfg, ok := parseDate(w, req.MfgDate, "mfg_date")
	if !ok {
		return
	}
	exp, ok := parseDate(w, req.ExpiryDate, "expiry_date")
	if !ok {
		return
	}
	b, err := h.service.Create(r.Context(), CreateInput{
		BatchNo:     req.BatchNo,
		ItemCode:    req.ItemCode,
		WarehouseID: req.WarehouseID,
		BatchQty:    req.BatchQty,
		MfgDate:     mfg,
		ExpiryDate:  exp,
		RefDoctype:  req.RefDoctype,
		RefName:     req.RefName,
		Remarks:     req.Remarks,
		ActorID:     shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		ItemCode: q.Get("item_code"),
		Status:   Status(q.Get("status")),
		Search:   q.Get("search"),
	}
	filter.WarehouseID, _ = strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	filter.ExpiredOnly = q.Get("expired_only") == "true"
	batches, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batches)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetByNumber(r.Context(), chi.URLParam(r, "batchNo"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleTraceability(w http.ResponseWriter, r *http.Request) {
	trace, err := h.service.Traceability(r.Context(), chi.URLParam(r, "batchNo"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trace)
}

func (h *Handler) handleDeplete(w http.ResponseWriter, r *http.Request) {
	var req depleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	b, err := h.service.Deplete(r.Context(), chi.URLParam(r, "batchNo"), req.Qty, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleMarkExpired(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	b, err := h.service.MarkExpired(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleMarkScrapped(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req scrapRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	b, err := h.service.MarkScrapped(r.Context(), id, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) handleExpired(w http.ResponseWriter, r *http.Request) {
	warehouseID, _ := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	rows, err := h.service.Expired(r.Context(), warehouseID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleNearExpiry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, _ := strconv.Atoi(q.Get("days"))
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	rows, err := h.service.NearExpiry(r.Context(), days, warehouseID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	warehouseID, _ := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	rows, err := h.service.ItemBatchSummary(r.Context(), q.Get("item_code"), warehouseID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "id must be numeric")
		return 0, false
	}
	return id, true
}

func parseDate(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", field+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidBatch):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateBatch):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInsufficientQty):
		httpx.Problem(w, http.StatusConflict, "Insufficient Batch Quantity", err.Error())
	case errors.Is(err, ErrTerminalStatus):
		httpx.Problem(w, http.StatusConflict, "Terminal Status", err.Error())
	default:
		h.logger.Error("batch request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
