package receiving

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/cobalt-erp/cobalt-erp/internal/platform/httpx"
)

// Handler manages receiving endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/receipts", func(r chi.Router) {
		r.Post("/", h.createReceipt)
		r.Get("/", h.listReceipts)
		r.Get("/{id}", h.getReceipt)
		r.Put("/{id}", h.updateReceipt)
		r.Delete("/{id}", h.deleteReceipt)
	})
	r.Route("/qc-reports", func(r chi.Router) {
		r.Post("/", h.createQCReport)
		r.Get("/", h.listQCReports)
		r.Get("/{id}", h.getQCReport)
		r.Put("/{id}", h.updateQCReport)
		r.Delete("/{id}", h.deleteQCReport)
		r.Post("/{id}/finalize", h.finalizeQCReport)
	})
	r.Route("/returns", func(r chi.Router) {
		r.Post("/", h.createReturn)
		r.Get("/", h.listReturns)
		r.Get("/{id}", h.getReturn)
		r.Put("/{id}", h.updateReturn)
		r.Delete("/{id}", h.deleteReturn)
	})
}

type receiptLineDTO struct {
	OrderItemID int64           `json:"order_item_id"`
	MaterialID  int64           `json:"material_id"`
	Qty         decimal.Decimal `json:"qty" validate:"required"`
}

type receiptForm struct {
	OrderID    int64            `json:"order_id"`
	Status     string           `json:"status"`
	ReceivedAt *time.Time       `json:"received_at"`
	Note       string           `json:"note"`
	Lines      []receiptLineDTO `json:"lines" validate:"dive"`
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var form receiptForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	gr, err := h.service.CreateReceipt(r.Context(), CreateReceiptInput{
		OrderID:    form.OrderID,
		Status:     form.Status,
		ReceivedAt: timeOrZero(form.ReceivedAt),
		Note:       form.Note,
		Lines:      receiptLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) updateReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form receiptForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	gr, err := h.service.UpdateReceipt(r.Context(), id, UpdateReceiptInput{
		OrderID:    form.OrderID,
		Status:     form.Status,
		ReceivedAt: timeOrZero(form.ReceivedAt),
		Note:       form.Note,
		Lines:      receiptLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	gr, lines, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipt": gr, "lines": lines})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	orderID, _ := strconv.ParseInt(r.URL.Query().Get("order_id"), 10, 64)
	receipts, err := h.service.ListReceipts(r.Context(), orderID, r.URL.Query().Get("status"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": receipts})
}

func (h *Handler) deleteReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteReceipt(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type qcLineDTO struct {
	ReceiptLineID int64            `json:"receipt_line_id" validate:"required,gt=0"`
	Result        string           `json:"result"`
	AcceptedQty   *decimal.Decimal `json:"accepted_qty"`
	Note          string           `json:"note"`
}

type qcForm struct {
	ReceiptID int64       `json:"receipt_id"`
	Status    string      `json:"status"`
	Lines     []qcLineDTO `json:"lines" validate:"dive"`
}

func (h *Handler) createQCReport(w http.ResponseWriter, r *http.Request) {
	var form qcForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qc, err := h.service.CreateQCReport(r.Context(), CreateQCInput{
		ReceiptID: form.ReceiptID,
		Status:    form.Status,
		Lines:     qcLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, qc)
}

func (h *Handler) updateQCReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form qcForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	qc, err := h.service.UpdateQCReport(r.Context(), id, UpdateQCInput{
		Status: form.Status,
		Lines:  qcLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, qc)
}

func (h *Handler) finalizeQCReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form qcForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	qc, err := h.service.FinalizeQCReport(r.Context(), id, FinalizeQCInput{
		Status: form.Status,
		Lines:  qcLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, qc)
}

func (h *Handler) getQCReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	qc, lines, err := h.service.GetQCReport(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"report": qc, "lines": lines})
}

func (h *Handler) listQCReports(w http.ResponseWriter, r *http.Request) {
	receiptID, _ := strconv.ParseInt(r.URL.Query().Get("receipt_id"), 10, 64)
	reports, err := h.service.ListQCReports(r.Context(), receiptID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": reports})
}

func (h *Handler) deleteQCReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteQCReport(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type returnLineDTO struct {
	ReceiptLineID int64           `json:"receipt_line_id" validate:"required,gt=0"`
	Qty           decimal.Decimal `json:"qty"`
	Reason        string          `json:"reason"`
}

type returnForm struct {
	ReceiptID int64           `json:"receipt_id"`
	Status    string          `json:"status"`
	Lines     []returnLineDTO `json:"lines" validate:"dive"`
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var form returnForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ret, err := h.service.CreateReturn(r.Context(), CreateReturnInput{
		ReceiptID: form.ReceiptID,
		Status:    form.Status,
		Lines:     returnLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) updateReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form returnForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	ret, err := h.service.UpdateReturn(r.Context(), id, UpdateReturnInput{
		ReceiptID: form.ReceiptID,
		Status:    form.Status,
		Lines:     returnLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ret, lines, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"return": ret, "lines": lines})
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	receiptID, _ := strconv.ParseInt(r.URL.Query().Get("receipt_id"), 10, 64)
	returns, err := h.service.ListReturns(r.Context(), receiptID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": returns})
}

func (h *Handler) deleteReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteReturn(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotConfirmed), errors.Is(err, ErrGRNotPosted):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Precondition Failed", err.Error())
	case errors.Is(err, ErrOverReceipt), errors.Is(err, ErrOverReturn), errors.Is(err, ErrAcceptedQtyOutOfRange):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Quantity Limit Exceeded", err.Error())
	case errors.Is(err, ErrUnknownMaterial), errors.Is(err, ErrAmbiguousMaterial),
		errors.Is(err, ErrForeignLine), errors.Is(err, ErrDuplicateLine), errors.Is(err, ErrInvalidResult):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Line", err.Error())
	case errors.Is(err, ErrCannotFinalizePending):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Cannot Finalize", err.Error())
	case errors.Is(err, ErrInUse):
		httpx.Problem(w, http.StatusConflict, "In Use", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func receiptLines(dtos []receiptLineDTO) []ReceiptLineInput {
	if dtos == nil {
		return nil
	}
	lines := make([]ReceiptLineInput, 0, len(dtos))
	for _, dto := range dtos {
		lines = append(lines, ReceiptLineInput{OrderItemID: dto.OrderItemID, MaterialID: dto.MaterialID, Qty: dto.Qty})
	}
	return lines
}

func qcLines(dtos []qcLineDTO) []QCLineInput {
	if dtos == nil {
		return nil
	}
	lines := make([]QCLineInput, 0, len(dtos))
	for _, dto := range dtos {
		lines = append(lines, QCLineInput{ReceiptLineID: dto.ReceiptLineID, Result: dto.Result, AcceptedQty: dto.AcceptedQty, Note: dto.Note})
	}
	return lines
}

func returnLines(dtos []returnLineDTO) []ReturnLineInput {
	if dtos == nil {
		return nil
	}
	lines := make([]ReturnLineInput, 0, len(dtos))
	for _, dto := range dtos {
		lines = append(lines, ReturnLineInput{ReceiptLineID: dto.ReceiptLineID, Qty: dto.Qty, Reason: dto.Reason})
	}
	return lines
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
