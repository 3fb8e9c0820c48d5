package billing

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

// Handler manages billing endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.createInvoice)
		r.Get("/", h.listInvoices)
		r.Get("/{id}", h.getInvoice)
		r.Put("/{id}", h.updateInvoice)
		r.Delete("/{id}", h.deleteInvoice)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.createPayment)
		r.Get("/", h.listPayments)
		r.Get("/{id}", h.getPayment)
		r.Put("/{id}", h.updatePayment)
		r.Delete("/{id}", h.deletePayment)
	})
}

type invoiceLineDTO struct {
	MaterialID int64           `json:"material_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty" validate:"required"`
	Price      decimal.Decimal `json:"price"`
}

type invoiceForm struct {
	Number    string           `json:"number"`
	VendorID  int64            `json:"vendor_id"`
	OrderID   int64            `json:"order_id"`
	Status    string           `json:"status"`
	IssueDate *time.Time       `json:"issue_date"`
	Total     *decimal.Decimal `json:"total"`
	Lines     []invoiceLineDTO `json:"lines" validate:"dive"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var form invoiceForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateInvoiceInput{
		Number:   form.Number,
		VendorID: form.VendorID,
		OrderID:  form.OrderID,
		Status:   form.Status,
		Lines:    invoiceLines(form.Lines),
	}
	if form.IssueDate != nil {
		input.IssueDate = *form.IssueDate
	}
	if form.Total != nil {
		input.Total = *form.Total
	}
	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form invoiceForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	input := UpdateInvoiceInput{
		VendorID: form.VendorID,
		OrderID:  form.OrderID,
		Status:   form.Status,
		Total:    form.Total,
		Lines:    invoiceLines(form.Lines),
	}
	if form.IssueDate != nil {
		input.IssueDate = *form.IssueDate
	}
	inv, err := h.service.UpdateInvoice(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	inv, lines, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice": inv, "lines": lines})
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	vendorID, _ := strconv.ParseInt(r.URL.Query().Get("vendor_id"), 10, 64)
	invoices, err := h.service.ListInvoices(r.Context(), vendorID, r.URL.Query().Get("status"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": invoices})
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteInvoice(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentForm struct {
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Method    string          `json:"method"`
	PaidAt    *time.Time      `json:"paid_at"`
	Note      string          `json:"note"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var form paymentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreatePaymentInput{
		InvoiceID: form.InvoiceID,
		Amount:    form.Amount,
		Method:    form.Method,
		Note:      form.Note,
	}
	if form.PaidAt != nil {
		input.PaidAt = *form.PaidAt
	}
	p, err := h.service.CreatePayment(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form paymentForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	input := UpdatePaymentInput{
		InvoiceID: form.InvoiceID,
		Amount:    form.Amount,
		Method:    form.Method,
		Note:      form.Note,
	}
	if form.PaidAt != nil {
		input.PaidAt = *form.PaidAt
	}
	p, err := h.service.UpdatePayment(r.Context(), id, input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	invoiceID, _ := strconv.ParseInt(r.URL.Query().Get("invoice_id"), 10, 64)
	payments, err := h.service.ListPayments(r.Context(), invoiceID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": payments})
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePayment(r.Context(), id); err != nil {
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
	case errors.Is(err, ErrHasPayments):
		httpx.Problem(w, http.StatusConflict, "Invoice Has Payments", err.Error())
	case errors.Is(err, ErrVendorMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Vendor Mismatch", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func invoiceLines(dtos []invoiceLineDTO) []InvoiceLineInput {
	if dtos == nil {
		return nil
	}
	lines := make([]InvoiceLineInput, 0, len(dtos))
	for _, dto := range dtos {
		lines = append(lines, InvoiceLineInput{MaterialID: dto.MaterialID, Qty: dto.Qty, Price: dto.Price})
	}
	return lines
}
