package procurement

import (
	"context"
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

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/requisitions", func(r chi.Router) {
		r.Post("/", h.createRequisition)
		r.Get("/", h.listRequisitions)
		r.Get("/approved", h.listApprovedRequisitions)
		r.Get("/{id}", h.getRequisition)
		r.Put("/{id}", h.updateRequisition)
		r.Delete("/{id}", h.deleteRequisition)
		r.Post("/{id}/approve", h.approveRequisition)
	})
	r.Route("/rfqs", func(r chi.Router) {
		r.Post("/", h.createRFQ)
		r.Get("/", h.listRFQs)
		r.Get("/{id}", h.getRFQ)
		r.Put("/{id}", h.updateRFQ)
		r.Delete("/{id}", h.deleteRFQ)
		r.Get("/{id}/quotations", h.listQuotations)
	})
	r.Route("/quotations", func(r chi.Router) {
		r.Post("/", h.createQuotation)
		r.Get("/{id}", h.getQuotation)
		r.Put("/{id}", h.updateQuotation)
		r.Delete("/{id}", h.deleteQuotation)
		r.Post("/{id}/select", h.selectQuotation)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/confirmed", h.listConfirmedOrders)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}", h.updateOrder)
		r.Delete("/{id}", h.deleteOrder)
		r.Post("/{id}/confirm", h.confirmOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/complete", h.completeOrder)
		r.Get("/{id}/remaining", h.orderRemaining)
	})
}

type requisitionLineDTO struct {
	MaterialID int64           `json:"material_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty" validate:"required"`
}

type requisitionForm struct {
	RequesterID int64                `json:"requester_id"`
	Note        string               `json:"note"`
	Status      string               `json:"status"`
	Lines       []requisitionLineDTO `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	var form requisitionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	pr, err := h.service.CreateRequisition(r.Context(), CreateRequisitionInput{
		RequesterID: form.RequesterID,
		Note:        form.Note,
		Status:      form.Status,
		Lines:       requisitionLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) updateRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form requisitionForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	pr, err := h.service.UpdateRequisition(r.Context(), id, UpdateRequisitionInput{
		Note:   form.Note,
		Status: form.Status,
		Lines:  requisitionLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) approveRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form struct {
		Role string `json:"role"`
	}
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	pr, err := h.service.ApproveRequisition(r.Context(), id, form.Role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) getRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pr, lines, err := h.service.GetRequisition(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requisition": pr, "lines": lines})
}

func (h *Handler) listRequisitions(w http.ResponseWriter, r *http.Request) {
	prs, err := h.service.ListRequisitions(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": prs})
}

func (h *Handler) listApprovedRequisitions(w http.ResponseWriter, r *http.Request) {
	prs, err := h.service.ListApprovedRequisitions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": prs})
}

func (h *Handler) deleteRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRequisition(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rfqForm struct {
	RequisitionID int64  `json:"requisition_id" validate:"required,gt=0"`
	Status        string `json:"status"`
}

func (h *Handler) createRFQ(w http.ResponseWriter, r *http.Request) {
	var form rfqForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rfq, err := h.service.CreateRFQ(r.Context(), CreateRFQInput{RequisitionID: form.RequisitionID, Status: form.Status})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rfq)
}

func (h *Handler) updateRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form struct {
		RequisitionID int64  `json:"requisition_id"`
		Status        string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	rfq, err := h.service.UpdateRFQ(r.Context(), id, UpdateRFQInput{RequisitionID: form.RequisitionID, Status: form.Status})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rfq)
}

func (h *Handler) getRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rfq, lines, err := h.service.GetRFQ(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rfq": rfq, "lines": lines})
}

func (h *Handler) listRFQs(w http.ResponseWriter, r *http.Request) {
	rfqs, err := h.service.ListRFQs(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rfqs})
}

func (h *Handler) deleteRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRFQ(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type quotationLineDTO struct {
	MaterialID int64           `json:"material_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty" validate:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type quotationForm struct {
	RFQID    int64              `json:"rfq_id"`
	VendorID int64              `json:"vendor_id"`
	Status   string             `json:"status"`
	Lines    []quotationLineDTO `json:"lines" validate:"dive"`
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	var form quotationForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	vq, err := h.service.CreateQuotation(r.Context(), CreateQuotationInput{
		RFQID:    form.RFQID,
		VendorID: form.VendorID,
		Status:   form.Status,
		Lines:    quotationLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, vq)
}

func (h *Handler) updateQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form quotationForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	vq, err := h.service.UpdateQuotation(r.Context(), id, UpdateQuotationInput{
		RFQID:    form.RFQID,
		VendorID: form.VendorID,
		Status:   form.Status,
		Lines:    quotationLines(form.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vq)
}

func (h *Handler) selectQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	vq, err := h.service.SelectQuotation(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vq)
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	vq, lines, err := h.service.GetQuotation(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quotation": vq, "lines": lines})
}

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	rfqID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	vqs, err := h.service.ListQuotationsByRFQ(r.Context(), rfqID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": vqs})
}

func (h *Handler) deleteQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteQuotation(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderItemDTO struct {
	MaterialID int64           `json:"material_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty" validate:"required"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type orderForm struct {
	QuotationID  int64            `json:"quotation_id"`
	Number       string           `json:"number"`
	VendorID     int64            `json:"vendor_id"`
	OrderDate    *time.Time       `json:"order_date"`
	ExpectedDate *time.Time       `json:"expected_date"`
	TaxAmount    *decimal.Decimal `json:"tax_amount"`
	TaxRate      *decimal.Decimal `json:"tax_rate"`
	Status       string           `json:"status"`
	Items        []orderItemDTO   `json:"items" validate:"dive"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var form orderForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	po, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		QuotationID:  form.QuotationID,
		Number:       form.Number,
		VendorID:     form.VendorID,
		OrderDate:    timeOrZero(form.OrderDate),
		ExpectedDate: timeOrZero(form.ExpectedDate),
		TaxAmount:    form.TaxAmount,
		TaxRate:      form.TaxRate,
		Status:       form.Status,
		Items:        orderItems(form.Items),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var form orderForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	po, err := h.service.UpdateOrder(r.Context(), id, UpdateOrderInput{
		QuotationID:  form.QuotationID,
		Number:       form.Number,
		OrderDate:    timeOrZero(form.OrderDate),
		ExpectedDate: timeOrZero(form.ExpectedDate),
		TaxAmount:    form.TaxAmount,
		TaxRate:      form.TaxRate,
		Items:        orderItems(form.Items),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.service.ConfirmOrder)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.service.CancelOrder)
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.service.CompleteOrder)
}

func (h *Handler) orderTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64) (Order, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, err := op(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	po, items, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order": po, "items": items})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *Handler) listConfirmedOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListConfirmedOrders(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders})
}

func (h *Handler) orderRemaining(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	remaining, err := h.service.ItemsRemaining(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": remaining})
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
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
	case errors.Is(err, ErrRoleNotAllowed):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrConflictingSelection):
		httpx.Problem(w, http.StatusConflict, "Conflicting Selection", err.Error())
	case errors.Is(err, ErrInUse), errors.Is(err, ErrHasReceipts):
		httpx.Problem(w, http.StatusConflict, "In Use", err.Error())
	case errors.Is(err, ErrVendorMismatch), errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid State", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func requisitionLines(dtos []requisitionLineDTO) []RequisitionLineInput {
	if dtos == nil {
		return nil
	}
	lines := make([]RequisitionLineInput, 0, len(dtos))
	for _, dto := range dtos {
		lines = append(lines, RequisitionLineInput{MaterialID: dto.MaterialID, Qty: dto.Qty})
	}
	return lines
}

func quotationLines(dtos []quotationLineDTO) []QuotationLineInput {
	if dtos == nil {
		return nil
	}
	lines := make([]QuotationLineInput, 0, len(dtos))
	for _, dto := range dtos {
		lines = append(lines, QuotationLineInput{MaterialID: dto.MaterialID, Qty: dto.Qty, UnitPrice: dto.UnitPrice})
	}
	return lines
}

func orderItems(dtos []orderItemDTO) []OrderItemInput {
	if dtos == nil {
		return nil
	}
	items := make([]OrderItemInput, 0, len(dtos))
	for _, dto := range dtos {
		items = append(items, OrderItemInput{MaterialID: dto.MaterialID, Qty: dto.Qty, UnitPrice: dto.UnitPrice})
	}
	return items
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
