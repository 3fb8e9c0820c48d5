package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cobalt-erp/cobalt-erp/internal/platform/httpx"
)

// Handler manages inventory endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.handleListStock)
	r.Get("/stock/{materialID}", h.handleOnHand)
	r.Get("/movements", h.handleListMovements)
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListStockItems(r.Context())
	if err != nil {
		h.logger.Error("list stock items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": stockItemViews(items)})
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "materialID"), 10, 64)
	if err != nil || materialID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "material id must be a positive integer")
		return
	}
	qty, err := h.service.OnHand(r.Context(), materialID)
	if err != nil {
		h.logger.Error("on-hand lookup", slog.Int64("material_id", materialID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"material_id": materialID,
		"on_hand":     qty.String(),
	})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	materialID, _ := strconv.ParseInt(r.URL.Query().Get("material_id"), 10, 64)
	refID, _ := strconv.ParseInt(r.URL.Query().Get("ref_id"), 10, 64)
	filter := MovementFilter{
		MaterialID: materialID,
		RefType:    r.URL.Query().Get("ref_type"),
		RefID:      refID,
		Limit:      limit,
		Offset:     offset,
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": movementViews(movements)})
}

type stockItemView struct {
	ID         int64  `json:"id"`
	MaterialID int64  `json:"material_id"`
	QtyOnHand  string `json:"qty_on_hand"`
	UpdatedAt  string `json:"updated_at"`
}

type movementView struct {
	ID         int64  `json:"id"`
	MaterialID int64  `json:"material_id"`
	RefType    string `json:"ref_type"`
	RefID      int64  `json:"ref_id"`
	QtyChange  string `json:"qty_change"`
	CreatedAt  string `json:"created_at"`
}

func stockItemViews(items []StockItem) []stockItemView {
	views := make([]stockItemView, 0, len(items))
	for _, item := range items {
		views = append(views, stockItemView{
			ID:         item.ID,
			MaterialID: item.MaterialID,
			QtyOnHand:  item.QtyOnHand.String(),
			UpdatedAt:  item.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return views
}

func movementViews(movements []Movement) []movementView {
	views := make([]movementView, 0, len(movements))
	for _, mv := range movements {
		views = append(views, movementView{
			ID:         mv.ID,
			MaterialID: mv.MaterialID,
			RefType:    mv.RefType,
			RefID:      mv.RefID,
			QtyChange:  mv.QtyChange.String(),
			CreatedAt:  mv.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return views
}
