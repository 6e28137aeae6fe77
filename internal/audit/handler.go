package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/authcore-io/authcore/internal/platform/httpx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Handler exposes the audit trail over JSON, read-only.
type Handler struct {
	logger *slog.Logger
	store  Store
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, store Store) *Handler {
	return &Handler{logger: logger, store: store}
}

// MountRoutes registers audit trail routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
}

type recordResponse struct {
	ID     string         `json:"id"`
	At     time.Time      `json:"at"`
	Actor  string         `json:"actor"`
	Action string         `json:"action"`
	Target string         `json:"target"`
	Detail map[string]any `json:"detail,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	recs, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list audit records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordResponse{
			ID:     rec.ID,
			At:     rec.At,
			Actor:  rec.Actor,
			Action: rec.Action,
			Target: rec.Target,
			Detail: rec.Detail,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": out})
}
