package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/lorrc/carenet-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/ports"
)

// OpenScreenSummary describes one of the viewer's live screens.
type OpenScreenSummary struct {
	ScreenID string            `json:"screenId"`
	Kind     domain.ScreenKind `json:"kind"`
	Topic    string            `json:"topic,omitempty"`
	Loaded   bool              `json:"loaded"`
}

// MeResponse defines the JSON response for the authenticated viewer.
type MeResponse struct {
	ViewerID string              `json:"viewerId"`
	Screens  []OpenScreenSummary `json:"screens"`
}

// MeHandler handles HTTP requests about the authenticated viewer.
type MeHandler struct {
	screens      ports.ScreenService
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewMeHandler creates a new MeHandler.
func NewMeHandler(screens ports.ScreenService, errorHandler *ErrorHandler, logger *slog.Logger) *MeHandler {
	return &MeHandler{
		screens:      screens,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "me"),
	}
}

// RegisterRoutes registers the /me routes.
func (h *MeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleMe)
	r.Get("/screens", h.HandleScreens)
}

// HandleMe handles GET /me.
func (h *MeHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := mw.ViewerID(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}
	WriteSuccess(w, MeResponse{ViewerID: viewerID, Screens: h.summaries(viewerID)})
}

// HandleScreens handles GET /me/screens.
func (h *MeHandler) HandleScreens(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := mw.ViewerID(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}
	WriteSuccess(w, h.summaries(viewerID))
}

func (h *MeHandler) summaries(viewerID string) []OpenScreenSummary {
	screens := h.screens.List(viewerID)
	out := make([]OpenScreenSummary, 0, len(screens))
	for _, screen := range screens {
		snap := screen.Snapshot()
		out = append(out, OpenScreenSummary{
			ScreenID: screen.ID(),
			Kind:     snap.Kind,
			Topic:    snap.Topic,
			Loaded:   snap.Loaded,
		})
	}
	return out
}
