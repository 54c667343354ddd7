package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/lorrc/carenet-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/carenet-sync/internal/adapters/primary/validation"
	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
	"github.com/lorrc/carenet-sync/internal/core/ports"
	"github.com/lorrc/carenet-sync/internal/infrastructure/logging"
)

const (
	maxTopicLength  = 128
	maxOpenSections = 16
	maxCommentDepth = 32
	defaultLoadWait = 10 * time.Second
)

// ScreenHandler exposes screens and the user actions performed on them.
type ScreenHandler struct {
	screens      ports.ScreenService
	errorHandler *ErrorHandler
	logger       *slog.Logger
	loadWait     time.Duration
}

// NewScreenHandler creates a new screen handler. loadWait bounds how long
// an open with wait=true blocks for the initial reveal.
func NewScreenHandler(
	screens ports.ScreenService,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
	loadWait time.Duration,
) *ScreenHandler {
	if loadWait <= 0 {
		loadWait = defaultLoadWait
	}
	return &ScreenHandler{
		screens:      screens,
		errorHandler: errorHandler,
		logger:       logger.With("handler", "screen"),
		loadWait:     loadWait,
	}
}

// RegisterRoutes sets up the routing for all screen endpoints. actions, when
// non-nil, wraps the mutating routes with a stricter limiter.
func (h *ScreenHandler) RegisterRoutes(r chi.Router, actions func(http.Handler) http.Handler) {
	r.Post("/", h.HandleOpen)

	r.Route("/{screenID}", func(r chi.Router) {
		r.Get("/", h.HandleSnapshot)
		r.Delete("/", h.HandleClose)
		r.Post("/more/{section}", h.HandleLoadMore)

		r.Group(func(r chi.Router) {
			if actions != nil {
				r.Use(actions)
			}

			r.Route("/entities/{kind}/{entityID}", func(r chi.Router) {
				r.Delete("/", h.HandleHide)
				r.Put("/like", h.HandleSetLiked(true))
				r.Delete("/like", h.HandleSetLiked(false))
				r.Put("/bookmark", h.HandleSetBookmarked(true))
				r.Delete("/bookmark", h.HandleSetBookmarked(false))
				r.Post("/comments", h.HandleRecordComment)
			})

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Put("/follow", h.HandleSetFollowed(true))
				r.Delete("/follow", h.HandleSetFollowed(false))
				r.Post("/connection", h.HandleChangeConnection)
			})
		})
	})
}

// --- Request/Response DTOs ---

// OpenScreenRequest defines the expected JSON body for opening a screen
type OpenScreenRequest struct {
	Kind      string   `json:"kind"`
	Topic     string   `json:"topic"`
	SubjectID string   `json:"subjectId"`
	Sections  []string `json:"sections"`
	// Wait blocks the response until the initial load revealed the screen.
	Wait bool `json:"wait"`
}

// Validate validates the open screen request
func (r *OpenScreenRequest) Validate() error {
	v := validation.NewValidator()

	v.Required("kind", r.Kind).
		OneOf("kind", r.Kind, []string{
			string(domain.ScreenHome),
			string(domain.ScreenTopic),
			string(domain.ScreenProfile),
		})

	v.RequiredIf("topic", r.Topic, r.Kind == string(domain.ScreenTopic), "Required for topic screens").
		MaxLength("topic", r.Topic, maxTopicLength)
	v.RequiredIf("subjectId", r.SubjectID, r.Kind == string(domain.ScreenProfile), "Required for profile screens")
	v.MaxItems("sections", len(r.Sections), maxOpenSections)

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// RecordCommentRequest reports a comment created or deleted elsewhere.
type RecordCommentRequest struct {
	// Path lists ancestor comment ids; empty for a top-level comment.
	Path  []string `json:"path"`
	Delta int      `json:"delta"`
}

// Validate validates the record comment request
func (r *RecordCommentRequest) Validate() error {
	v := validation.NewValidator()
	v.Custom("delta", r.Delta == 1 || r.Delta == -1, "Must be 1 or -1").
		MaxItems("path", len(r.Path), maxCommentDepth)

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ChangeConnectionRequest defines the expected JSON body for connection changes
type ChangeConnectionRequest struct {
	Action string `json:"action"`
}

// Validate validates the change connection request
func (r *ChangeConnectionRequest) Validate() error {
	v := validation.NewValidator()
	v.Required("action", r.Action).
		OneOf("action", r.Action, []string{
			string(domain.ActionConnect),
			string(domain.ActionWithdraw),
			string(domain.ActionAccept),
			string(domain.ActionRemove),
		})

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// LoadMoreResponse reports how the section changed.
type LoadMoreResponse struct {
	Section domain.Section       `json:"section"`
	Items   []domain.SectionItem `json:"items"`
}

// --- Handlers ---

// HandleOpen handles POST /screens
func (h *ScreenHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := h.viewer(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[OpenScreenRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	sections := make([]domain.Section, 0, len(req.Sections))
	for _, s := range req.Sections {
		sections = append(sections, domain.Section(s))
	}

	screen, err := h.screens.Open(r.Context(), ports.OpenScreenParams{
		ViewerID:  viewerID,
		Kind:      domain.ScreenKind(req.Kind),
		Topic:     req.Topic,
		SubjectID: req.SubjectID,
		Sections:  sections,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	if req.Wait || validation.ParseBoolQueryParam(r, "wait", false) {
		ctx, cancel := context.WithTimeout(r.Context(), h.loadWait)
		defer cancel()
		if err := screen.WaitLoaded(ctx); err != nil {
			h.logger.WarnContext(r.Context(), "screen did not load in time",
				"screen_id", screen.ID(),
				"error", err,
			)
		}
	}

	WriteCreated(w, screen.Snapshot())
}

// HandleSnapshot handles GET /screens/{screenID}
func (h *ScreenHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	screen, r, ok := h.screen(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, screen.Snapshot())
}

// HandleClose handles DELETE /screens/{screenID}
func (h *ScreenHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := h.viewer(w, r)
	if !ok {
		return
	}
	if err := h.screens.Close(viewerID, chi.URLParam(r, "screenID")); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	WriteNoContent(w)
}

// HandleLoadMore handles POST /screens/{screenID}/more/{section}
func (h *ScreenHandler) HandleLoadMore(w http.ResponseWriter, r *http.Request) {
	screen, r, ok := h.screen(w, r)
	if !ok {
		return
	}

	section := domain.Section(chi.URLParam(r, "section"))
	if err := screen.LoadMore(r.Context(), section); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteSuccess(w, LoadMoreResponse{
		Section: section,
		Items:   screen.Snapshot().Sections[section],
	})
}

// HandleSetLiked handles PUT and DELETE on .../like
func (h *ScreenHandler) HandleSetLiked(liked bool) http.HandlerFunc {
	return h.entityAction(func(ctx context.Context, s ports.Screen, ref domain.EntityRef) error {
		return s.SetLiked(ctx, ref, liked)
	})
}

// HandleSetBookmarked handles PUT and DELETE on .../bookmark
func (h *ScreenHandler) HandleSetBookmarked(bookmarked bool) http.HandlerFunc {
	return h.entityAction(func(ctx context.Context, s ports.Screen, ref domain.EntityRef) error {
		return s.SetBookmarked(ctx, ref, bookmarked)
	})
}

// HandleHide handles DELETE /screens/{screenID}/entities/{kind}/{entityID}
func (h *ScreenHandler) HandleHide(w http.ResponseWriter, r *http.Request) {
	h.entityAction(func(ctx context.Context, s ports.Screen, ref domain.EntityRef) error {
		return s.Hide(ctx, ref)
	})(w, r)
}

// HandleRecordComment handles POST .../comments
func (h *ScreenHandler) HandleRecordComment(w http.ResponseWriter, r *http.Request) {
	req, err := validation.DecodeAndValidate[RecordCommentRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.entityAction(func(ctx context.Context, s ports.Screen, ref domain.EntityRef) error {
		return s.RecordComment(ctx, ref, req.Path, req.Delta)
	})(w, r)
}

// HandleSetFollowed handles PUT and DELETE on .../follow
func (h *ScreenHandler) HandleSetFollowed(followed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		screen, r, ok := h.screen(w, r)
		if !ok {
			return
		}

		userID := chi.URLParam(r, "userID")
		if err := screen.SetFollowed(r.Context(), userID, followed); err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}
		h.writeItem(w, screen, domain.Ref(domain.KindUser, userID))
	}
}

// HandleChangeConnection handles POST .../connection
func (h *ScreenHandler) HandleChangeConnection(w http.ResponseWriter, r *http.Request) {
	screen, r, ok := h.screen(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[ChangeConnectionRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	userID := chi.URLParam(r, "userID")
	rel, err := screen.ChangeConnection(r.Context(), userID, domain.Action(req.Action))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "connection changed",
		"user_id", userID,
		"action", req.Action,
		"phase", rel.Phase,
	)
	WriteSuccess(w, rel)
}

// --- Helpers ---

func (h *ScreenHandler) entityAction(
	apply func(ctx context.Context, s ports.Screen, ref domain.EntityRef) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		screen, r, ok := h.screen(w, r)
		if !ok {
			return
		}

		ref, err := parseEntityRef(r)
		if err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}

		if err := apply(r.Context(), screen, ref); err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}
		h.writeItem(w, screen, ref)
	}
}

// writeItem responds with the row as the screen now shows it, or 204 when
// the row is gone (hidden).
func (h *ScreenHandler) writeItem(w http.ResponseWriter, screen ports.Screen, ref domain.EntityRef) {
	for _, items := range screen.Snapshot().Sections {
		for _, item := range items {
			if item.Ref == ref {
				WriteSuccess(w, item)
				return
			}
		}
	}
	WriteNoContent(w)
}

func (h *ScreenHandler) viewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	viewerID, ok := mw.ViewerID(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return "", false
	}
	return viewerID, true
}

// screen resolves the screen in the path and returns the request with the
// screen id attached to its logging context.
func (h *ScreenHandler) screen(w http.ResponseWriter, r *http.Request) (ports.Screen, *http.Request, bool) {
	viewerID, ok := h.viewer(w, r)
	if !ok {
		return nil, r, false
	}

	screenID := chi.URLParam(r, "screenID")
	screen, err := h.screens.Get(viewerID, screenID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return nil, r, false
	}
	return screen, r.WithContext(logging.WithScreenID(r.Context(), screenID)), true
}

func parseEntityRef(r *http.Request) (domain.EntityRef, error) {
	kind := domain.EntityKind(chi.URLParam(r, "kind"))
	if !kind.IsValid() {
		return domain.EntityRef{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidKind, kind)
	}
	entityID := chi.URLParam(r, "entityID")
	if entityID == "" {
		return domain.EntityRef{}, apperrors.NewBadRequestError(apperrors.ErrBadRequest, "entity id is required")
	}
	return domain.Ref(kind, entityID), nil
}
