package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/questions"
	"github.com/pavelanni/assessor/internal/rendezvous"
	"github.com/pavelanni/assessor/internal/results"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
)

// Config holds the HTTP-facing settings.
type Config struct {
	DefaultLang string
	AdminUser   string
	// AdminPasswordHash is a bcrypt hash. Admin routes are disabled when empty.
	AdminPasswordHash []byte
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions   *session.Manager
	catalog    *questions.Catalog
	results    *results.Store
	rendezvous *rendezvous.Service
	store      *store.Store
	config     Config
}

// New creates a new Handler.
func New(sessions *session.Manager, catalog *questions.Catalog, res *results.Store,
	rdv *rendezvous.Service, s *store.Store, cfg Config) *Handler {
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = "en"
	}
	return &Handler{
		sessions:   sessions,
		catalog:    catalog,
		results:    res,
		rendezvous: rdv,
		store:      s,
		config:     cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(appI18n.Middleware(h.config.DefaultLang))

		r.Get("/tests", h.handleListTests)

		r.Post("/sessions", h.handleStartSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.withSession(h.getSession))
			r.Post("/categories", h.withSession(h.selectCategories))
			r.Post("/name", h.withSession(h.setName))
			r.Post("/resume", h.withSession(h.resume))
			r.Post("/verify", h.withSession(h.verify))
			r.Post("/answer", h.withSession(h.answer))
			r.Post("/previous", h.withSession(h.previous))
			r.Post("/exit", h.withSession(h.exit))
			r.Post("/invitations", h.handleInvite)
		})

		r.Get("/invitations/{invitationID}", h.handleGetInvitation)
		r.Post("/invitations/{invitationID}/resend", h.handleResendInvitation)

		r.Get("/results/{resultID}", h.handleGetResult)
		r.Delete("/results/{resultID}", h.handleDeleteResult)
		r.Get("/results/{resultID}/compatibility", h.handleGetCompatibility)
		r.Get("/compatibility/{pairID}", h.handleGetPairCompatibility)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/admin/questions", h.handleUploadQuestions)
		})
	})
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.List(model.LocaleFromContext(r.Context())))
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorStatus maps a domain error to an HTTP status and an i18n message id.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvitationVerification):
		return http.StatusUnprocessableEntity, "error.verification"
	case errors.Is(err, model.ErrInvalidEmail):
		return http.StatusUnprocessableEntity, "error.invalid_email"
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrUnknownQuestion):
		return http.StatusBadRequest, "error.invalid_input"
	case errors.Is(err, model.ErrNotTwoParty):
		return http.StatusBadRequest, "error.not_two_party"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "error.not_found"
	case errors.Is(err, model.ErrInvitationConsumed):
		return http.StatusConflict, "error.consumed"
	case errors.Is(err, model.ErrSessionClosed):
		return http.StatusConflict, "error.session_closed"
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, "error.invalid_transition"
	default:
		return http.StatusInternalServerError, "error.internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, key := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: key, Message: appI18n.T(r.Context(), key)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// decode reads a JSON request body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(model.ErrInvalidInput, err)
	}
	return nil
}
