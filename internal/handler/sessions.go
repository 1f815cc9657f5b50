package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/session"
)

type sessionResponse struct {
	session.View
	Messages []string `json:"messages,omitempty"`
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, status int, c *session.Controller) {
	resp := sessionResponse{View: c.View()}
	for _, key := range resp.Warnings {
		resp.Messages = append(resp.Messages, appI18n.T(r.Context(), key))
	}
	writeJSON(w, status, resp)
}

// withSession resolves the {sessionID} path parameter.
func (h *Handler) withSession(fn func(w http.ResponseWriter, r *http.Request, c *session.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := fn(w, r, c); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeSession(w, r, http.StatusOK, c)
	}
}

type startRequest struct {
	TestID       string `json:"test_id"`
	OwnerID      string `json:"owner_id"`
	Locale       string `json:"locale"`
	InvitationID string `json:"invitation_id"`
	Count        int    `json:"count"`
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.TestID == "" {
		h.writeError(w, r, fmt.Errorf("test_id is required: %w", model.ErrInvalidInput))
		return
	}
	if req.Locale == "" {
		req.Locale = model.LocaleFromContext(r.Context())
	}
	c, err := h.sessions.Start(r.Context(), session.Options{
		TestID:       req.TestID,
		OwnerID:      req.OwnerID,
		Locale:       appI18n.Match(req.Locale, h.config.DefaultLang),
		InvitationID: req.InvitationID,
		Count:        req.Count,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusCreated, c)
}

func (h *Handler) getSession(http.ResponseWriter, *http.Request, *session.Controller) error {
	return nil
}

func (h *Handler) selectCategories(w http.ResponseWriter, r *http.Request, c *session.Controller) error {
	var req struct {
		Categories []string `json:"categories"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	return c.SelectCategories(req.Categories)
}

func (h *Handler) setName(w http.ResponseWriter, r *http.Request, c *session.Controller) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	return c.SetName(req.Name)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request, c *session.Controller) error {
	var req struct {
		Restore bool `json:"restore"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	return c.Resume(req.Restore)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, c *session.Controller) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	return c.Verify(r.Context(), req.Email)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request, c *session.Controller) error {
	var req struct {
		Value *model.Answer `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	if req.Value == nil {
		return fmt.Errorf("value is required: %w", model.ErrInvalidInput)
	}
	return c.Answer(r.Context(), *req.Value)
}

func (h *Handler) previous(_ http.ResponseWriter, _ *http.Request, c *session.Controller) error {
	return c.Previous()
}

func (h *Handler) exit(_ http.ResponseWriter, _ *http.Request, c *session.Controller) error {
	if err := c.SaveAndExit(); err != nil {
		return err
	}
	h.sessions.Remove(c.ID())
	return nil
}

type inviteRequest struct {
	InviterEmail string `json:"inviter_email"`
	PartnerEmail string `json:"partner_email"`
	PartnerName  string `json:"partner_name"`
}

type inviteResponse struct {
	Invitation *model.InvitationRecord `json:"invitation"`
	Notified   bool                    `json:"notified"`
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req inviteRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, notified, err := c.Invite(r.Context(), session.InviteRequest{
		InviterEmail: req.InviterEmail,
		PartnerEmail: req.PartnerEmail,
		PartnerName:  req.PartnerName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inviteResponse{Invitation: inv, Notified: notified})
}
