package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
)

type resultResponse struct {
	Result      *model.ResultRecord `json:"result"`
	Description string              `json:"description,omitempty"`
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	rec, err := h.result(r.Context(), chi.URLParam(r, "resultID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := resultResponse{Result: rec}
	if key := rec.Payload.DescriptionKey; key != "" {
		resp.Description = appI18n.T(r.Context(), key)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resultID")
	if _, err := h.result(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.results.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type compatibilityResponse struct {
	*model.CompatibilityResult
	Relationship    string   `json:"relationship"`
	Advice          []string `json:"advice,omitempty"`
	FirstTypeLabel  string   `json:"first_type_label,omitempty"`
	SecondTypeLabel string   `json:"second_type_label,omitempty"`
}

func (h *Handler) handleGetCompatibility(w http.ResponseWriter, r *http.Request) {
	c, err := h.rendezvous.Lookup(r.Context(), chi.URLParam(r, "resultID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCompatibility(w, r, c)
}

// handleGetPairCompatibility serves one party's stored copy of a joint
// result, addressed by pair id and that party's email.
func (h *Handler) handleGetPairCompatibility(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		h.writeError(w, r, fmt.Errorf("email query parameter required: %w", model.ErrInvalidInput))
		return
	}
	c, err := h.rendezvous.LookupForEmail(r.Context(), email, chi.URLParam(r, "pairID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCompatibility(w, r, c)
}

func (h *Handler) writeCompatibility(w http.ResponseWriter, r *http.Request, c *model.CompatibilityResult) {
	ctx := r.Context()
	resp := compatibilityResponse{
		CompatibilityResult: c,
		Relationship:        appI18n.T(ctx, "relationship."+c.RelationshipType),
	}
	for _, key := range c.Recommendations {
		resp.Advice = append(resp.Advice, appI18n.T(ctx, key))
	}
	if key := c.First.DescriptionKey; key != "" {
		resp.FirstTypeLabel = appI18n.T(ctx, key)
	}
	if key := c.Second.DescriptionKey; key != "" {
		resp.SecondTypeLabel = appI18n.T(ctx, key)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) result(ctx context.Context, id string) (*model.ResultRecord, error) {
	rec, err := h.results.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("result %s: %w", id, model.ErrNotFound)
	}
	return rec, nil
}

// invitationView is what the invited partner may see before verifying.
type invitationView struct {
	ID          string                 `json:"id"`
	TestID      string                 `json:"test_id"`
	TestTitle   string                 `json:"test_title"`
	PartnerName string                 `json:"partner_name,omitempty"`
	Categories  []string               `json:"categories,omitempty"`
	Status      model.InvitationStatus `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
}

func (h *Handler) handleGetInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.rendezvous.Invitation(r.Context(), chi.URLParam(r, "invitationID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationView{
		ID:          inv.ID,
		TestID:      inv.Origin.TestID,
		TestTitle:   h.testTitle(inv.Origin.TestID, model.LocaleFromContext(r.Context())),
		PartnerName: inv.Origin.PartnerName,
		Categories:  inv.Origin.Categories,
		Status:      inv.Completion.Status,
		CreatedAt:   inv.Origin.CreatedAt,
	})
}

func (h *Handler) handleResendInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.rendezvous.Invitation(ctx, chi.URLParam(r, "invitationID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	inviterName := inv.Origin.InviterEmail
	if rec, err := h.results.Get(ctx, inv.Origin.ResultID); err == nil && rec != nil && rec.DisplayName != "" {
		inviterName = rec.DisplayName
	}
	sent, err := h.rendezvous.Resend(ctx, inv.ID, h.testTitle(inv.Origin.TestID, inv.Origin.Locale), inviterName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"notified": sent})
}

func (h *Handler) testTitle(testID, locale string) string {
	def, err := h.catalog.Definition(testID, locale)
	if err != nil {
		return testID
	}
	return def.Title
}
