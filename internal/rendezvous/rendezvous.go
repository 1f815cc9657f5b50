// Package rendezvous joins two independently completed sessions of a
// two-party test into one compatibility result.
//
// The join is eventual: each party's own result is always valid on its
// own, and the joint result is a derived view that can be recomputed.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/kv"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/notify"
	"github.com/pavelanni/assessor/internal/questions"
	"github.com/pavelanni/assessor/internal/results"
	"github.com/pavelanni/assessor/internal/scoring"
)

// Remote is the durable invitation and joint-result store.
type Remote interface {
	CreateInvitation(ctx context.Context, inv model.InvitationRecord) error
	GetInvitation(ctx context.Context, id string) (*model.InvitationRecord, error)
	UpdateInvitationCompletion(ctx context.Context, id string, c model.InvitationCompletion) error
	UpsertCompatibility(ctx context.Context, ownerID string, c model.CompatibilityResult) error
	GetCompatibility(ctx context.Context, ownerID, pairID string) (*model.CompatibilityResult, error)
	CompatibilityForResult(ctx context.Context, resultID string) (*model.CompatibilityResult, error)
	InvitationsForResult(ctx context.Context, resultID string) ([]model.InvitationRecord, error)
	LatestResultForOwner(ctx context.Context, testID, ownerID string) (*model.ResultRecord, error)
}

// Notifier delivers invitation and joint-result emails.
type Notifier interface {
	SendInvitation(ctx context.Context, inv notify.Invitation) error
	SendJointResult(ctx context.Context, jr notify.JointResult) error
}

// Definitions resolves test definitions for recomputation.
type Definitions interface {
	Definition(testID, locale string) (model.TestDefinition, error)
}

// Service runs the invitation protocol.
type Service struct {
	remote   Remote
	results  *results.Store
	local    kv.KV
	notifier Notifier
	tests    Definitions
	now      func() time.Time
	newID    func() string
}

// New creates a rendezvous service. notifier may be nil.
func New(remote Remote, res *results.Store, local kv.KV, notifier Notifier, tests Definitions, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		remote:   remote,
		results:  res,
		local:    local,
		notifier: notifier,
		tests:    tests,
		now:      now,
		newID:    uuid.NewString,
	}
}

// InviteRequest is what the first party supplies to invite a partner.
type InviteRequest struct {
	Result       model.ResultRecord
	Test         model.TestDefinition
	InviterEmail string
	PartnerEmail string
	PartnerName  string
}

// Invite records an invitation for the partner and emails it. The
// invitation is kept even if the email could not be sent; notified
// reports whether it was. Inviting the same partner again from the same
// result returns the pending invitation and re-sends it under the
// notifier's cooldown.
func (s *Service) Invite(ctx context.Context, req InviteRequest) (inv *model.InvitationRecord, notified bool, err error) {
	if !req.Test.TwoParty() {
		return nil, false, model.ErrNotTwoParty
	}
	inviter, err := parseEmail(req.InviterEmail)
	if err != nil {
		return nil, false, err
	}
	partner, err := parseEmail(req.PartnerEmail)
	if err != nil {
		return nil, false, err
	}

	inviterName := req.Result.DisplayName
	if inviterName == "" {
		inviterName = inviter
	}
	if open := s.openInvitation(ctx, req.Result.ID, partner); open != nil {
		slog.Debug("partner already invited, reusing invitation", "invitation", open.ID)
		return open, s.sendInvitation(ctx, *open, req.Test.Title, inviterName), nil
	}

	now := s.now()
	rec := model.InvitationRecord{
		ID: s.newID(),
		Origin: model.InvitationOrigin{
			ResultID:     req.Result.ID,
			TestID:       req.Result.TestID,
			InviterEmail: inviter,
			PartnerEmail: partner,
			PartnerName:  strings.TrimSpace(req.PartnerName),
			Categories:   req.Result.Categories,
			Locale:       req.Result.Locale,
			CreatedAt:    now,
		},
		Completion: model.InvitationCompletion{Status: model.InvitationPending, UpdatedAt: now},
	}

	localErr := s.cacheInvitation(rec)
	if localErr != nil {
		slog.Warn("local invitation save failed", "invitation", rec.ID, "error", localErr)
	}
	if err := s.remote.CreateInvitation(ctx, rec); err != nil {
		if localErr != nil {
			return nil, false, fmt.Errorf("create invitation: %w", err)
		}
		slog.Warn("remote invitation save failed, kept locally", "invitation", rec.ID, "error", err)
	}

	notified = s.sendInvitation(ctx, rec, req.Test.Title, inviterName)
	return &rec, notified, nil
}

// Resend emails an existing pending invitation again, subject to the
// notifier's cooldown.
func (s *Service) Resend(ctx context.Context, id, testTitle, inviterName string) (bool, error) {
	inv, err := s.Invitation(ctx, id)
	if err != nil {
		return false, err
	}
	if consumed(*inv) {
		return false, model.ErrInvitationConsumed
	}
	return s.sendInvitation(ctx, *inv, testTitle, inviterName), nil
}

// Invitation returns an invitation from the remote store or, failing
// that, the local cache.
func (s *Service) Invitation(ctx context.Context, id string) (*model.InvitationRecord, error) {
	inv, err := s.remote.GetInvitation(ctx, id)
	if err != nil {
		slog.Warn("remote invitation lookup failed, trying local", "invitation", id, "error", err)
	}
	if inv != nil {
		return inv, nil
	}
	data, ok, lerr := s.local.Get(model.InvitationKey(id))
	if lerr != nil || !ok {
		return nil, fmt.Errorf("invitation %s: %w", id, model.ErrNotFound)
	}
	var rec model.InvitationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode local invitation %s: %w", id, err)
	}
	return &rec, nil
}

// Verify checks the email supplied by the partner against the two
// addresses the inviter put on the invitation: their own and the
// partner's. The match ignores case and surrounding space but is otherwise
// exact. A mismatch returns ErrInvitationVerification and may be retried.
// Once a partner result is attached, matched or not, the invitation no
// longer admits anyone.
func (s *Service) Verify(ctx context.Context, id, email string) (*model.InvitationRecord, error) {
	inv, err := s.Invitation(ctx, id)
	if err != nil {
		return nil, err
	}
	if consumed(*inv) {
		return nil, model.ErrInvitationConsumed
	}
	email = strings.TrimSpace(email)
	if email == "" || !(strings.EqualFold(email, inv.Origin.InviterEmail) || strings.EqualFold(email, inv.Origin.PartnerEmail)) {
		return nil, model.ErrInvitationVerification
	}
	return inv, nil
}

// Outcome is the result of completing an invitation.
type Outcome struct {
	Invitation model.InvitationRecord
	// Joint is nil when the inviter's answers could not be located.
	Joint *model.CompatibilityResult
	// Source tells where the inviter's answers were found.
	Source string
}

// Complete pairs the partner's finished result with the inviter's. If the
// inviter's answers cannot be found the invitation is marked unmatched and
// ErrRendezvousIncomplete is returned alongside a usable outcome; the
// partner's own result is unaffected.
//
// Running Complete again for the same pair overwrites the joint result. An
// invitation already holding another partner's result is consumed, even if
// that partner was left unmatched.
func (s *Service) Complete(ctx context.Context, id string, partner model.ResultRecord, qs []model.Question) (Outcome, error) {
	inv, err := s.Invitation(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if inv.Completion.PartnerResultID != "" && inv.Completion.PartnerResultID != partner.ID {
		return Outcome{Invitation: *inv}, model.ErrInvitationConsumed
	}

	first, source := s.locateInviter(ctx, *inv, partner.ID)
	if first == nil {
		slog.Warn("inviter answers not found, delivering individual result only",
			"invitation", inv.ID, "inviter_result", inv.Origin.ResultID)
		inv.Completion = s.complete(ctx, *inv, model.InvitationUnmatched, partner.ID)
		return Outcome{Invitation: *inv}, model.ErrRendezvousIncomplete
	}

	c := scoring.Pair(qs, first.Answers, partner.Answers)
	c.PairID = inv.ID
	c.FirstResultID = first.ID
	c.SecondResultID = partner.ID
	c.ComputedAt = s.now()

	emails := []string{inv.Origin.InviterEmail, inv.Origin.PartnerEmail}
	for _, email := range emails {
		if err := s.cacheCompatibility(email, c); err != nil {
			slog.Warn("local joint result save failed", "pair", c.PairID, "email", email, "error", err)
		}
	}
	for _, email := range emails {
		if err := s.remote.UpsertCompatibility(ctx, email, c); err != nil {
			slog.Warn("remote joint result save failed", "pair", c.PairID, "owner", email, "error", err)
		}
	}
	inv.Completion = s.complete(ctx, *inv, model.InvitationCompleted, partner.ID)

	s.sendJointResult(ctx, c, inv.Origin.InviterEmail, partnerName(*inv, partner), first.TestID, first.Locale, first.ID)
	s.sendJointResult(ctx, c, inv.Origin.PartnerEmail, displayName(*first, inv.Origin.InviterEmail), first.TestID, inv.Origin.Locale, partner.ID)

	return Outcome{Invitation: *inv, Joint: &c, Source: source}, nil
}

// Lookup returns the joint result that includes resultID, recomputed from
// both underlying results when they are still available and taken from the
// cached snapshot otherwise.
func (s *Service) Lookup(ctx context.Context, resultID string) (*model.CompatibilityResult, error) {
	snap, err := s.remote.CompatibilityForResult(ctx, resultID)
	if err != nil {
		slog.Warn("remote joint result lookup failed, trying local", "result", resultID, "error", err)
	}
	if snap == nil {
		snap = s.findLocalCompatibility(func(c model.CompatibilityResult) bool {
			return c.FirstResultID == resultID || c.SecondResultID == resultID
		})
	}
	if snap == nil {
		return nil, fmt.Errorf("joint result for %s: %w", resultID, model.ErrNotFound)
	}
	if fresh := s.recompute(ctx, *snap); fresh != nil {
		return fresh, nil
	}
	return snap, nil
}

// LookupForEmail returns the joint result of a pair as stored for one
// party. It works for either party independently.
func (s *Service) LookupForEmail(ctx context.Context, email, pairID string) (*model.CompatibilityResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	c, err := s.remote.GetCompatibility(ctx, email, pairID)
	if err != nil {
		slog.Warn("remote joint result lookup failed, trying local", "pair", pairID, "error", err)
	}
	if c == nil {
		c = s.readLocalCompatibility(model.CompatibilityKey(email, pairID))
	}
	if c == nil {
		return nil, fmt.Errorf("joint result %s for %s: %w", pairID, email, model.ErrNotFound)
	}
	return c, nil
}

// locateInviter finds the inviter's result: by the reference in the
// invitation (remote, then the local copy of that id), then by the
// inviter's newest remote result for the test, then by scanning this
// device's local results. The scan is best effort.
func (s *Service) locateInviter(ctx context.Context, inv model.InvitationRecord, partnerResultID string) (*model.ResultRecord, string) {
	if inv.Origin.ResultID != "" {
		r, err := s.results.Get(ctx, inv.Origin.ResultID)
		if err != nil {
			slog.Warn("inviter result lookup failed", "result", inv.Origin.ResultID, "error", err)
		}
		if r != nil {
			return r, "reference"
		}
	}
	r, err := s.remote.LatestResultForOwner(ctx, inv.Origin.TestID, inv.Origin.InviterEmail)
	if err != nil {
		slog.Warn("inviter result lookup by owner failed", "owner", inv.Origin.InviterEmail, "error", err)
	}
	if r != nil && r.ID != partnerResultID {
		return r, "owner"
	}
	r, err = s.results.FindLocal(func(r model.ResultRecord) bool {
		return r.ID != partnerResultID &&
			r.TestID == inv.Origin.TestID &&
			strings.EqualFold(r.OwnerID, inv.Origin.InviterEmail)
	})
	if err != nil {
		slog.Warn("local result scan failed", "invitation", inv.ID, "error", err)
	}
	if r != nil {
		return r, "local"
	}
	return nil, ""
}

// openInvitation returns a pending invitation from resultID to partner that
// no partner has used yet. Remote records are checked first, then the local
// cache.
func (s *Service) openInvitation(ctx context.Context, resultID, partner string) *model.InvitationRecord {
	if resultID == "" {
		return nil
	}
	open := func(inv model.InvitationRecord) bool {
		return inv.Origin.ResultID == resultID &&
			strings.EqualFold(inv.Origin.PartnerEmail, partner) &&
			inv.Completion.Status == model.InvitationPending &&
			!consumed(inv)
	}
	list, err := s.remote.InvitationsForResult(ctx, resultID)
	if err != nil {
		slog.Warn("remote invitation list failed, trying local", "result", resultID, "error", err)
	}
	for _, inv := range list {
		if open(inv) {
			return &inv
		}
	}
	keys, err := s.local.Keys(model.InvitationKey(""))
	if err != nil {
		return nil
	}
	for _, k := range keys {
		data, ok, err := s.local.Get(k)
		if err != nil || !ok {
			continue
		}
		var inv model.InvitationRecord
		if err := json.Unmarshal(data, &inv); err != nil {
			continue
		}
		if open(inv) {
			return &inv
		}
	}
	return nil
}

func (s *Service) recompute(ctx context.Context, snap model.CompatibilityResult) *model.CompatibilityResult {
	first, err := s.results.Get(ctx, snap.FirstResultID)
	if err != nil || first == nil {
		return nil
	}
	second, err := s.results.Get(ctx, snap.SecondResultID)
	if err != nil || second == nil {
		return nil
	}
	def, err := s.tests.Definition(first.TestID, first.Locale)
	if err != nil {
		return nil
	}
	c := scoring.Pair(questions.ForCategories(def.Questions, first.Categories), first.Answers, second.Answers)
	c.PairID = snap.PairID
	c.FirstResultID = snap.FirstResultID
	c.SecondResultID = snap.SecondResultID
	c.ComputedAt = snap.ComputedAt
	return &c
}

// complete records the partner-owned completion status. Only the status
// part of the invitation is written.
func (s *Service) complete(ctx context.Context, inv model.InvitationRecord, status model.InvitationStatus, partnerResultID string) model.InvitationCompletion {
	c := model.InvitationCompletion{Status: status, PartnerResultID: partnerResultID, UpdatedAt: s.now()}
	inv.Completion = c
	if err := s.cacheInvitation(inv); err != nil {
		slog.Warn("local invitation update failed", "invitation", inv.ID, "error", err)
	}
	if err := s.remote.UpdateInvitationCompletion(ctx, inv.ID, c); err != nil {
		slog.Warn("remote invitation update failed", "invitation", inv.ID, "error", err)
	}
	return c
}

func (s *Service) sendInvitation(ctx context.Context, inv model.InvitationRecord, title, inviterName string) bool {
	if s.notifier == nil {
		return false
	}
	err := s.notifier.SendInvitation(ctx, notify.Invitation{
		ID:          inv.ID,
		TestID:      inv.Origin.TestID,
		TestTitle:   title,
		To:          inv.Origin.PartnerEmail,
		PartnerName: inv.Origin.PartnerName,
		InviterName: inviterName,
		Locale:      inv.Origin.Locale,
	})
	return s.logSend(err, "invitation", inv.ID)
}

func (s *Service) sendJointResult(ctx context.Context, c model.CompatibilityResult, to, partner, testID, locale, resultID string) {
	if s.notifier == nil || to == "" {
		return
	}
	title := testID
	if def, err := s.tests.Definition(testID, locale); err == nil {
		title = def.Title
	}
	err := s.notifier.SendJointResult(ctx, notify.JointResult{
		PairID:      c.PairID,
		ResultID:    resultID,
		TestTitle:   title,
		To:          to,
		PartnerName: partner,
		Score:       c.Score,
		Locale:      locale,
	})
	s.logSend(err, "joint_result", c.PairID)
}

func (s *Service) logSend(err error, kind, id string) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, model.ErrNotificationSuppressed):
		slog.Info("notification within cooldown, not sent", "kind", kind, "id", id)
	default:
		slog.Warn("notification failed", "kind", kind, "id", id, "error", err)
	}
	return false
}

func (s *Service) cacheInvitation(inv model.InvitationRecord) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return s.local.Set(model.InvitationKey(inv.ID), data)
}

func (s *Service) cacheCompatibility(email string, c model.CompatibilityResult) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.local.Set(model.CompatibilityKey(email, c.PairID), data)
}

func (s *Service) readLocalCompatibility(key string) *model.CompatibilityResult {
	data, ok, err := s.local.Get(key)
	if err != nil || !ok {
		return nil
	}
	var c model.CompatibilityResult
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("corrupt local joint result", "key", key, "error", err)
		return nil
	}
	return &c
}

func (s *Service) findLocalCompatibility(match func(model.CompatibilityResult) bool) *model.CompatibilityResult {
	keys, err := s.local.Keys("compat:")
	if err != nil {
		return nil
	}
	for _, k := range keys {
		if c := s.readLocalCompatibility(k); c != nil && match(*c) {
			return c
		}
	}
	return nil
}

// consumed reports whether an invitation has been used up by a partner.
func consumed(inv model.InvitationRecord) bool {
	return inv.Completion.Status == model.InvitationCompleted || inv.Completion.PartnerResultID != ""
}

func parseEmail(s string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%q: %w", s, model.ErrInvalidEmail)
	}
	return strings.ToLower(addr.Address), nil
}

func partnerName(inv model.InvitationRecord, partner model.ResultRecord) string {
	if partner.DisplayName != "" {
		return partner.DisplayName
	}
	if inv.Origin.PartnerName != "" {
		return inv.Origin.PartnerName
	}
	return inv.Origin.PartnerEmail
}

func displayName(r model.ResultRecord, fallback string) string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return fallback
}
