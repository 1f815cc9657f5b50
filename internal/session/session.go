// Package session sequences one participant through a test: setup steps,
// questions with their timers, resumable progress, scoring and, for
// two-party tests, the hand-off to the rendezvous.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/progress"
	"github.com/pavelanni/assessor/internal/questions"
	"github.com/pavelanni/assessor/internal/rendezvous"
	"github.com/pavelanni/assessor/internal/results"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/timer"
)

// Loader supplies a test definition and one draw of its questions.
type Loader interface {
	Load(ctx context.Context, testID, locale string, count int) (model.TestDefinition, model.Draw, error)
}

// Rendezvous is the part of the invitation protocol a session drives.
type Rendezvous interface {
	Invite(ctx context.Context, req rendezvous.InviteRequest) (*model.InvitationRecord, bool, error)
	Verify(ctx context.Context, id, email string) (*model.InvitationRecord, error)
	Complete(ctx context.Context, id string, partner model.ResultRecord, qs []model.Question) (rendezvous.Outcome, error)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Questions  Loader
	Progress   *progress.Store
	Results    *results.Store
	Rendezvous Rendezvous
	Clock      timer.Clock
	// AnswerWindow overrides the answer window of timed tests when positive.
	AnswerWindow time.Duration
	NewID        func() string
	// OnTransition, if set, is called on every state change with the
	// session lock held.
	OnTransition func(id string, from, to model.SessionState)
}

// Options select the test and the participant of one session.
type Options struct {
	TestID       string
	OwnerID      string
	Locale       string
	InvitationID string
	// Count is the number of questions drawn for bank-backed tests.
	Count int
}

// Warning keys attached to a session view. They are i18n message ids.
const (
	WarnBankUnavailable = "error.bank_unavailable"
	WarnRemoteSave      = "warning.remote_save"
	WarnRendezvous      = "error.rendezvous"
	WarnConsumed        = "error.consumed"
)

// Controller is one test-taking session. All methods are safe for
// concurrent use; timer callbacks take the same lock.
type Controller struct {
	id   string
	deps Deps
	opts Options

	mu         sync.Mutex
	state      model.SessionState
	def        model.TestDefinition
	draw       model.Draw
	questions  []model.Question
	index      int
	answers    model.AnswerMap
	times      map[string]float64
	shownAt    time.Time
	name       string
	categories []string
	invitation *model.InvitationRecord
	sent       []model.InvitationRecord
	saved      *model.ProgressRecord
	timers     *timer.Controller
	result     *model.ResultRecord
	outcome    *results.Outcome
	joint      *model.CompatibilityResult
	warnings   []string

	categoriesDone bool
	verified       bool
}

// Start loads the test and moves the session to its first interactive
// state. The only error is an unknown test.
func Start(ctx context.Context, id string, deps Deps, opts Options) (*Controller, error) {
	if deps.Clock == nil {
		deps.Clock = timer.Real()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	c := &Controller{
		id:      id,
		deps:    deps,
		opts:    opts,
		state:   model.StateLoading,
		answers: model.AnswerMap{},
		times:   map[string]float64{},
		timers:  timer.NewController(deps.Clock),
	}
	def, draw, err := deps.Questions.Load(ctx, opts.TestID, opts.Locale, opts.Count)
	if err != nil {
		return nil, fmt.Errorf("load test %s: %w", opts.TestID, err)
	}
	c.def = def
	c.draw = draw
	c.questions = draw.Questions
	if draw.Degraded {
		c.warn(WarnBankUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setup()
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// State returns the current state.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setup advances through the pre-question states that still apply.
func (c *Controller) setup() {
	switch {
	case c.def.TwoParty() && c.opts.InvitationID != "" && !c.verified:
		c.transition(model.StateInviterVerify)
	case c.def.TwoParty() && c.opts.InvitationID == "" && len(c.def.Categories) > 0 && !c.categoriesDone:
		c.transition(model.StateCategorySelect)
	case c.def.RequiresName && c.name == "":
		c.transition(model.StateNameCapture)
	case c.saved == nil && c.loadSaved():
		c.transition(model.StateResumePrompt)
	default:
		c.begin(0)
	}
}

// loadSaved looks for resumable progress once. Progress taken over a
// different category selection is dropped.
func (c *Controller) loadSaved() bool {
	if c.deps.Progress == nil {
		return false
	}
	rec := c.deps.Progress.Load(c.def.ID, c.progressOwner())
	if rec == nil {
		return false
	}
	if !sameCategories(rec.Categories, c.categories) {
		slog.Info("saved progress is for other categories, discarding",
			"session", c.id, "saved", rec.Categories, "selected", c.categories)
		c.deps.Progress.Clear(c.def.ID, c.progressOwner())
		return false
	}
	c.saved = rec
	return true
}

// progressOwner keys saved progress. Anonymous invited partners are told
// apart by their invitation.
func (c *Controller) progressOwner() string {
	if c.opts.OwnerID == "" && c.opts.InvitationID != "" {
		return model.InvitationKey(c.opts.InvitationID)
	}
	return c.opts.OwnerID
}

func sameCategories(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// SelectCategories restricts a two-party test to the chosen categories.
func (c *Controller) SelectCategories(categories []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(model.StateCategorySelect); err != nil {
		return err
	}
	if len(categories) == 0 {
		return fmt.Errorf("no categories selected: %w", model.ErrInvalidInput)
	}
	for _, cat := range categories {
		if !slices.Contains(c.def.Categories, cat) {
			return fmt.Errorf("unknown category %q: %w", cat, model.ErrInvalidInput)
		}
	}
	c.restrict(categories)
	c.categoriesDone = true
	c.setup()
	return nil
}

// SetName records the participant's display name.
func (c *Controller) SetName(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(model.StateNameCapture); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty name: %w", model.ErrInvalidInput)
	}
	c.name = name
	c.setup()
	return nil
}

// Verify checks the invited participant's email. A mismatch leaves the
// session where it is so the participant can try again.
func (c *Controller) Verify(ctx context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(model.StateInviterVerify); err != nil {
		return err
	}
	inv, err := c.deps.Rendezvous.Verify(ctx, c.opts.InvitationID, email)
	if err != nil {
		return err
	}
	if inv.Origin.TestID != c.def.ID {
		return fmt.Errorf("invitation %s is for %s: %w", inv.ID, inv.Origin.TestID, model.ErrNotFound)
	}
	c.invitation = inv
	c.verified = true
	c.restrict(inv.Origin.Categories)
	if c.name == "" {
		c.name = inv.Origin.PartnerName
	}
	c.setup()
	return nil
}

// Resume either restores the saved progress or discards it.
func (c *Controller) Resume(restore bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(model.StateResumePrompt); err != nil {
		return err
	}
	saved := c.saved
	if !restore {
		c.deps.Progress.Clear(c.def.ID, c.progressOwner())
		c.begin(0)
		return nil
	}
	if saved.Draw != nil && len(saved.Draw.Questions) > 0 {
		c.draw = *saved.Draw
		c.questions = c.draw.Questions
	}
	for _, q := range c.questions {
		if a, ok := saved.Answers[q.ID]; ok {
			c.answers[q.ID] = a
		}
		if t, ok := saved.ResponseTimes[q.ID]; ok {
			c.times[q.ID] = t
		}
	}
	index := saved.Index
	if index >= len(c.questions) {
		index = len(c.questions) - 1
	}
	c.begin(index)
	return nil
}

// Answer records the answer to the current question. Answering while the
// memorization content is shown hides it first, as if it had expired.
func (c *Controller) Answer(ctx context.Context, value model.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return model.ErrSessionClosed
	}
	if !c.state.Answerable() {
		return fmt.Errorf("answer in state %s: %w", c.state, model.ErrInvalidTransition)
	}
	if c.state == model.StateMemorization {
		c.timers.Cancel()
		c.transition(model.StateInProgress)
	}
	c.record(ctx, value)
	return nil
}

// Previous moves back one question. It is not available during
// memorization or on the first question.
func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return model.ErrSessionClosed
	}
	if c.state != model.StateInProgress || c.index == 0 {
		return fmt.Errorf("previous in state %s at %d: %w", c.state, c.index, model.ErrInvalidTransition)
	}
	c.timers.Cancel()
	c.index--
	c.saveProgress()
	c.enter()
	return nil
}

// SaveAndExit snapshots the progress and closes the session.
func (c *Controller) SaveAndExit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return model.ErrSessionClosed
	}
	c.timers.Cancel()
	if c.state.Answerable() {
		c.saveProgress()
	}
	c.transition(model.StateExited)
	return nil
}

// InviteRequest is the inviter's part of an invitation.
type InviteRequest struct {
	InviterEmail string
	PartnerEmail string
	PartnerName  string
}

// Invite asks a partner to take the same two-party test. Only the first
// party of a completed session may invite.
func (c *Controller) Invite(ctx context.Context, req InviteRequest) (*model.InvitationRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.def.TwoParty() {
		return nil, false, model.ErrNotTwoParty
	}
	if c.state != model.StateCompleted && c.state != model.StateInvitationPending {
		return nil, false, fmt.Errorf("invite in state %s: %w", c.state, model.ErrInvalidTransition)
	}
	if c.invitation != nil {
		return nil, false, fmt.Errorf("invited participants cannot invite: %w", model.ErrInvalidTransition)
	}
	inv, notified, err := c.deps.Rendezvous.Invite(ctx, rendezvous.InviteRequest{
		Result:       *c.result,
		Test:         c.def,
		InviterEmail: req.InviterEmail,
		PartnerEmail: req.PartnerEmail,
		PartnerName:  req.PartnerName,
	})
	if err != nil {
		return nil, false, err
	}
	if !slices.ContainsFunc(c.sent, func(s model.InvitationRecord) bool { return s.ID == inv.ID }) {
		c.sent = append(c.sent, *inv)
	}
	c.transition(model.StateInvitationPending)
	return inv, notified, nil
}

// Close stops any outstanding timer without saving.
func (c *Controller) Close() {
	c.timers.Cancel()
}

func (c *Controller) expect(s model.SessionState) error {
	if c.state == s {
		return nil
	}
	if c.state.Terminal() {
		return model.ErrSessionClosed
	}
	return fmt.Errorf("expected state %s, in %s: %w", s, c.state, model.ErrInvalidTransition)
}

func (c *Controller) restrict(categories []string) {
	c.categories = categories
	if c.def.Origin == model.OriginBank {
		return
	}
	c.questions = questions.ForCategories(c.draw.Questions, categories)
}

func (c *Controller) begin(index int) {
	c.saved = nil
	c.index = index
	c.enter()
}

// enter shows the current question and starts its countdown.
func (c *Controller) enter() {
	if len(c.questions) == 0 {
		c.complete(context.Background())
		return
	}
	q := c.questions[c.index]
	c.shownAt = c.deps.Clock.Now()
	if _, answered := c.answers[q.ID]; !answered && q.IsRecall() {
		c.transition(model.StateMemorization)
		c.timers.StartMemorization(q.ID, time.Duration(q.DisplaySeconds)*time.Second, c.memorizationExpired)
		return
	}
	c.transition(model.StateInProgress)
	c.startAnswerTimer(q)
}

func (c *Controller) startAnswerTimer(q model.Question) {
	window := c.answerWindow()
	if window <= 0 {
		return
	}
	if _, answered := c.answers[q.ID]; answered {
		return
	}
	c.timers.StartAnswer(q.ID, window, c.answerExpired)
}

func (c *Controller) answerWindow() time.Duration {
	if c.def.AnswerSeconds <= 0 {
		return 0
	}
	if c.deps.AnswerWindow > 0 {
		return c.deps.AnswerWindow
	}
	return time.Duration(c.def.AnswerSeconds) * time.Second
}

func (c *Controller) memorizationExpired(tok timer.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.timers.Claim(tok) || c.state != model.StateMemorization || c.current().ID != tok.QuestionID {
		return
	}
	c.shownAt = c.deps.Clock.Now()
	c.transition(model.StateInProgress)
	c.startAnswerTimer(c.current())
}

// answerExpired submits a null answer, unless a real answer or any other
// transition got there first.
func (c *Controller) answerExpired(tok timer.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.timers.Claim(tok) || c.state != model.StateInProgress {
		return
	}
	q := c.current()
	if q.ID != tok.QuestionID {
		return
	}
	if _, answered := c.answers[q.ID]; answered {
		return
	}
	slog.Debug("answer window expired", "session", c.id, "question", q.ID)
	c.record(context.Background(), model.NullAnswer())
}

func (c *Controller) current() model.Question {
	return c.questions[c.index]
}

func (c *Controller) record(ctx context.Context, value model.Answer) {
	c.timers.Cancel()
	q := c.current()
	c.answers[q.ID] = value
	if c.def.Strategy == model.StrategyTimed {
		elapsed := c.deps.Clock.Now().Sub(c.shownAt).Seconds()
		c.times[q.ID] = math.Round(elapsed*100) / 100
	}
	if c.index+1 >= len(c.questions) {
		c.complete(ctx)
		return
	}
	c.index++
	c.saveProgress()
	c.enter()
}

func (c *Controller) saveProgress() {
	if c.deps.Progress == nil {
		return
	}
	rec := model.ProgressRecord{
		TestID:        c.def.ID,
		OwnerID:       c.progressOwner(),
		Index:         c.index,
		Answers:       c.answers.Clone(),
		ResponseTimes: c.times,
		Total:         len(c.questions),
		Categories:    c.categories,
	}
	if c.def.Origin == model.OriginBank {
		draw := c.draw
		rec.Draw = &draw
	}
	c.deps.Progress.Save(rec)
}

// complete scores the session. Progress is cleared before the result is
// saved so it never outlives the result.
func (c *Controller) complete(ctx context.Context) {
	c.timers.Cancel()
	if c.deps.Progress != nil {
		c.deps.Progress.Clear(c.def.ID, c.progressOwner())
	}

	payload := scoring.Score(c.def, scoring.Input{
		Questions:     c.questions,
		Answers:       c.answers,
		DrawID:        c.draw.ID,
		Key:           c.draw.Key,
		ResponseTimes: c.times,
	})
	rec := model.ResultRecord{
		ID:          c.deps.NewID(),
		TestID:      c.def.ID,
		OwnerID:     model.OwnerOrAnonymous(c.opts.OwnerID),
		DisplayName: c.name,
		Locale:      c.opts.Locale,
		Categories:  c.categories,
		Answers:     c.answers.Clone(),
		Payload:     payload,
		CompletedAt: c.deps.Clock.Now(),
	}
	if len(c.times) > 0 {
		rec.ResponseTimes = c.times
	}
	out := c.deps.Results.Save(ctx, rec)
	if out.Degraded() {
		c.warn(WarnRemoteSave)
	}
	c.result = &rec
	c.outcome = &out
	c.transition(model.StateCompleted)

	if c.invitation != nil {
		c.pair(ctx, rec)
	}
}

// pair hands an invited participant's result to the rendezvous. Failing to
// produce a joint result leaves the individual result in place.
func (c *Controller) pair(ctx context.Context, rec model.ResultRecord) {
	out, err := c.deps.Rendezvous.Complete(ctx, c.invitation.ID, rec, c.questions)
	switch {
	case err == nil:
		c.joint = out.Joint
		c.transition(model.StatePairedAndDelivered)
	case errors.Is(err, model.ErrRendezvousIncomplete):
		c.warn(WarnRendezvous)
	case errors.Is(err, model.ErrInvitationConsumed):
		c.warn(WarnConsumed)
	default:
		slog.Warn("rendezvous failed", "session", c.id, "invitation", c.invitation.ID, "error", err)
		c.warn(WarnRendezvous)
	}
}

func (c *Controller) transition(to model.SessionState) {
	from := c.state
	c.state = to
	slog.Debug("session transition", "session", c.id, "from", from, "to", to, "index", c.index)
	if c.deps.OnTransition != nil {
		c.deps.OnTransition(c.id, from, to)
	}
}

func (c *Controller) warn(key string) {
	if !slices.Contains(c.warnings, key) {
		c.warnings = append(c.warnings, key)
	}
}
