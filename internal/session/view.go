package session

import (
	"slices"

	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/results"
	"github.com/pavelanni/assessor/internal/timer"
)

// View is a read-only snapshot of a session for clients.
type View struct {
	ID       string             `json:"id"`
	TestID   string             `json:"test_id"`
	Title    string             `json:"title"`
	State    model.SessionState `json:"state"`
	Index    int                `json:"index"`
	Total    int                `json:"total"`
	Answered int                `json:"answered"`
	// Question is the current question. Memorization content is only
	// included while it is being shown.
	Question         *model.Question            `json:"question,omitempty"`
	RemainingSeconds float64                    `json:"remaining_seconds,omitempty"`
	CanGoBack        bool                       `json:"can_go_back"`
	Categories       []string                   `json:"categories,omitempty"`
	Selected         []string                   `json:"selected,omitempty"`
	SavedIndex       *int                       `json:"saved_index,omitempty"`
	Result           *model.ResultRecord        `json:"result,omitempty"`
	Saved            *results.Outcome           `json:"saved,omitempty"`
	Joint            *model.CompatibilityResult `json:"joint,omitempty"`
	Invitations      []model.InvitationRecord   `json:"invitations,omitempty"`
	Warnings         []string                   `json:"warnings,omitempty"`
}

// View returns a snapshot of the session.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		ID:          c.id,
		TestID:      c.def.ID,
		Title:       c.def.Title,
		State:       c.state,
		Index:       c.index,
		Total:       len(c.questions),
		Answered:    len(c.answers),
		CanGoBack:   c.state == model.StateInProgress && c.index > 0,
		Selected:    c.categories,
		Result:      c.result,
		Saved:       c.outcome,
		Joint:       c.joint,
		Invitations: slices.Clone(c.sent),
		Warnings:    slices.Clone(c.warnings),
	}
	switch c.state {
	case model.StateCategorySelect:
		v.Categories = c.def.Categories
	case model.StateResumePrompt:
		idx := c.saved.Index
		v.SavedIndex = &idx
	case model.StateInProgress, model.StateMemorization:
		q := c.current()
		if c.state != model.StateMemorization {
			q.Memorize = nil
		}
		v.Question = &q
		if phase, left := c.timers.Remaining(); phase != timer.PhaseNone {
			v.RemainingSeconds = left.Seconds()
		}
	}
	return v
}

// Answers returns a copy of the answers recorded so far.
func (c *Controller) Answers() model.AnswerMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers.Clone()
}

// ResponseTimes returns a copy of the recorded response times.
func (c *Controller) ResponseTimes() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.times))
	for k, v := range c.times {
		out[k] = v
	}
	return out
}
