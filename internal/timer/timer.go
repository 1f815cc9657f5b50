// Package timer drives the memorization window and the per-question answer
// window of a session.
//
// Only one countdown is outstanding per Controller. Every start or cancel
// bumps a generation counter; an expiry callback carries the Token of its
// generation and must confirm it with Claim before acting, so a callback
// that lost a race with a transition is a no-op.
package timer

import (
	"sync"
	"time"
)

// Phase identifies which countdown a token belongs to.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseMemorization
	PhaseAnswer
)

func (p Phase) String() string {
	switch p {
	case PhaseMemorization:
		return "memorization"
	case PhaseAnswer:
		return "answer"
	default:
		return "none"
	}
}

// DefaultAnswerWindow is the answer window of timed test kinds.
const DefaultAnswerWindow = 10 * time.Second

// Token identifies one started countdown.
type Token struct {
	gen        uint64
	Phase      Phase
	QuestionID string
}

// Controller owns the single outstanding countdown of a session.
type Controller struct {
	clock Clock

	mu         sync.Mutex
	gen        uint64
	active     Stopper
	phase      Phase
	questionID string
	deadline   time.Time
}

// NewController returns a controller driven by clock.
func NewController(clock Clock) *Controller {
	return &Controller{clock: clock}
}

// StartMemorization starts the display window of a recall question.
func (c *Controller) StartMemorization(questionID string, d time.Duration, onExpire func(Token)) Token {
	return c.start(PhaseMemorization, questionID, d, onExpire)
}

// StartAnswer starts the answer window of the current question.
func (c *Controller) StartAnswer(questionID string, d time.Duration, onExpire func(Token)) Token {
	return c.start(PhaseAnswer, questionID, d, onExpire)
}

func (c *Controller) start(phase Phase, questionID string, d time.Duration, onExpire func(Token)) Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.gen++
	tok := Token{gen: c.gen, Phase: phase, QuestionID: questionID}
	c.phase = phase
	c.questionID = questionID
	c.deadline = c.clock.Now().Add(d)
	c.active = c.clock.AfterFunc(d, func() { onExpire(tok) })
	return tok
}

// Cancel stops the outstanding countdown. Callbacks already in flight
// will fail Claim.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Controller) cancelLocked() {
	if c.active != nil {
		c.active.Stop()
		c.active = nil
	}
	c.gen++
	c.phase = PhaseNone
	c.questionID = ""
	c.deadline = time.Time{}
}

// Claim reports whether tok is still the outstanding countdown and, if so,
// retires it so it cannot be claimed twice.
func (c *Controller) Claim(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok.gen != c.gen || c.phase != tok.Phase {
		return false
	}
	c.active = nil
	c.phase = PhaseNone
	c.questionID = ""
	c.deadline = time.Time{}
	return true
}

// Remaining returns the running phase and the time left in it.
func (c *Controller) Remaining() (Phase, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseNone {
		return PhaseNone, 0
	}
	left := c.deadline.Sub(c.clock.Now())
	if left < 0 {
		left = 0
	}
	return c.phase, left
}
