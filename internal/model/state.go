package model

// SessionState is the observable state of a test-taking session.
type SessionState string

const (
	StateLoading            SessionState = "loading"
	StateCategorySelect     SessionState = "category_select"
	StateInviterVerify      SessionState = "inviter_verify"
	StateNameCapture        SessionState = "name_capture"
	StateResumePrompt       SessionState = "resume_prompt"
	StateInProgress         SessionState = "in_progress"
	StateMemorization       SessionState = "memorization"
	StateCompleted          SessionState = "completed"
	StateInvitationPending  SessionState = "invitation_pending"
	StatePairedAndDelivered SessionState = "paired_and_delivered"
	StateExited             SessionState = "exited"
)

// Answerable reports whether answers may be submitted in this state.
func (s SessionState) Answerable() bool {
	return s == StateInProgress || s == StateMemorization
}

// Terminal reports whether the session has finished taking questions.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateInvitationPending, StatePairedAndDelivered, StateExited:
		return true
	}
	return false
}
