package model

import (
	"context"
	"fmt"
	"time"
)

// QuestionType identifies how a question is presented and answered.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionScale          QuestionType = "scale"
	QuestionRecall         QuestionType = "memorize_then_recall"
)

// Option is a selectable choice of a multiple_choice question.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
	// Trait is the dimension a personality option loads on.
	Trait string `json:"trait,omitempty"`
}

// Scale bounds a scale question.
type Scale struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	MinLabel string `json:"min_label"`
	MaxLabel string `json:"max_label"`
}

// Question is a single item of a test.
type Question struct {
	ID       string       `json:"id"`
	Type     QuestionType `json:"type"`
	Text     string       `json:"text"`
	Category string       `json:"category,omitempty"`
	Options  []Option     `json:"options,omitempty"`
	Scale    *Scale       `json:"scale,omitempty"`

	// Memorize and DisplaySeconds are set for recall questions only.
	Memorize       []string `json:"memorize,omitempty"`
	DisplaySeconds int      `json:"display_seconds,omitempty"`

	// Trait and Reverse drive trait scoring of scale questions.
	Trait   string `json:"trait,omitempty"`
	Reverse bool   `json:"reverse,omitempty"`

	// Compatible lists unordered answer pairings accepted as compatible
	// by the paired strategy.
	Compatible [][2]string `json:"compatible,omitempty"`
}

// IsRecall reports whether the question has a memorization phase.
func (q Question) IsRecall() bool {
	return q.Type == QuestionRecall && len(q.Memorize) > 0
}

// OptionLabel returns the label for value, or value itself.
func (q Question) OptionLabel(value string) string {
	for _, o := range q.Options {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

// TraitAxis is a pair of opposing personality dimensions.
type TraitAxis struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// QuestionOrigin tells where a test's questions come from.
type QuestionOrigin string

const (
	OriginStatic QuestionOrigin = "static"
	OriginBank   QuestionOrigin = "bank"
)

// TestDefinition describes a test as loaded for one session.
type TestDefinition struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Strategy     ScoringStrategy `json:"strategy"`
	Origin       QuestionOrigin  `json:"origin"`
	BankKind     string          `json:"bank_kind,omitempty"`
	BankCount    int             `json:"bank_count,omitempty"`
	Questions    []Question      `json:"questions"`
	InviteOthers bool            `json:"invite_others"`
	RequiresName bool            `json:"requires_name"`
	Categories   []string        `json:"categories,omitempty"`
	Traits       []TraitAxis     `json:"traits,omitempty"`
	// AnswerSeconds enables the per-question answer timer when positive.
	AnswerSeconds int `json:"answer_seconds,omitempty"`
}

// TwoParty reports whether the test is taken by two people and paired.
func (d TestDefinition) TwoParty() bool {
	return d.Strategy == StrategyPaired
}

// KeyEntry is the ground truth for one question plus review metadata.
type KeyEntry struct {
	Answer      Answer `json:"answer"`
	OptionText  string `json:"option_text,omitempty"`
	Explanation string `json:"explanation,omitempty"`
}

// CorrectAnswerKey grades the answers of the draw it was produced with.
type CorrectAnswerKey struct {
	DrawID  string              `json:"draw_id"`
	Entries map[string]KeyEntry `json:"entries"`
}

// Draw is one question list handed to a session, with the key derived
// from the same draw. Degraded is set when the fallback set was used.
type Draw struct {
	ID        string            `json:"id"`
	Questions []Question        `json:"questions"`
	Key       *CorrectAnswerKey `json:"key,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
}

// KeyFor returns the draw's key if it belongs to this draw.
func (d Draw) KeyFor() *CorrectAnswerKey {
	if d.Key == nil || d.Key.DrawID != d.ID {
		return nil
	}
	return d.Key
}

// AnonymousOwner is the owner id used for unauthenticated participants.
const AnonymousOwner = "anonymous"

// OwnerOrAnonymous normalizes an empty owner id.
func OwnerOrAnonymous(owner string) string {
	if owner == "" {
		return AnonymousOwner
	}
	return owner
}

// ProgressRecord is the resumable snapshot of an in-flight session.
type ProgressRecord struct {
	TestID        string             `json:"test_id"`
	OwnerID       string             `json:"owner_id"`
	Index         int                `json:"index"`
	Answers       AnswerMap          `json:"answers"`
	ResponseTimes map[string]float64 `json:"response_times,omitempty"`
	Total         int                `json:"total"`
	UpdatedAt     time.Time          `json:"updated_at"`
	// Draw pins bank-backed sessions to the questions they were answering.
	Draw *Draw `json:"draw,omitempty"`
	// Categories is the selection the answers were given under.
	Categories []string `json:"categories,omitempty"`
}

// ResultRecord is a finished session. It is never mutated after creation.
type ResultRecord struct {
	ID            string             `json:"id"`
	TestID        string             `json:"test_id"`
	OwnerID       string             `json:"owner_id"`
	DisplayName   string             `json:"display_name,omitempty"`
	Locale        string             `json:"locale"`
	Categories    []string           `json:"categories,omitempty"`
	Answers       AnswerMap          `json:"answers"`
	Payload       ResultPayload      `json:"payload"`
	ResponseTimes map[string]float64 `json:"response_times,omitempty"`
	CompletedAt   time.Time          `json:"completed_at"`
}

// Anonymous reports whether the record belongs to an unauthenticated user.
func (r ResultRecord) Anonymous() bool {
	return r.OwnerID == "" || r.OwnerID == AnonymousOwner
}

// QuestionReview is one graded question kept for post-hoc review.
type QuestionReview struct {
	QuestionID      string   `json:"question_id"`
	Text            string   `json:"text"`
	Options         []Option `json:"options,omitempty"`
	Submitted       Answer   `json:"submitted"`
	CorrectAnswer   *Answer  `json:"correct_answer,omitempty"`
	OptionText      string   `json:"option_text,omitempty"`
	Explanation     string   `json:"explanation,omitempty"`
	IsCorrect       bool     `json:"is_correct"`
	ResponseSeconds *float64 `json:"response_seconds,omitempty"`
}

// Scores is the numeric part of a result payload.
type Scores struct {
	Percentages            map[string]float64 `json:"percentages,omitempty"`
	KeyAvailable           bool               `json:"key_available"`
	Correct                int                `json:"correct"`
	Total                  int                `json:"total"`
	Percentage             float64            `json:"percentage"`
	Answered               int                `json:"answered"`
	Review                 []QuestionReview   `json:"review,omitempty"`
	AverageResponseSeconds *float64           `json:"average_response_seconds,omitempty"`
}

// ResultPayload is the strategy-specific scored output of a session.
type ResultPayload struct {
	Type           string   `json:"type"`
	Traits         []string `json:"traits,omitempty"`
	Scores         *Scores  `json:"scores,omitempty"`
	DescriptionKey string   `json:"description_key,omitempty"`
}

// InvitationStatus is the second-party phase of an invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationCompleted InvitationStatus = "completed"
	// InvitationUnmatched marks a partner finish whose inviter answers
	// could not be located.
	InvitationUnmatched InvitationStatus = "unmatched"
)

// InvitationOrigin is written once by the inviter and never changed.
type InvitationOrigin struct {
	ResultID     string    `json:"result_id"`
	TestID       string    `json:"test_id"`
	InviterEmail string    `json:"inviter_email"`
	PartnerEmail string    `json:"partner_email"`
	PartnerName  string    `json:"partner_name"`
	Categories   []string  `json:"categories,omitempty"`
	Locale       string    `json:"locale"`
	CreatedAt    time.Time `json:"created_at"`
}

// InvitationCompletion is updated by the partner, last writer wins.
type InvitationCompletion struct {
	Status          InvitationStatus `json:"status"`
	PartnerResultID string           `json:"partner_result_id,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// InvitationRecord links an inviter's result to one partner session.
type InvitationRecord struct {
	ID         string               `json:"id"`
	Origin     InvitationOrigin     `json:"origin"`
	Completion InvitationCompletion `json:"completion"`
}

// MatchTier classifies a pair of answers to the same question.
type MatchTier string

const (
	TierExact      MatchTier = "exact"
	TierCompatible MatchTier = "compatible"
	TierDifferent  MatchTier = "different"
)

// Comparison is one shared question of a paired result.
type Comparison struct {
	QuestionID string    `json:"question_id"`
	Category   string    `json:"category,omitempty"`
	First      Answer    `json:"first"`
	Second     Answer    `json:"second"`
	Tier       MatchTier `json:"tier"`
}

// CompatibilityResult is the derived joint result of two sessions.
type CompatibilityResult struct {
	PairID           string             `json:"pair_id"`
	FirstResultID    string             `json:"first_result_id"`
	SecondResultID   string             `json:"second_result_id"`
	Score            float64            `json:"score"`
	Areas            map[string]float64 `json:"areas"`
	First            ResultPayload      `json:"first"`
	Second           ResultPayload      `json:"second"`
	Comparisons      []Comparison       `json:"comparisons"`
	RelationshipType string             `json:"relationship_type"`
	Recommendations  []string           `json:"recommendations,omitempty"`
	ComputedAt       time.Time          `json:"computed_at"`
}

// Storage keys of the device-scoped key/value boundary.

// ProgressKey is the key of a progress record.
func ProgressKey(testID, ownerID string) string {
	return fmt.Sprintf("progress:%s:%s", testID, OwnerOrAnonymous(ownerID))
}

// ResultKey is the key of a locally cached result record.
func ResultKey(resultID string) string {
	return "result:" + resultID
}

// InvitationKey is the key of a locally cached invitation record.
func InvitationKey(id string) string {
	return "invitation:" + id
}

// CompatibilityKey is the key of a locally cached joint result for one email.
func CompatibilityKey(email, pairID string) string {
	return fmt.Sprintf("compat:%s:%s", email, pairID)
}

type localeCtxKey struct{}

// ContextWithLocale stores the request locale in the context.
func ContextWithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeCtxKey{}, locale)
}

// LocaleFromContext retrieves the request locale (empty string if not set).
func LocaleFromContext(ctx context.Context) string {
	l, _ := ctx.Value(localeCtxKey{}).(string)
	return l
}
