package model

import "time"

// ResultsExport is the top-level JSON structure of `assessor export`.
type ResultsExport struct {
	ExportedAt    time.Time             `json:"exported_at"`
	TestID        string                `json:"test_id,omitempty"`
	NumResults    int                   `json:"num_results"`
	Results       []ResultRecord        `json:"results"`
	Invitations   []InvitationRecord    `json:"invitations,omitempty"`
	Compatibility []CompatibilityResult `json:"compatibility,omitempty"`
}

// BankQuestionImport is one question of a question bank JSON file.
type BankQuestionImport struct {
	ID             string                     `json:"id"`
	Kind           string                     `json:"kind"`
	Type           QuestionType               `json:"type"`
	Correct        string                     `json:"correct"`
	DisplaySeconds int                        `json:"display_seconds,omitempty"`
	Translations   map[string]BankTranslation `json:"translations"`
}

// BankTranslation is the locale-specific text of a bank question.
type BankTranslation struct {
	Text        string   `json:"text"`
	Options     []Option `json:"options,omitempty"`
	Memorize    []string `json:"memorize,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}
