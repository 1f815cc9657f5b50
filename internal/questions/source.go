// Package questions supplies the question list of a test for one session.
package questions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/model"
)

// Bank draws a random sample of questions of a kind together with the
// answer key of that same sample.
type Bank interface {
	FetchQuestions(ctx context.Context, kind, locale string, count int) ([]model.Question, *model.CorrectAnswerKey, error)
}

// Source loads tests from the catalog and, for bank-backed tests, draws
// fresh questions per session.
type Source struct {
	catalog *Catalog
	bank    Bank
	newID   func() string
}

// NewSource creates a source. bank may be nil, in which case bank-backed
// tests always get the fallback set.
func NewSource(catalog *Catalog, bank Bank) *Source {
	return &Source{catalog: catalog, bank: bank, newID: uuid.NewString}
}

// Catalog returns the underlying catalog.
func (s *Source) Catalog() *Catalog {
	return s.catalog
}

// Load returns the test definition and one draw of its questions. The
// draw's key, if any, carries the draw's id. count only applies to bank
// tests; zero uses the test's default.
//
// A bank failure is not an error: the draw falls back to a minimal set,
// has no key and is marked Degraded. The only error is an unknown test.
func (s *Source) Load(ctx context.Context, testID, locale string, count int) (model.TestDefinition, model.Draw, error) {
	def, err := s.catalog.Definition(testID, locale)
	if err != nil {
		return model.TestDefinition{}, model.Draw{}, err
	}
	draw := model.Draw{ID: s.newID()}

	switch def.Origin {
	case model.OriginBank:
		if count <= 0 {
			count = def.BankCount
		}
		qs, key, err := s.fetch(ctx, def.BankKind, locale, count)
		if err != nil {
			slog.Warn("question bank unavailable, serving fallback set",
				"test", testID, "kind", def.BankKind, "locale", locale, "error", err)
			draw.Questions = Fallback(locale)
			draw.Degraded = true
			break
		}
		draw.Questions = qs
		if key != nil {
			draw.Key = &model.CorrectAnswerKey{DrawID: draw.ID, Entries: key.Entries}
		}
	default:
		draw.Questions = def.Questions
		if entries := s.catalog.key(testID, locale); entries != nil {
			draw.Key = &model.CorrectAnswerKey{DrawID: draw.ID, Entries: entries}
		}
	}

	def.Questions = draw.Questions
	return def, draw, nil
}

func (s *Source) fetch(ctx context.Context, kind, locale string, count int) ([]model.Question, *model.CorrectAnswerKey, error) {
	if s.bank == nil {
		return nil, nil, model.ErrQuestionBankUnavailable
	}
	qs, key, err := s.bank.FetchQuestions(ctx, kind, locale, count)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", model.ErrQuestionBankUnavailable, err)
	}
	if len(qs) == 0 {
		return nil, nil, fmt.Errorf("%w: empty draw", model.ErrQuestionBankUnavailable)
	}
	return qs, key, nil
}

// ForCategories keeps the questions that belong to one of categories, in
// their original order. An empty selection keeps every question.
func ForCategories(qs []model.Question, categories []string) []model.Question {
	if len(categories) == 0 {
		return qs
	}
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	var out []model.Question
	for _, q := range qs {
		if want[q.Category] {
			out = append(out, q)
		}
	}
	return out
}
