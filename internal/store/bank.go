package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// DefaultBankLocale is used when a kind has no translation in the requested locale.
const DefaultBankLocale = "en"

// ImportBankQuestions upserts bank questions and all their translations.
func (s *Store) ImportBankQuestions(ctx context.Context, questions []model.BankQuestionImport) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, q := range questions {
		if q.ID == "" || q.Kind == "" {
			return 0, fmt.Errorf("bank question needs id and kind: %+v", q)
		}
		if _, ok := q.Translations[DefaultBankLocale]; !ok {
			return 0, fmt.Errorf("bank question %s: missing %q translation", q.ID, DefaultBankLocale)
		}
		qType := q.Type
		if qType == "" {
			qType = model.QuestionMultipleChoice
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bank_questions (id, kind, type, correct, display_seconds) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, type = excluded.type,
			   correct = excluded.correct, display_seconds = excluded.display_seconds`,
			q.ID, q.Kind, qType, q.Correct, q.DisplaySeconds,
		)
		if err != nil {
			return 0, fmt.Errorf("insert bank question %s: %w", q.ID, err)
		}
		for locale, tr := range q.Translations {
			options, err := marshalString(nonNilOptions(tr.Options))
			if err != nil {
				return 0, err
			}
			memorize, err := marshalString(nonNilStrings(tr.Memorize))
			if err != nil {
				return 0, err
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO bank_translations (question_id, locale, text, options, memorize, explanation)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(question_id, locale) DO UPDATE SET text = excluded.text,
				   options = excluded.options, memorize = excluded.memorize, explanation = excluded.explanation`,
				q.ID, locale, tr.Text, options, memorize, tr.Explanation,
			)
			if err != nil {
				return 0, fmt.Errorf("insert translation %s/%s: %w", q.ID, locale, err)
			}
		}
	}
	return len(questions), tx.Commit()
}

// BankQuestionCount returns the number of bank questions of a kind.
func (s *Store) BankQuestionCount(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank_questions WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

// FetchQuestions draws a random sample of count questions of a kind in the
// given locale, falling back to English text, and derives the answer key
// from the same rows. The returned key has no draw id; the caller stamps it.
func (s *Store) FetchQuestions(ctx context.Context, kind, locale string, count int) ([]model.Question, *model.CorrectAnswerKey, error) {
	if count <= 0 {
		return nil, nil, fmt.Errorf("fetch questions: count must be positive, got %d", count)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.type, q.correct, q.display_seconds,
		        COALESCE(t.text, e.text), COALESCE(t.options, e.options),
		        COALESCE(t.memorize, e.memorize), COALESCE(t.explanation, e.explanation)
		 FROM bank_questions q
		 JOIN bank_translations e ON e.question_id = q.id AND e.locale = ?
		 LEFT JOIN bank_translations t ON t.question_id = q.id AND t.locale = ?
		 WHERE q.kind = ?
		 ORDER BY RANDOM() LIMIT ?`,
		DefaultBankLocale, locale, kind, count,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	key := &model.CorrectAnswerKey{Entries: make(map[string]model.KeyEntry)}
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var correct, options, memorize, explanation string
		if err := rows.Scan(&q.ID, &q.Type, &correct, &q.DisplaySeconds,
			&q.Text, &options, &memorize, &explanation); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(memorize), &q.Memorize); err != nil {
			return nil, nil, fmt.Errorf("decode memorize list of %s: %w", q.ID, err)
		}
		if len(q.Options) == 0 {
			q.Options = nil
		}
		if len(q.Memorize) == 0 {
			q.Memorize = nil
		}
		questions = append(questions, q)
		if correct != "" {
			key.Entries[q.ID] = model.KeyEntry{
				Answer:      model.TextAnswer(correct),
				OptionText:  q.OptionLabel(correct),
				Explanation: explanation,
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(questions) == 0 {
		return nil, nil, fmt.Errorf("no bank questions of kind %q: %w", kind, model.ErrNotFound)
	}
	return questions, key, nil
}

func nonNilOptions(o []model.Option) []model.Option {
	if o == nil {
		return []model.Option{}
	}
	return o
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
