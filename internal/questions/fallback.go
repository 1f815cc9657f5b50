package questions

import (
	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
)

// Fallback is the minimal question set served when a bank draw fails.
// It has no answer key.
func Fallback(locale string) []model.Question {
	t := func(id string) string { return i18n.Localize(locale, id, nil) }
	return []model.Question{
		{
			ID:   "fallback-1",
			Type: model.QuestionMultipleChoice,
			Text: t("fallback.q1.text"),
			Options: []model.Option{
				{Value: "a", Label: t("fallback.q1.a")},
				{Value: "b", Label: t("fallback.q1.b")},
				{Value: "c", Label: t("fallback.q1.c")},
			},
		},
		{
			ID:   "fallback-2",
			Type: model.QuestionMultipleChoice,
			Text: t("fallback.q2.text"),
			Options: []model.Option{
				{Value: "5", Label: "5"},
				{Value: "7", Label: "7"},
				{Value: "10", Label: "10"},
			},
		},
		{
			ID:   "fallback-3",
			Type: model.QuestionMultipleChoice,
			Text: t("fallback.q3.text"),
			Options: []model.Option{
				{Value: "a", Label: t("fallback.q3.a")},
				{Value: "b", Label: t("fallback.q3.b")},
				{Value: "c", Label: t("fallback.q3.c")},
			},
		},
	}
}
