package scoring

import (
	"github.com/pavelanni/assessor/internal/model"
)

// Result bands of graded tests, by percentage of correct answers.
const (
	bandExcellent = 90
	bandGood      = 70
	bandFair      = 50
)

// AnswerKey grades answers against key. A null (timed-out) or missing
// answer is always incorrect. A nil key still yields a valid payload with
// KeyAvailable false and no correctness data.
func AnswerKey(questions []model.Question, answers model.AnswerMap, key *model.CorrectAnswerKey) model.ResultPayload {
	s := &model.Scores{KeyAvailable: key != nil, Total: len(questions)}
	for _, q := range questions {
		a := answers[q.ID]
		if !a.IsNull() {
			s.Answered++
		}
		rv := model.QuestionReview{
			QuestionID: q.ID,
			Text:       q.Text,
			Options:    q.Options,
			Submitted:  a,
		}
		if key != nil {
			if entry, ok := key.Entries[q.ID]; ok {
				correct := entry.Answer
				rv.CorrectAnswer = &correct
				rv.OptionText = entry.OptionText
				if rv.OptionText == "" {
					rv.OptionText = q.OptionLabel(correct.String())
				}
				rv.Explanation = entry.Explanation
				rv.IsCorrect = a.Matches(correct)
			}
		}
		if rv.IsCorrect {
			s.Correct++
		}
		s.Review = append(s.Review, rv)
	}

	band := "ungraded"
	if key != nil {
		s.Percentage = percent(float64(s.Correct), float64(s.Total))
		band = gradeBand(s.Percentage)
	}
	return model.ResultPayload{
		Type:           band,
		Scores:         s,
		DescriptionKey: "result." + band,
	}
}

// Timed is AnswerKey plus per-question response times, reported with two
// decimals, and their average over the questions that have one.
func Timed(questions []model.Question, answers model.AnswerMap, key *model.CorrectAnswerKey, times map[string]float64) model.ResultPayload {
	p := AnswerKey(questions, answers, key)
	var sum float64
	var n int
	for i := range p.Scores.Review {
		rv := &p.Scores.Review[i]
		sec, ok := times[rv.QuestionID]
		if !ok {
			continue
		}
		sec = round2(sec)
		rv.ResponseSeconds = &sec
		sum += sec
		n++
	}
	if n > 0 {
		avg := round2(sum / float64(n))
		p.Scores.AverageResponseSeconds = &avg
	}
	return p
}

func gradeBand(pct float64) string {
	switch {
	case pct >= bandExcellent:
		return "excellent"
	case pct >= bandGood:
		return "good"
	case pct >= bandFair:
		return "fair"
	default:
		return "needs_practice"
	}
}
