// Package scoring turns a completed answer map into a result payload.
// Every function here is pure: the same input always yields the same output.
package scoring

import (
	"math"

	"github.com/pavelanni/assessor/internal/model"
)

// Input is everything a strategy may need. Partner is only read by the
// paired strategy; Key and ResponseTimes only by the key-based ones.
type Input struct {
	Questions     []model.Question
	Answers       model.AnswerMap
	Partner       model.AnswerMap
	DrawID        string
	Key           *model.CorrectAnswerKey
	ResponseTimes map[string]float64
}

// key returns the answer key only if it was derived from this draw.
func (in Input) key() *model.CorrectAnswerKey {
	if in.Key == nil || in.Key.DrawID != in.DrawID {
		return nil
	}
	return in.Key
}

// Score dispatches on the strategy carried by the definition.
func Score(def model.TestDefinition, in Input) model.ResultPayload {
	switch def.Strategy {
	case model.StrategyTrait:
		return Traits(def.Traits, in.Questions, in.Answers)
	case model.StrategyAnswerKey:
		return AnswerKey(in.Questions, in.Answers, in.key())
	case model.StrategyTimed:
		return Timed(in.Questions, in.Answers, in.key(), in.ResponseTimes)
	case model.StrategyPaired:
		if in.Partner == nil {
			return Individual(in.Questions, in.Answers)
		}
		return PairedPayload(Pair(in.Questions, in.Partner, in.Answers), len(in.Questions))
	default:
		return Individual(in.Questions, in.Answers)
	}
}

// Individual summarizes a session that has no grading of its own, such as
// one side of a two-party test.
func Individual(questions []model.Question, answers model.AnswerMap) model.ResultPayload {
	return model.ResultPayload{
		Type:           "individual",
		Scores:         &model.Scores{Answered: countAnswered(questions, answers), Total: len(questions)},
		DescriptionKey: "result.individual",
	}
}

func countAnswered(questions []model.Question, answers model.AnswerMap) int {
	n := 0
	for _, q := range questions {
		if a, ok := answers[q.ID]; ok && !a.IsNull() {
			n++
		}
	}
	return n
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(part / whole * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
