package scoring

import (
	"github.com/pavelanni/assessor/internal/model"
)

// Traits aggregates answers into the dimensions of each axis, normalizes
// every axis to percentages that sum to 100, and concatenates the winning
// trait of each axis into the type label. Ties go to the left trait.
//
// A chosen option adds one point to its trait. A scale answer adds its
// position within the scale to the question's trait and the remainder to
// the opposite trait of the same axis.
func Traits(axes []model.TraitAxis, questions []model.Question, answers model.AnswerMap) model.ResultPayload {
	points := make(map[string]float64)
	for _, q := range questions {
		a, ok := answers[q.ID]
		if !ok || a.IsNull() {
			continue
		}
		switch q.Type {
		case model.QuestionScale:
			if q.Scale == nil || q.Trait == "" || q.Scale.Max <= q.Scale.Min {
				continue
			}
			v, ok := a.Float()
			if !ok {
				continue
			}
			if q.Reverse {
				v = ReverseScore(v, float64(q.Scale.Min), float64(q.Scale.Max))
			}
			frac := (v - float64(q.Scale.Min)) / float64(q.Scale.Max-q.Scale.Min)
			frac = clamp(frac, 0, 1)
			points[q.Trait] += frac
			if opp := opposite(axes, q.Trait); opp != "" {
				points[opp] += 1 - frac
			}
		default:
			for _, o := range q.Options {
				if o.Trait != "" && o.Value == a.String() {
					points[o.Trait]++
				}
			}
		}
	}

	percentages := make(map[string]float64, 2*len(axes))
	var label string
	var dominant []string
	for _, ax := range axes {
		left, right := points[ax.Left], points[ax.Right]
		leftPct := 50.0
		if left+right > 0 {
			leftPct = percent(left, left+right)
		}
		percentages[ax.Left] = leftPct
		percentages[ax.Right] = 100 - leftPct
		if leftPct >= 50 {
			label += ax.Left
			dominant = append(dominant, ax.Left)
		} else {
			label += ax.Right
			dominant = append(dominant, ax.Right)
		}
	}

	return model.ResultPayload{
		Type:   label,
		Traits: dominant,
		Scores: &model.Scores{
			Percentages: percentages,
			Answered:    countAnswered(questions, answers),
			Total:       len(questions),
		},
		DescriptionKey: "type." + label,
	}
}

// ReverseScore mirrors a value within [lo, hi]. Out-of-range values are
// clamped first.
func ReverseScore(v, lo, hi float64) float64 {
	if hi <= lo {
		return v
	}
	return lo + hi - clamp(v, lo, hi)
}

func opposite(axes []model.TraitAxis, trait string) string {
	for _, ax := range axes {
		switch trait {
		case ax.Left:
			return ax.Right
		case ax.Right:
			return ax.Left
		}
	}
	return ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
