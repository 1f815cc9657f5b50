package scoring

import (
	"sort"

	"github.com/pavelanni/assessor/internal/model"
)

// Points per match tier.
var tierPoints = map[model.MatchTier]float64{
	model.TierExact:      1,
	model.TierCompatible: 0.5,
	model.TierDifferent:  0,
}

const generalCategory = "general"

// Classify compares two answers to the same question.
func Classify(q model.Question, a, b model.Answer) model.MatchTier {
	if a.Matches(b) {
		return model.TierExact
	}
	as, bs := model.TextAnswer(a.String()), model.TextAnswer(b.String())
	for _, pair := range q.Compatible {
		x, y := model.TextAnswer(pair[0]), model.TextAnswer(pair[1])
		if (as.Matches(x) && bs.Matches(y)) || (as.Matches(y) && bs.Matches(x)) {
			return model.TierCompatible
		}
	}
	return model.TierDifferent
}

// Pair compares the answers of two participants of the same test. Questions
// missing or null on either side are left out of every aggregate.
func Pair(questions []model.Question, first, second model.AnswerMap) model.CompatibilityResult {
	byID := make(map[string]model.Question, len(questions))
	ids := make([]string, 0, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
		ids = append(ids, q.ID)
	}
	var extra []string
	for id := range first {
		if _, known := byID[id]; !known {
			if _, shared := second[id]; shared {
				extra = append(extra, id)
			}
		}
	}
	sort.Strings(extra)
	ids = append(ids, extra...)

	type tally struct{ points, n float64 }
	areas := make(map[string]*tally)
	var total tally
	var comparisons []model.Comparison
	for _, id := range ids {
		a, okA := first[id]
		b, okB := second[id]
		if !okA || !okB || a.IsNull() || b.IsNull() {
			continue
		}
		q := byID[id]
		tier := Classify(q, a, b)
		category := q.Category
		if category == "" {
			category = generalCategory
		}
		comparisons = append(comparisons, model.Comparison{
			QuestionID: id,
			Category:   category,
			First:      a,
			Second:     b,
			Tier:       tier,
		})
		t, ok := areas[category]
		if !ok {
			t = &tally{}
			areas[category] = t
		}
		t.points += tierPoints[tier]
		t.n++
		total.points += tierPoints[tier]
		total.n++
	}

	c := model.CompatibilityResult{
		Score:       percent(total.points, total.n),
		Areas:       make(map[string]float64, len(areas)),
		First:       Individual(questions, first),
		Second:      Individual(questions, second),
		Comparisons: comparisons,
	}
	var weak []string
	for category, t := range areas {
		pct := percent(t.points, t.n)
		c.Areas[category] = pct
		if pct < bandFair {
			weak = append(weak, category)
		}
	}
	sort.Strings(weak)
	for _, category := range weak {
		c.Recommendations = append(c.Recommendations, "recommendation."+category)
	}
	c.RelationshipType = relationshipType(c.Score, len(comparisons))
	return c
}

// PairedPayload renders a joint result as a result payload.
func PairedPayload(c model.CompatibilityResult, total int) model.ResultPayload {
	return model.ResultPayload{
		Type: c.RelationshipType,
		Scores: &model.Scores{
			Percentages: c.Areas,
			Percentage:  c.Score,
			Answered:    len(c.Comparisons),
			Total:       total,
		},
		DescriptionKey: "relationship." + c.RelationshipType,
	}
}

func relationshipType(score float64, compared int) string {
	switch {
	case compared == 0:
		return "unknown"
	case score >= 85:
		return "soulmates"
	case score >= 70:
		return "strong"
	case score >= 50:
		return "balanced"
	default:
		return "challenging"
	}
}
