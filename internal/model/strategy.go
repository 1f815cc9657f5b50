package model

import "fmt"

// ScoringStrategy selects how a completed session is scored. It is chosen
// once when the test is loaded and travels with the TestDefinition.
type ScoringStrategy int

const (
	// StrategyTrait aggregates answers into percentage dimensions.
	StrategyTrait ScoringStrategy = iota + 1
	// StrategyAnswerKey compares answers with a correct-answer key.
	StrategyAnswerKey
	// StrategyTimed is StrategyAnswerKey plus response times.
	StrategyTimed
	// StrategyPaired compares two participants' answers.
	StrategyPaired
)

var strategyNames = map[ScoringStrategy]string{
	StrategyTrait:     "trait",
	StrategyAnswerKey: "answer_key",
	StrategyTimed:     "timed",
	StrategyPaired:    "paired",
}

func (s ScoringStrategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy parses a strategy name.
func ParseStrategy(name string) (ScoringStrategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scoring strategy %q", name)
}

func (s ScoringStrategy) MarshalText() ([]byte, error) {
	if _, ok := strategyNames[s]; !ok {
		return nil, fmt.Errorf("invalid scoring strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ScoringStrategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
