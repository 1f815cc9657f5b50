package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AnswerKind is the JSON shape of an answer value.
type AnswerKind int

const (
	AnswerNull AnswerKind = iota
	AnswerText
	AnswerNumber
)

// Answer is a submitted value: a string, a number, or null when the
// answer window expired.
type Answer struct {
	Kind   AnswerKind
	Text   string
	Number float64
}

// TextAnswer returns a string answer.
func TextAnswer(s string) Answer { return Answer{Kind: AnswerText, Text: s} }

// NumberAnswer returns a numeric answer.
func NumberAnswer(n float64) Answer { return Answer{Kind: AnswerNumber, Number: n} }

// NullAnswer returns the answer synthesized on timeout.
func NullAnswer() Answer { return Answer{} }

// IsNull reports whether the answer is a timeout.
func (a Answer) IsNull() bool { return a.Kind == AnswerNull }

// String returns the canonical text form used for comparisons.
func (a Answer) String() string {
	switch a.Kind {
	case AnswerText:
		return a.Text
	case AnswerNumber:
		return strconv.FormatFloat(a.Number, 'f', -1, 64)
	default:
		return ""
	}
}

// Float returns the numeric value of the answer, parsing text if needed.
func (a Answer) Float() (float64, bool) {
	switch a.Kind {
	case AnswerNumber:
		return a.Number, true
	case AnswerText:
		f, err := strconv.ParseFloat(strings.TrimSpace(a.Text), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Matches compares two answers ignoring surrounding space and letter case.
// Null never matches anything.
func (a Answer) Matches(b Answer) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	if af, ok := a.Float(); ok {
		if bf, ok := b.Float(); ok {
			return af == bf
		}
	}
	return strings.EqualFold(strings.TrimSpace(a.String()), strings.TrimSpace(b.String()))
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AnswerText:
		return json.Marshal(a.Text)
	case AnswerNumber:
		return json.Marshal(a.Number)
	default:
		return []byte("null"), nil
	}
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = NullAnswer()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("answer must be a string, number or null: %w", err)
		}
		*a = NumberAnswer(n)
	}
	return nil
}

// AnswerMap maps question id to the submitted answer.
type AnswerMap map[string]Answer

// Clone returns a copy safe to hand out of a session.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
