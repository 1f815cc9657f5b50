package questions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/model"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type fakeBank struct {
	err   error
	calls int
}

func (b *fakeBank) FetchQuestions(_ context.Context, kind, locale string, count int) ([]model.Question, *model.CorrectAnswerKey, error) {
	b.calls++
	if b.err != nil {
		return nil, nil, b.err
	}
	key := &model.CorrectAnswerKey{Entries: map[string]model.KeyEntry{}}
	var qs []model.Question
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-%d-%d", kind, b.calls, i)
		qs = append(qs, model.Question{ID: id, Type: model.QuestionMultipleChoice, Text: locale + " " + id})
		key.Entries[id] = model.KeyEntry{Answer: model.TextAnswer("a")}
	}
	return qs, key, nil
}

func newTestSource(t *testing.T, bank Bank) *Source {
	t.Helper()
	c, err := DefaultCatalog()
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	s := NewSource(c, bank)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("draw-%d", n)
	}
	return s
}

func TestLoadStatic(t *testing.T) {
	s := newTestSource(t, nil)

	def, draw, err := s.Load(context.Background(), "knowledge-quiz", "en", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def.Strategy != model.StrategyAnswerKey {
		t.Errorf("strategy = %v", def.Strategy)
	}
	if len(draw.Questions) != 10 || len(def.Questions) != 10 {
		t.Fatalf("questions = %d/%d, want 10", len(draw.Questions), len(def.Questions))
	}
	if draw.Degraded {
		t.Error("static draw must not be degraded")
	}
	key := draw.KeyFor()
	if key == nil {
		t.Fatal("static quiz should carry a key for its draw")
	}
	if key.Entries["q1"].Answer.String() != "a" || key.Entries["q2"].Answer.String() != "b" {
		t.Errorf("unexpected key %+v", key.Entries)
	}
}

func TestLoadStampsEachDraw(t *testing.T) {
	s := newTestSource(t, nil)
	ctx := context.Background()

	_, d1, _ := s.Load(ctx, "knowledge-quiz", "en", 0)
	_, d2, _ := s.Load(ctx, "knowledge-quiz", "en", 0)
	if d1.ID == d2.ID {
		t.Fatal("draws must have distinct ids")
	}
	if d1.Key.DrawID != d1.ID || d2.Key.DrawID != d2.ID {
		t.Error("key must carry the id of its own draw")
	}
	// Mutating one draw's key must not leak into the next.
	d1.Key.Entries["q1"] = model.KeyEntry{Answer: model.TextAnswer("z")}
	_, d3, _ := s.Load(ctx, "knowledge-quiz", "en", 0)
	if d3.Key.Entries["q1"].Answer.String() != "a" {
		t.Error("catalog key was mutated through a draw")
	}
}

func TestLoadBank(t *testing.T) {
	bank := &fakeBank{}
	s := newTestSource(t, bank)
	ctx := context.Background()

	def, d1, err := s.Load(ctx, "general-knowledge", "ru", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(d1.Questions) != def.BankCount {
		t.Errorf("questions = %d, want %d", len(d1.Questions), def.BankCount)
	}
	if d1.KeyFor() == nil {
		t.Fatal("bank draw should carry its key")
	}
	for _, q := range d1.Questions {
		if _, ok := d1.Key.Entries[q.ID]; !ok {
			t.Errorf("key misses drawn question %s", q.ID)
		}
	}

	_, d2, _ := s.Load(ctx, "general-knowledge", "en", 3)
	if len(d2.Questions) != 3 {
		t.Errorf("explicit count ignored: %d", len(d2.Questions))
	}
	if d2.Questions[0].ID == d1.Questions[0].ID {
		t.Error("every session should get a fresh draw")
	}
	// A key from the first draw cannot grade the second.
	mixed := model.Draw{ID: d2.ID, Questions: d2.Questions, Key: d1.Key}
	if mixed.KeyFor() != nil {
		t.Error("key from another draw accepted")
	}
}

func TestLoadBankFailureFallsBack(t *testing.T) {
	tests := []struct {
		name string
		bank Bank
	}{
		{"fetch error", &fakeBank{err: errors.New("connection refused")}},
		{"no bank", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSource(t, tt.bank)
			def, draw, err := s.Load(context.Background(), "general-knowledge", "en", 0)
			if err != nil {
				t.Fatalf("bank failure must not fail the load: %v", err)
			}
			if !draw.Degraded {
				t.Error("draw should be marked degraded")
			}
			if draw.Key != nil || draw.KeyFor() != nil {
				t.Error("fallback draw must not carry a key")
			}
			if len(draw.Questions) == 0 || len(def.Questions) != len(draw.Questions) {
				t.Errorf("fallback questions missing: %d", len(draw.Questions))
			}
			if draw.Questions[0].Text != "Which planet is known as the Red Planet?" {
				t.Errorf("fallback text = %q", draw.Questions[0].Text)
			}
		})
	}
}

func TestFallbackLocalized(t *testing.T) {
	qs := Fallback("ru")
	if qs[0].Options[0].Label != "Марс" {
		t.Errorf("ru fallback label = %q", qs[0].Options[0].Label)
	}
}

func TestLoadUnknownTest(t *testing.T) {
	s := newTestSource(t, nil)
	_, _, err := s.Load(context.Background(), "nope", "en", 0)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestForCategories(t *testing.T) {
	qs := []model.Question{
		{ID: "a", Category: "values"},
		{ID: "b", Category: "future"},
		{ID: "c", Category: "values"},
	}
	got := ForCategories(qs, []string{"values"})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("ForCategories = %+v", got)
	}
	if len(ForCategories(qs, nil)) != 3 {
		t.Error("empty selection should keep everything")
	}
}
