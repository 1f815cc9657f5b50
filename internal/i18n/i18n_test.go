package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavelanni/assessor/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Assessor" {
		t.Errorf("T(AppTitle) = %q, want 'Assessor'", got)
	}
	if got := T(ctx, "relationship.soulmates"); got != "Soulmates" {
		t.Errorf("T(relationship.soulmates) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "AppTitle"); got != "Ассессор" {
		t.Errorf("T(AppTitle) = %q, want 'Ассессор'", got)
	}
	if got := T(ctx, "result.excellent"); got != "Отлично" {
		t.Errorf("T(result.excellent) = %q, want 'Отлично'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsAnswered", 1); got != "1 question answered." {
		t.Errorf("Tp(QuestionsAnswered, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsAnswered", 5); got != "5 questions answered." {
		t.Errorf("Tp(QuestionsAnswered, 5) = %q", got)
	}

	ctx = initLang(t, "ru")
	if got := Tp(ctx, "QuestionsAnswered", 5); got != "Отвечено 5 вопросов." {
		t.Errorf("Tp(QuestionsAnswered, 5) ru = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "email.result.body", map[string]any{"PartnerName": "Sam", "Score": 80})
	if got != "You and Sam scored 80% together." {
		t.Errorf("Td(email.result.body) = %q", got)
	}
}

func TestLocalizeExplicitLanguage(t *testing.T) {
	initLang(t, "en")

	if got := Localize("ru", "fallback.q1.a", nil); got != "Марс" {
		t.Errorf("Localize(ru) = %q, want 'Марс'", got)
	}
	// Unknown languages fall back to the default.
	if got := Localize("de", "fallback.q1.a", nil); got != "Mars" {
		t.Errorf("Localize(de) = %q, want 'Mars'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMatch(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		name  string
		prefs []string
		want  string
	}{
		{"empty", nil, "en"},
		{"plain ru", []string{"ru"}, "ru"},
		{"region", []string{"ru-RU"}, "ru"},
		{"accept header", []string{"de-DE,ru;q=0.8,en;q=0.5"}, "ru"},
		{"unsupported", []string{"ja"}, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.prefs...); got != tt.want {
				t.Errorf("Match(%v) = %q, want %q", tt.prefs, got, tt.want)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	initLang(t, "en")

	got := Supported()
	if len(got) != 2 || got[0] != "en" {
		t.Errorf("Supported() = %v, want [en ru]", got)
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")

	var gotLocale, gotTitle string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLocale = model.LocaleFromContext(r.Context())
		gotTitle = T(r.Context(), "AppTitle")
	}))

	req := httptest.NewRequest(http.MethodGet, "/tests", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotLocale != "ru" || gotTitle != "Ассессор" {
		t.Errorf("header: locale=%q title=%q", gotLocale, gotTitle)
	}

	req = httptest.NewRequest(http.MethodGet, "/tests?lang=en", nil)
	req.Header.Set("Accept-Language", "ru")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotLocale != "en" {
		t.Errorf("query parameter should win, got %q", gotLocale)
	}
}
