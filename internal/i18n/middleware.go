package i18n

import (
	"net/http"

	"github.com/pavelanni/assessor/internal/model"
)

// Middleware resolves the request language from the "lang" query parameter
// or the Accept-Language header, falling back to defaultLang, and stores
// both the localizer and the locale code in the request context.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), defaultLang)
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang))
			ctx = model.ContextWithLocale(ctx, lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
