package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware picks the response language from Accept-Language, falling back
// to lang, and stores the matching localizer in the request context.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept := r.Header.Get("Accept-Language")
			w.Header().Set("Content-Language", negotiate(accept, lang))
			ctx := WithLocalizer(r.Context(), NewLocalizer(accept, lang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func negotiate(accept, fallback string) string {
	supported := Supported()
	if len(supported) == 0 {
		return fallback
	}
	prefs, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(prefs) == 0 {
		return fallback
	}
	tag, _, conf := language.NewMatcher(supported).Match(prefs...)
	if conf == language.No {
		return fallback
	}
	base, _ := tag.Base()
	return base.String()
}
