package middleware

import (
	"net/http"
	"time"

	"golang.org/x/text/language"

	"github.com/veo3pk/studio/internal/api/requestctx"
	"github.com/veo3pk/studio/internal/support/i18n"
)

// LanguageCookie persists an explicit ?lang= choice.
const LanguageCookie = "veo3_lang"

// I18n negotiates the response language: query, X-Lang header, cookie, then
// Accept-Language. The manager resolves the tag to a loaded locale.
func I18n(manager *i18n.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			explicit := r.URL.Query().Get("lang")
			lang := explicit
			if lang == "" {
				lang = r.Header.Get("X-Lang")
			}
			if lang == "" {
				if cookie, err := r.Cookie(LanguageCookie); err == nil {
					lang = cookie.Value
				}
			}
			if lang == "" {
				tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
				if err == nil && len(tags) > 0 {
					lang = tags[0].String()
				}
			}
			if manager != nil {
				lang = manager.Resolve(lang)
			}
			if lang == "" {
				lang = "en-US"
			}

			if explicit != "" {
				http.SetCookie(w, &http.Cookie{
					Name:     LanguageCookie,
					Value:    lang,
					Path:     "/",
					Expires:  time.Now().Add(365 * 24 * time.Hour),
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(requestctx.WithLanguage(r.Context(), lang)))
		})
	}
}
