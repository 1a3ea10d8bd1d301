package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey stores the resolved UI locale in the request context.
var LocaleKey = localeContextKey{}

// supported lists the locales the storefront ships messages for; the first
// entry is the matcher fallback.
var supported = []language.Tag{
	language.Portuguese,
	language.English,
}

var matcher = language.NewMatcher(supported)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// lusophone countries default to Portuguese when nothing else decides.
var lusophone = map[string]struct{}{
	"BR": {}, "PT": {}, "AO": {}, "MZ": {}, "CV": {},
}

// Locale resolves the UI locale for each request: an explicit X-Locale
// header wins, then Accept-Language via the x/text matcher, then the
// GeoIP country, then the configured default.
func Locale(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale, lookup)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LocaleFromContext returns the resolved locale, defaulting to Portuguese.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return "pt"
}

func detectLocale(r *http.Request, fallback string, lookup CountryLookup) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return normalizeLocale(v)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		if tag, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tag) > 0 {
			matched, _, conf := matcher.Match(tag...)
			if conf > language.No {
				return normalizeLocale(matched.String())
			}
		}
	}
	if lookup != nil {
		if ip := requestIP(r); ip != "" {
			if country, err := lookup(ip); err == nil {
				if _, ok := lusophone[strings.ToUpper(country)]; ok {
					return "pt"
				}
				if country != "" {
					return "en"
				}
			}
		}
	}
	if fallback != "" {
		return normalizeLocale(fallback)
	}
	return "pt"
}

func normalizeLocale(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "pt") {
		return "pt"
	}
	return "en"
}

func requestIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	return clientIP(r)
}
