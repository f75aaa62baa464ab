package shield

import "net/http"

// Headers maps response header names to the value SecurityHeaders sets.
// An empty value removes the header.
type Headers map[string]string

const pageCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; connect-src 'self'; frame-ancestors 'none'"

// PageHeaders is the set for the landing page and tracking beacons. Inline
// styles are allowed because generated variants carry their own accent markup.
func PageHeaders() Headers {
	return Headers{
		"Content-Security-Policy": pageCSP,
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Permissions-Policy":      "camera=(), microphone=(), geolocation=()",
	}
}

// AdminHeaders is the set for the JSON admin API: nothing loads, nothing is cached.
func AdminHeaders() Headers {
	h := PageHeaders()
	h["Content-Security-Policy"] = "default-src 'none'; frame-ancestors 'none'"
	h["Referrer-Policy"] = "no-referrer"
	h["Cache-Control"] = "no-store"
	return h
}

// SecurityHeaders returns middleware that writes h before the handler runs,
// so handlers may still override individual values.
func SecurityHeaders(h Headers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dst := w.Header()
			for name, value := range h {
				if value == "" {
					dst.Del(name)
					continue
				}
				dst.Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
