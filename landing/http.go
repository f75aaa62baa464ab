package landing

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/lander/horosafe"
	"github.com/hazyhaar/lander/idgen"
	"github.com/hazyhaar/lander/landing/internal/split"
	"github.com/hazyhaar/lander/shield"
	"github.com/hazyhaar/lander/tracking"
)

// SecretHeader is the alternative to a bearer token on admin routes.
const SecretHeader = "X-Lander-Secret"

// AdminRoutes mounts the operator API on r:
//
//	POST /run            run one cycle
//	GET  /variants       running experiment's variants (?include_killed=1)
//	GET  /events         audit log (?experiment_id=&limit=)
//	GET  /snapshot.json  last published snapshot
//
// Every route requires the trigger secret. A nil matcher rejects all
// requests.
func (e *Engine) AdminRoutes(r chi.Router, m *horosafe.SecretMatcher) {
	r.Group(func(r chi.Router) {
		r.Use(requireSecret(m))

		r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
			res, err := e.RunCycle(r.Context())
			switch {
			case errors.Is(err, ErrCycleBusy):
				writeJSON(w, http.StatusConflict, res)
			case err != nil:
				shield.RequestLogger(r.Context()).Error("admin: run failed", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
			default:
				writeJSON(w, http.StatusOK, res)
			}
		})

		r.Get("/variants", func(w http.ResponseWriter, r *http.Request) {
			rep, err := e.Variants(r.Context(), queryBool(r, "include_killed"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, rep)
		})

		r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
			expID := r.URL.Query().Get("experiment_id")
			if expID != "" && !idgen.Experiment.Valid(expID) {
				writeError(w, http.StatusBadRequest, errors.New("invalid experiment_id"))
				return
			}
			events, err := e.Events(r.Context(), expID, queryInt(r, "limit", 100))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, events)
		})

		r.Get("/snapshot.json", func(w http.ResponseWriter, r *http.Request) {
			snap, err := e.Snapshot(r.Context())
			if IsNotFound(err) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			w.Header().Set("Cache-Control", "no-store")
			writeJSON(w, http.StatusOK, snap)
		})
	})
}

func requireSecret(m *horosafe.SecretMatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || m.Match(presentedSecret(r)) != nil {
				shield.RequestLogger(r.Context()).Warn("admin: rejected", "path", r.URL.Path, "remote", shield.ExtractIP(r))
				writeError(w, http.StatusUnauthorized, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedSecret(r *http.Request) string {
	if s, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(s)
	}
	return r.Header.Get(SecretHeader)
}

// TrackRoutes mounts the visitor beacons on r:
//
//	POST /impression
//	POST /conversion
//
// The variant id comes from a JSON or form body field "variant_id", the
// query string, or the splitter's cookie, in that order. Both answer 204.
func (e *Engine) TrackRoutes(r chi.Router, rec *tracking.Recorder) {
	r.Post("/impression", e.trackHandler("impression", rec.Impression))
	r.Post("/conversion", e.trackHandler("conversion", rec.Conversion))
}

func (e *Engine) trackHandler(kind string, record func(string)) http.HandlerFunc {
	cookie := split.DefaultCookieName
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := beaconVariant(r, cookie)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !idgen.Variant.Valid(id) {
			writeError(w, http.StatusBadRequest, errors.New("invalid variant_id"))
			return
		}
		record(id)
		e.metrics.Tracked(kind)
		w.WriteHeader(http.StatusNoContent)
	}
}

func beaconVariant(r *http.Request, cookie string) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return "", err
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 {
		if body[0] == '{' {
			var req struct {
				VariantID string `json:"variant_id"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				return "", errors.New("malformed JSON body")
			}
			if req.VariantID != "" {
				return req.VariantID, nil
			}
		} else if vals, err := url.ParseQuery(string(body)); err == nil && vals.Get("variant_id") != "" {
			return vals.Get("variant_id"), nil
		}
	}
	if id := r.URL.Query().Get("variant_id"); id != "" {
		return id, nil
	}
	if c, err := r.Cookie(cookie); err == nil {
		return c.Value, nil
	}
	return "", errors.New("variant_id is required")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
