package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/invoicer/internal/middleware"
)

// trace returns a middleware appending name to log around the next handler.
func trace(log *[]string, name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*log = append(*log, name+">")
			next.ServeHTTP(w, r)
			*log = append(*log, "<"+name)
		})
	}
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRouter_Chains(t *testing.T) {
	var log []string
	r := New(trace(&log, "global"))
	api := r.Group(trace(&log, "auth"))

	api.Post("/invoices/{number}/cancel", func(w http.ResponseWriter, req *http.Request) {
		log = append(log, "cancel "+req.PathValue("number"))
		w.WriteHeader(http.StatusAccepted)
	}, trace(&log, "limit"))

	rec := serve(r, http.MethodPost, "/invoices/INV-20240101-ABC123/cancel")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{
		"global>", "auth>", "limit>",
		"cancel INV-20240101-ABC123",
		"<limit", "<auth", "<global",
	}, log)
}

func TestRouter_MethodMismatch(t *testing.T) {
	r := New()
	r.Get("/invoices/{number}", func(w http.ResponseWriter, req *http.Request) {})

	assert.Equal(t, http.StatusMethodNotAllowed, serve(r, http.MethodDelete, "/invoices/INV-1").Code)
}

func TestRouter_Routes(t *testing.T) {
	r := New()
	api := r.Group()

	noop := func(w http.ResponseWriter, r *http.Request) {}
	r.Get("/health", noop)
	api.Post("/invoices", noop)
	api.Get("/invoices/{number}", noop)
	r.Handle(http.MethodGet, "/metrics", http.NotFoundHandler())

	assert.Equal(t, []string{
		"GET /health",
		"GET /invoices/{number}",
		"GET /metrics",
		"POST /invoices",
	}, r.Routes())
}

func TestRouter_NotFoundRunsGlobalChain(t *testing.T) {
	var log []string
	r := New(trace(&log, "global"))
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {})
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	assert.Equal(t, http.StatusTeapot, serve(r, http.MethodGet, "/nowhere").Code)
	assert.Equal(t, []string{"global>", "<global"}, log)
}

func TestRecovery(t *testing.T) {
	r := New(middleware.RequestID, Recovery())
	r.Get("/boom", func(w http.ResponseWriter, req *http.Request) {
		panic("nil map write")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "internal", body.Error.Code)
	assert.Equal(t, "req-123", body.Error.RequestID)
	assert.NotContains(t, body.Error.Message, "nil map")
}
