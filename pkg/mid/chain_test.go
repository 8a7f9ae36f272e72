package mid

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/WessleyAI/medknowledge/pkg/metrics"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

func TestChainOrder(t *testing.T) {
	var order []int
	mw := func(n int) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, 0)
	}), mw(1), mw(2), mw(3))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(order) != 4 || order[0] != 1 || order[1] != 2 || order[2] != 3 || order[3] != 0 {
		t.Fatalf("expected [1 2 3 0], got %v", order)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	rec := httptest.NewRecorder()
	Logger(log)(status(http.StatusCreated)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "INFO" || line["path"] != "/search" || line["status"] != float64(201) {
		t.Fatalf("unexpected log line %v", line)
	}

	buf.Reset()
	Logger(log)(status(http.StatusServiceUnavailable)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Fatalf("5xx should log at error level: %s", buf.String())
	}
}

func TestRecoverCatchesPanic(t *testing.T) {
	h := Recover(discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["detail"] == "" {
		t.Fatalf("expected JSON detail body, got %q (%v)", rec.Body.String(), err)
	}
}

func TestCORS(t *testing.T) {
	rec := httptest.NewRecorder()
	CORS("*")(status(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/search", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS origin header")
	}
	if rec.Header().Get("Vary") != "" {
		t.Fatal("wildcard origin should not vary")
	}

	rec = httptest.NewRecorder()
	CORS("https://app.example")(status(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" || rec.Header().Get("Vary") != "Origin" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}
}

func TestMetrics(t *testing.T) {
	reg := metrics.New()
	h := Chain(status(http.StatusBadRequest), Metrics(reg), Logger(discard()))
	for range 3 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/search", nil))
	}
	name := metrics.WithLabels(metrics.HTTPRequests, "method", "POST", "code", "400")
	if got := reg.Counter(name, "").Value(); got != 3 {
		t.Fatalf("expected 3 requests counted, got %d", got)
	}
}

func TestStatusWriter_ImplicitOK(t *testing.T) {
	reg := metrics.New()
	h := Metrics(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	name := metrics.WithLabels(metrics.HTTPRequests, "method", "GET", "code", "200")
	if reg.Counter(name, "").Value() != 1 {
		t.Fatal("first write should fix the status at 200")
	}
}

func TestOTel(t *testing.T) {
	rec := httptest.NewRecorder()
	OTel("test")(status(http.StatusAccepted)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}
