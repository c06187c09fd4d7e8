package handler

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webmatic/backend/internal/model"
	"github.com/webmatic/backend/internal/ratelimit"
	"github.com/webmatic/backend/internal/repository"
	"github.com/webmatic/backend/internal/service"
)

type testServer struct {
	router http.Handler
	path   string
}

func newTestServer(t *testing.T, apiLimiter ratelimit.Store) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.jsonl")
	store, err := repository.OpenJSONLSubmissionRepository(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	limiter, err := ratelimit.NewMemoryStore(10, time.Hour)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	svc := service.NewContactService(service.ContactServiceConfig{
		Store:   store,
		Limiter: limiter,
	})
	return &testServer{
		router: NewRouter(RouterConfig{
			DB:             store,
			ContactService: svc,
			APILimiter:     apiLimiter,
			FrontendURL:    "http://localhost:3000",
		}),
		path: path,
	}
}

func (s *testServer) post(t *testing.T, body string) (*httptest.ResponseRecorder, submitResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:40000"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func (s *testServer) submissions(t *testing.T) []model.ContactSubmission {
	t.Helper()
	f, err := os.Open(s.path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer f.Close()

	var subs []model.ContactSubmission
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var sub model.ContactSubmission
		if err := json.Unmarshal(sc.Bytes(), &sub); err != nil {
			t.Fatalf("decode stored line: %v", err)
		}
		subs = append(subs, sub)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read store: %v", err)
	}
	return subs
}

func (s *testServer) stored(t *testing.T) int {
	t.Helper()
	return len(s.submissions(t))
}

const validContact = `{"name":"Jean Dupont","email":"Jean@Test.fr","phone":"0612345678","service":"Maintenance informatique","message":"Mon ordinateur ne démarre plus"}`

func TestRouter_ContactAccepted(t *testing.T) {
	s := newTestServer(t, nil)

	rec, resp := s.post(t, validContact)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !resp.Success || len(resp.Reference) != 8 {
		t.Errorf("unexpected response: %+v", resp)
	}

	subs := s.submissions(t)
	if len(subs) != 1 {
		t.Fatalf("expected 1 stored submission, got %d", len(subs))
	}
	got := subs[0]
	if got.Email != "jean@test.fr" {
		t.Errorf("expected lowercased email, got %q", got.Email)
	}
	if got.Reference() != resp.Reference {
		t.Errorf("reference mismatch: stored %q, returned %q", got.Reference(), resp.Reference)
	}
	if got.SourceAddress != "198.51.100.7" {
		t.Errorf("unexpected source address %q", got.SourceAddress)
	}
}

func TestRouter_ContactValidationFailed(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"name":"Jean Dupont","email":"jean@test.fr","service":"Autre","message":"short"}`
	rec, resp := s.post(t, body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if resp.Success || !strings.Contains(resp.Message, "minimum 10") {
		t.Errorf("unexpected response: %+v", resp)
	}
	if n := s.stored(t); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestRouter_ContactMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contact", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error body, got %q", ct)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing on error response")
	}
}

func TestRouter_ContactRateLimited(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 10; i++ {
		// Invalid submissions still consume attempts.
		rec, _ := s.post(t, `{"name":"J"}`)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("attempt %d: expected 422, got %d", i+1, rec.Code)
		}
	}
	rec, resp := s.post(t, validContact)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if n := s.stored(t); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestRouter_HealthAndBanner(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/api/", "/api/health"} {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown route, got %d", rec.Code)
	}
}

func TestRouter_APIThrottle(t *testing.T) {
	apiLimiter, err := ratelimit.NewMemoryStore(2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, apiLimiter)

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "192.0.2.9:1234"
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}
