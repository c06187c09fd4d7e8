package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStore(t *testing.T, limit int, window time.Duration) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(limit, window)
	require.NoError(t, err)
	return s
}

func TestNewMemoryStore_RejectsInvalidLimits(t *testing.T) {
	_, err := NewMemoryStore(0, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	_, err = NewMemoryStore(10, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestMemoryStore_EleventhAttemptRefused(t *testing.T) {
	s := newStore(t, 10, time.Hour)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		d, err := s.Admit(ctx, "203.0.113.7", start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should be admitted", i+1)
		assert.Equal(t, 9-i, d.Remaining)
	}

	d, err := s.Admit(ctx, "203.0.113.7", start.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)

	// Another address is unaffected.
	d, err = s.Admit(ctx, "198.51.100.1", start.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryStore_AdmitsAgainOnceOldestAgesOut(t *testing.T) {
	s := newStore(t, 10, time.Hour)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		_, err := s.Admit(ctx, "ip", start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	d, _ := s.Admit(ctx, "ip", start.Add(time.Hour-time.Second))
	assert.False(t, d.Allowed, "oldest attempt still inside the window")

	d, _ = s.Admit(ctx, "ip", start.Add(time.Hour))
	assert.True(t, d.Allowed, "oldest attempt aged past the window")

	d, _ = s.Admit(ctx, "ip", start.Add(time.Hour))
	assert.False(t, d.Allowed, "second attempt at the same instant only frees one slot")
}

func TestMemoryStore_RefusedAttemptNotRecorded(t *testing.T) {
	s := newStore(t, 1, time.Hour)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	d, _ := s.Admit(ctx, "ip", start)
	require.True(t, d.Allowed)
	for i := 1; i <= 5; i++ {
		d, _ = s.Admit(ctx, "ip", start.Add(time.Duration(i)*time.Minute))
		require.False(t, d.Allowed)
	}
	// Only the first attempt counted, so the window reopens an hour after it.
	d, _ = s.Admit(ctx, "ip", start.Add(time.Hour))
	assert.True(t, d.Allowed)
}

func TestMemoryStore_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	s := newStore(t, 10, time.Hour)
	ctx := context.Background()
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.Admit(ctx, "same-ip", now)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := newStore(t, 10, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Admit(ctx, "ip", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := newStore(t, 10, time.Minute)
	ctx := context.Background()
	start := time.Now()

	_, _ = s.Admit(ctx, "old", start)
	_, _ = s.Admit(ctx, "fresh", start.Add(50*time.Second))
	require.Equal(t, 2, s.Len())

	s.Sweep(start.Add(70 * time.Second))
	assert.Equal(t, 1, s.Len())

	// A swept key starts a fresh window.
	d, _ := s.Admit(ctx, "old", start.Add(70*time.Second))
	assert.True(t, d.Allowed)
	assert.Equal(t, 9, d.Remaining)
}

func TestMemoryStore_RunStopsOnCancel(t *testing.T) {
	s := newStore(t, 10, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		xff     string
		trusted int
		want    string
	}{
		{"remote addr only", "192.0.2.1:54321", "", 1, "192.0.2.1"},
		{"single proxy", "10.0.0.1:80", "203.0.113.9", 1, "203.0.113.9"},
		{"spoofed leftmost ignored", "10.0.0.1:80", "1.2.3.4, 203.0.113.9", 1, "203.0.113.9"},
		{"two proxies", "10.0.0.1:80", "1.2.3.4, 203.0.113.9, 10.0.0.2", 2, "203.0.113.9"},
		{"header ignored without trusted proxies", "192.0.2.1:54321", "203.0.113.9", 0, "192.0.2.1"},
		{"remote addr without port", "192.0.2.1", "", 0, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trusted))
		})
	}
}

func TestMiddleware_Returns429WithRetryAfter(t *testing.T) {
	s := newStore(t, 2, time.Minute)
	called := 0
	h := Middleware(s, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}

	assert.Equal(t, 2, called)
	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), `"success":false`)
}

type failingStore struct{}

func (failingStore) Admit(context.Context, string, time.Time) (Decision, error) {
	return Decision{}, context.DeadlineExceeded
}

func TestMiddleware_FailsOpen(t *testing.T) {
	called := false
	h := Middleware(failingStore{}, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", RetryAfterSeconds(0))
	assert.Equal(t, "1", RetryAfterSeconds(-5*time.Second))
	assert.Equal(t, "61", RetryAfterSeconds(60*time.Second))
}
