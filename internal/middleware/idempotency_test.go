package middleware_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/OnboardForge/internal/adapter/ristretto"
	"github.com/Strob0t/OnboardForge/internal/middleware"
)

func makeTestHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func newIdempotent(t *testing.T, counter *int, status int) http.Handler {
	t.Helper()
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return middleware.TenantID(middleware.Idempotency(c)(makeTestHandler(counter, status)))
}

func post(h http.Handler, path, key, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	h := newIdempotent(t, &counter, http.StatusCreated)

	post(h, "/api/v1/contexts", "", "")
	post(h, "/api/v1/contexts", "", "")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	h := newIdempotent(t, &counter, http.StatusCreated)

	rec1 := post(h, "/api/v1/contexts", "key-2", "")
	rec2 := post(h, "/api/v1/contexts", "key-2", "")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec2.Code)
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Fatalf("replayed body %q differs from %q", rec2.Body.String(), rec1.Body.String())
	}
	if rec2.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay marker header")
	}
}

func TestIdempotency_ScopedByTenantAndPath(t *testing.T) {
	counter := 0
	h := newIdempotent(t, &counter, http.StatusCreated)

	post(h, "/api/v1/contexts", "k", "acme")
	post(h, "/api/v1/contexts", "k", "globex")
	post(h, "/api/v1/contexts/c1/ui-responses", "k", "acme")

	if counter != 3 {
		t.Fatalf("expected 3 calls, got %d", counter)
	}
}

func TestIdempotency_FailuresNotStored(t *testing.T) {
	counter := 0
	h := newIdempotent(t, &counter, http.StatusConflict)

	post(h, "/api/v1/contexts", "key-x", "")
	post(h, "/api/v1/contexts", "key-x", "")

	if counter != 2 {
		t.Fatalf("failed responses must not be replayed, got %d calls", counter)
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	h := middleware.Idempotency(c)(makeTestHandler(&counter, http.StatusOK))

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.Header.Set("Idempotency-Key", "key-get")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	if counter != 2 {
		t.Fatalf("expected handler called twice, got %d", counter)
	}
}
