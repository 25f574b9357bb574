package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/kiosk-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/kiosk-backend/pkg/errors"
	pkgredis "github.com/angelmondragon/kiosk-backend/pkg/redis"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	str, _ := value.(string)
	f.data[key] = str
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func newIdempotentRequest(method, url string, body io.Reader) *http.Request {
	return httptest.NewRequest(method, url, body)
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"dlq replay", http.MethodPost, "/api/admin/v1/alerts/dlq/8d2f/replay", defaultIdempotencyTTL, true},
		{"dlq resolve", http.MethodPost, "/api/admin/v1/alerts/dlq/8d2f/resolve", defaultIdempotencyTTL, true},
		{"compensation execute", http.MethodPost, "/api/admin/v1/compensation/execute", criticalIdempotencyTTL, true},
		{"dispatch", http.MethodPost, "/api/admin/v1/alerts/dispatch", 0, false},
		{"dlq without id", http.MethodPost, "/api/admin/v1/alerts/dlq//replay", 0, false},
		{"dlq nested", http.MethodPost, "/api/admin/v1/alerts/dlq/8d2f/x/replay", 0, false},
		{"replay-due", http.MethodPost, "/api/admin/v1/alerts/dlq/replay-due", 0, false},
		{"listing", http.MethodGet, "/api/admin/v1/compensation/execute", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{"foo":"bar"}`))
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", resp.Code)
	}

	replay := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{"foo":"bar"}`))
	replay.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{"foo":"bar"}`))
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{"foo":"diff"}`))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	var payload struct {
		ErrorV1 struct {
			Code string `json:"code"`
		} `json:"error_v1"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.ErrorV1.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeValidation, payload.ErrorV1.Code)
	}
}

func TestIdempotencyMiddlewareDoesNotStoreServerFaults(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected the handler to run again after a 503, ran %d times", calls)
	}
}

func TestIdempotencyMiddlewareDoesNotStoreAuthRejections(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			store := newFakeStore()
			mw := Idempotency(store, nil)
			var calls int
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if calls == 1 {
					w.WriteHeader(status)
					return
				}
				w.WriteHeader(http.StatusOK)
			})

			req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{}`))
			req.Header.Set("Idempotency-Key", "after-grant")
			mw(handler).ServeHTTP(httptest.NewRecorder(), req)
			if len(store.data) != 0 {
				t.Fatalf("rejected request left %d idempotency records", len(store.data))
			}

			req = newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{}`))
			req.Header.Set("Idempotency-Key", "after-grant")
			rec := httptest.NewRecorder()
			mw(handler).ServeHTTP(rec, req)
			if calls != 2 || rec.Code != http.StatusOK || rec.Header().Get("Idempotent-Replayed") != "" {
				t.Fatalf("expected a fresh run after %d, got calls=%d code=%d", status, calls, rec.Code)
			}
		})
	}
}

func TestIdempotencyWithRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := pkgredis.New(context.Background(), config.RedisConfig{Address: srv.Addr()}, nil)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	var calls int
	handler := Idempotency(client, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	for i := 0; i < 3; i++ {
		req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/alerts/dlq/1/replay", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "k1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i, rec.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one execution, got %d", calls)
	}
	if ttl := srv.TTL(client.IdempotencyKey("|POST|/api/admin/v1/alerts/dlq/1/replay", "k1")); ttl != defaultIdempotencyTTL {
		t.Fatalf("expected stored ttl %v got %v", defaultIdempotencyTTL, ttl)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)

	var inner int
	var outerRec *httptest.ResponseRecorder
	var handler http.Handler
	handler = mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner++
		if inner == 1 {
			// a duplicate arrives while the first request is still running
			dup := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{}`))
			dup.Header.Set("Idempotency-Key", "busy")
			outerRec = httptest.NewRecorder()
			handler.ServeHTTP(outerRec, dup)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", "busy")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request 200 got %d", rec.Code)
	}
	if inner != 1 {
		t.Fatalf("duplicate must not reach the handler, ran %d times", inner)
	}
	if outerRec == nil || outerRec.Code != http.StatusBadRequest {
		t.Fatalf("expected duplicate to be rejected with 400")
	}
	if !strings.Contains(outerRec.Body.String(), "in progress") {
		t.Fatalf("unexpected duplicate body %s", outerRec.Body.String())
	}
}

func TestIdempotencyMiddlewareRejectsOversizedKey(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/compensation/execute", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", strings.Repeat("k", maxIdempotencyKeyLen+1))
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestIdempotencyMiddlewareIgnoresUnguardedRoutes(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	req := newIdempotentRequest(http.MethodPost, "/api/admin/v1/alerts/dispatch", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(store.data) != 0 {
		t.Fatalf("unguarded routes must not touch the store")
	}
}
