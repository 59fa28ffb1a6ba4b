package idempotency

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Herald/internal/auth"
	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/store"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string

	setIfAbsentErr error
	getErr         error
	dropOnSet      bool // SetIfAbsent не создаёт запись, Get её не находит
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) SetIfAbsent(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setIfAbsentErr != nil {
		return false, s.setIfAbsentErr
	}
	if s.dropOnSet {
		return false, nil
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value
	return true, nil
}

var identity = auth.Identity{UserID: "user-1", OrganizationID: "org-1", EnvironmentID: "env-1"}

func testConfig() *config.Idempotency {
	return &config.Idempotency{
		Enabled:     true,
		ProgressTTL: 5 * time.Minute,
		CacheTTL:    24 * time.Hour,
		DocsLink:    "https://docs.herald.dev/idempotency",
	}
}

// counting — handler, считающий вызовы и отвечающий 201 с номером вызова.
type counting struct {
	calls atomic.Int32
}

func (c *counting) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := c.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, `{"data":{"call":`+strconv.Itoa(int(n))+`}}`)
}

func request(method, key, body string, id *auth.Identity) *http.Request {
	r := httptest.NewRequest(method, "/v1/events/trigger", strings.NewReader(body))
	if key != "" {
		r.Header.Set(HeaderKey, key)
	}
	if id != nil {
		r = r.WithContext(auth.WithIdentity(r.Context(), *id))
	}
	return r
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGuard_Bypass(t *testing.T) {
	disabled := testConfig()
	disabled.Enabled = false

	tests := []struct {
		name string
		cfg  *config.Idempotency
		req  *http.Request
	}{
		{name: "disabled", cfg: disabled, req: request(http.MethodPost, "k1", `{}`, &identity)},
		{name: "no key", cfg: testConfig(), req: request(http.MethodPost, "", `{}`, &identity)},
		{name: "get", cfg: testConfig(), req: request(http.MethodGet, "k1", ``, &identity)},
		{name: "delete", cfg: testConfig(), req: request(http.MethodDelete, "k1", ``, &identity)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &counting{}
			st := newMemStore()
			mw := New(tt.cfg, "test", st, nil).Middleware(h)

			serve(mw, tt.req)
			serve(mw, tt.req)

			assert.Equal(t, int32(2), h.calls.Load())
			assert.Empty(t, st.data)
		})
	}
}

func TestGuard_ReplayIdentical(t *testing.T) {
	h := &counting{}
	st := newMemStore()
	mw := New(testConfig(), "test", st, nil).Middleware(h)

	first := serve(mw, request(http.MethodPost, "k1", `{"name": "welcome"}`, &identity))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "k1", first.Header().Get(HeaderKey))
	assert.Empty(t, first.Header().Get(HeaderReplay))

	second := serve(mw, request(http.MethodPost, "k1", `{"name":"welcome"}`, &identity))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplay))
	assert.Equal(t, "k1", second.Header().Get(HeaderKey))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), h.calls.Load())

	assert.Contains(t, st.data, "test-org-1-k1")
}

func TestGuard_DifferentBody(t *testing.T) {
	h := &counting{}
	mw := New(testConfig(), "test", newMemStore(), nil).Middleware(h)

	serve(mw, request(http.MethodPost, "k1", `{"a":1}`, &identity))
	resp := serve(mw, request(http.MethodPost, "k1", `{"a":2}`, &identity))

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "https://docs.herald.dev/idempotency", resp.Header().Get(HeaderLink))
	assert.Contains(t, resp.Body.String(), "different body")
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestGuard_ConcurrentClaims(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"ok":true}`)
	})
	mw := New(testConfig(), "test", newMemStore(), nil).Middleware(handler)

	// первый запрос захватывает ключ и ждёт
	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() { firstDone <- serve(mw, request(http.MethodPost, "k1", `{}`, &identity)) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	const dup = 8
	var wg sync.WaitGroup
	codes := make([]int, dup)
	retry := make([]string, dup)
	for i := range dup {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := serve(mw, request(http.MethodPost, "k1", `{}`, &identity))
			codes[i] = resp.Code
			retry[i] = resp.Header().Get(HeaderRetryAfter)
		}()
	}
	wg.Wait()

	for i := range dup {
		assert.Equal(t, http.StatusConflict, codes[i])
		assert.Equal(t, "1", retry[i])
	}

	close(release)
	first := <-firstDone
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, int32(1), calls.Load(), "handler ran exactly once")

	replay := serve(mw, request(http.MethodPost, "k1", `{}`, &identity))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(HeaderReplay))
	assert.Equal(t, `{"ok":true}`, replay.Body.String())
}

func TestGuard_ErrorResponseReplayed(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "template not found", http.StatusNotFound)
	})
	mw := New(testConfig(), "test", newMemStore(), nil).Middleware(handler)

	first := serve(mw, request(http.MethodPost, "k1", `{}`, &identity))
	second := serve(mw, request(http.MethodPost, "k1", `{}`, &identity))

	assert.Equal(t, http.StatusNotFound, first.Code)
	assert.Equal(t, http.StatusNotFound, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGuard_KeyTooLong(t *testing.T) {
	h := &counting{}
	mw := New(testConfig(), "test", newMemStore(), nil).Middleware(h)

	resp := serve(mw, request(http.MethodPost, strings.Repeat("k", MaxKeyLength+1), `{}`, &identity))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "maximum allowed length of 255")
	assert.Zero(t, h.calls.Load())

	resp = serve(mw, request(http.MethodPost, strings.Repeat("k", MaxKeyLength), `{}`, &identity))
	assert.Equal(t, http.StatusCreated, resp.Code)
}

func TestGuard_MissingIdentity(t *testing.T) {
	h := &counting{}
	mw := New(testConfig(), "test", newMemStore(), nil).Middleware(h)

	resp := serve(mw, request(http.MethodPost, "k1", `{}`, nil))

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Zero(t, h.calls.Load())
}

func TestGuard_KeysScopedByOrganization(t *testing.T) {
	h := &counting{}
	mw := New(testConfig(), "test", newMemStore(), nil).Middleware(h)
	other := auth.Identity{UserID: "user-2", OrganizationID: "org-2", EnvironmentID: "env-2"}

	serve(mw, request(http.MethodPost, "k1", `{}`, &identity))
	resp := serve(mw, request(http.MethodPost, "k1", `{}`, &other))

	assert.Empty(t, resp.Header().Get(HeaderReplay))
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestGuard_StoreFailures(t *testing.T) {
	t.Run("claim fails, request served without idempotency", func(t *testing.T) {
		h := &counting{}
		st := newMemStore()
		st.setIfAbsentErr = errors.New("connection refused")
		mw := New(testConfig(), "test", st, nil).Middleware(h)

		assert.Equal(t, http.StatusCreated, serve(mw, request(http.MethodPost, "k1", `{}`, &identity)).Code)
		assert.Equal(t, http.StatusCreated, serve(mw, request(http.MethodPost, "k1", `{}`, &identity)).Code)
		assert.Equal(t, int32(2), h.calls.Load())
	})

	t.Run("duplicate without readable record", func(t *testing.T) {
		h := &counting{}
		st := newMemStore()
		st.dropOnSet = true
		mw := New(testConfig(), "test", st, nil).Middleware(h)

		resp := serve(mw, request(http.MethodPost, "k1", `{}`, &identity))
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
		assert.Zero(t, h.calls.Load())
	})

	t.Run("corrupted record", func(t *testing.T) {
		h := &counting{}
		st := newMemStore()
		st.data["test-org-1-k1"] = "not json"
		mw := New(testConfig(), "test", st, nil).Middleware(h)

		resp := serve(mw, request(http.MethodPost, "k1", `{}`, &identity))
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})
}

func TestGuard_PanicCachedAsError(t *testing.T) {
	st := newMemStore()
	mw := New(testConfig(), "test", st, nil).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() { serve(mw, request(http.MethodPost, "k1", `{}`, &identity)) })

	resp := serve(mw, request(http.MethodPost, "k1", `{}`, &identity))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "true", resp.Header().Get(HeaderReplay))
}

func TestGuard_WithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client := store.NewClient(&store.ProviderConfig{
		Provider: store.ProviderRedis,
		Topology: store.TopologySingle,
		Host:     mr.Host(),
		Ports:    []int{port},
	}, nil)
	t.Cleanup(func() { _ = client.Shutdown() })

	h := &counting{}
	mw := New(testConfig(), "production", client, nil).Middleware(h)

	serve(mw, request(http.MethodPost, "k1", `{"x":1}`, &identity))
	resp := serve(mw, request(http.MethodPost, "k1", `{"x":1}`, &identity))

	assert.Equal(t, "true", resp.Header().Get(HeaderReplay))
	assert.Equal(t, int32(1), h.calls.Load())

	ttl := mr.TTL("production-org-1-k1")
	assert.Equal(t, 24*time.Hour, ttl, "final record kept for cache ttl")
}

func TestHashBody(t *testing.T) {
	assert.Equal(t, hashBody([]byte(`{"a": 1}`)), hashBody([]byte(`{"a":1}`)))
	assert.NotEqual(t, hashBody([]byte(`{"a":1}`)), hashBody([]byte(`{"a":2}`)))
	assert.Len(t, hashBody([]byte("plain text")), 64)
}
