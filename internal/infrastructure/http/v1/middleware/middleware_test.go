package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/core/apperror"
	appctx "storefront/internal/core/context"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/infrastructure/storage/postgres"
)

var (
	tenantA = id.MustParse("0190a000-0000-7000-8000-00000000000a")
	tenantB = id.MustParse("0190a000-0000-7000-8000-00000000000b")
	userA   = id.MustParse("0190a000-0000-7000-8000-0000000000a1")
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeValidator map[string]*appctx.UserContext

func (v fakeValidator) ValidateToken(token string) (*appctx.UserContext, error) {
	if u, ok := v[token]; ok {
		return u, nil
	}
	return nil, errors.New("bad token")
}

var validator = fakeValidator{
	"regular":    {UserID: userA.String(), TenantID: tenantA.String(), Roles: []string{"manager"}},
	"admin":      {UserID: userA.String(), Roles: []string{"superadmin"}, Privileged: true},
	"no-tenant":  {UserID: userA.String()},
	"bad-tenant": {UserID: userA.String(), TenantID: "nope"},
}

// newEngine wires ErrorHandler and Auth in front of handler.
func newEngine(handler gin.HandlerFunc, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Trace(), ErrorHandler(), Auth(validator))
	r.Use(extra...)
	r.Any("/stock", handler)
	return r
}

func do(r http.Handler, method, token string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/stock", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func captureScope(out *tenant.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		*out, _ = tenant.FromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	}
}

func TestAuth_Rejections(t *testing.T) {
	r := newEngine(func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tests := []struct {
		name    string
		auth    string
		headers map[string]string
		status  int
		code    string
	}{
		{"missing header", "", nil, http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"invalid token", "forged", nil, http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"malformed tenant claim", "bad-tenant", nil, http.StatusUnauthorized, apperror.CodeUnauthorized},
		{"other tenant header", "regular", map[string]string{TenantHeader: tenantB.String()}, http.StatusForbidden, apperror.CodeForbidden},
		{"malformed tenant header", "admin", map[string]string{TenantHeader: "xyz"}, http.StatusBadRequest, apperror.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.auth, tt.headers, "")
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/stock", nil)
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ResolvesScope(t *testing.T) {
	var scope tenant.Scope
	r := newEngine(captureScope(&scope))

	w := do(r, http.MethodGet, "regular", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, tenantA, scope.TenantID)
	assert.False(t, scope.Privileged)
	require.NotNil(t, scope.ActorID)
	assert.Equal(t, userA, *scope.ActorID)

	// Same tenant named explicitly is fine.
	w = do(r, http.MethodGet, "regular", map[string]string{TenantHeader: tenantA.String()}, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "admin", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, scope.Privileged)
	assert.False(t, scope.HasTenant())

	w = do(r, http.MethodGet, "admin", map[string]string{TenantHeader: tenantB.String()}, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, tenantB, scope.TenantID)

	w = do(r, http.MethodGet, "no-tenant", nil, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, scope.HasTenant())
	assert.False(t, scope.Privileged)
}

func TestTrace_EchoesAndGeneratesIDs(t *testing.T) {
	r := gin.New()
	r.Use(Trace())
	r.GET("/stock", func(c *gin.Context) {
		assert.Equal(t, "req-1", appctx.GetRequestID(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	w := do(r, http.MethodGet, "", map[string]string{HeaderRequestID: "req-1"}, "")
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
}

func TestRecovery_ReturnsInternalError(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(), Recovery())
	r.GET("/stock", func(c *gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), apperror.CodeInternal)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestRecovery_OutermostWritesEnvelope(t *testing.T) {
	store := newMemIdempotency()
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler(), Auth(validator), Idempotency(store))
	r.POST("/stock", func(c *gin.Context) { panic("boom") })

	key := map[string]string{HeaderIdempotencyKey: "k-panic", HeaderRequestID: "req-9"}
	w := do(r, http.MethodPost, "regular", key, "{}")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), apperror.CodeInternal)
	assert.Contains(t, w.Body.String(), "req-9")
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Equal(t, 1, store.released)
}

func TestRecovery_KeepsPartialResponse(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(), Recovery())
	r.GET("/stock", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := do(r, http.MethodGet, "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(), Recovery())
	r.GET("/stock", func(c *gin.Context) { panic(http.ErrAbortHandler) })

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		do(r, http.MethodGet, "", nil, "")
	})
}

func TestRateLimit(t *testing.T) {
	instance, err := NewRateLimiter("2-M")
	require.NoError(t, err)
	r := newEngine(func(c *gin.Context) { c.Status(http.StatusNoContent) }, RateLimit(instance))

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "regular", nil, "").Code)
	w := do(r, http.MethodPost, "regular", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do(r, http.MethodPost, "regular", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), apperror.CodeRateLimited)

	// Other callers have their own budget.
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "admin", nil, "").Code)

	_, err = NewRateLimiter("lots")
	assert.Error(t, err)
}

// memIdempotency is an in-memory IdempotencyStore.
type memIdempotency struct {
	mu       sync.Mutex
	records  map[string]*memRecord
	released int
}

type memRecord struct {
	hash   string
	done   bool
	replay postgres.IdempotencyReplay
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{records: map[string]*memRecord{}}
}

func (s *memIdempotency) k(clientID id.ID, key string) string { return clientID.String() + "/" + key }

func (s *memIdempotency) AcquireKey(_ context.Context, req postgres.IdempotencyRequest) (*postgres.IdempotencyReplay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[s.k(req.ClientID, req.Key)]
	if !ok {
		s.records[s.k(req.ClientID, req.Key)] = &memRecord{hash: req.RequestHash}
		return nil, nil
	}
	if rec.hash != req.RequestHash {
		return nil, apperror.NewIdempotencyMismatch(req.Key)
	}
	if !rec.done {
		return nil, apperror.NewIdempotencyConflict(req.Key)
	}
	replay := rec.replay
	return &replay, nil
}

func (s *memIdempotency) finish(clientID id.ID, key string, status int, ct string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.records[s.k(clientID, key)]
	rec.done = true
	rec.replay = postgres.IdempotencyReplay{StatusCode: status, ContentType: ct, Body: append([]byte(nil), body...)}
	return nil
}

func (s *memIdempotency) CompleteKey(_ context.Context, clientID id.ID, key string, status int, ct string, body []byte) error {
	return s.finish(clientID, key, status, ct, body)
}

func (s *memIdempotency) FailKey(_ context.Context, clientID id.ID, key string, status int, ct string, body []byte) error {
	return s.finish(clientID, key, status, ct, body)
}

func (s *memIdempotency) ReleaseKey(_ context.Context, clientID id.ID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, s.k(clientID, key))
	s.released++
	return nil
}

func TestIdempotency_ReplaysSuccess(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	r := newEngine(func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	}, Idempotency(store))

	key := map[string]string{HeaderIdempotencyKey: "k1"}
	first := do(r, http.MethodPost, "regular", key, `{"q":1}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := do(r, http.MethodPost, "regular", key, `{"q":1}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)

	// Same key, different body.
	w := do(r, http.MethodPost, "regular", key, `{"q":2}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, calls)

	// Without a key nothing is cached; GETs are never intercepted.
	do(r, http.MethodPost, "regular", nil, `{"q":1}`)
	do(r, http.MethodGet, "regular", key, "")
	assert.Equal(t, 3, calls)
}

func TestIdempotency_SettlesFailures(t *testing.T) {
	store := newMemIdempotency()
	var fail error
	calls := 0
	r := newEngine(func(c *gin.Context) {
		calls++
		_ = c.Error(fail)
		c.Abort()
	}, Idempotency(store))

	// Business failures are cached.
	fail = apperror.NewInsufficientStock("product", tenantA.String(), 1, -5)
	key := map[string]string{HeaderIdempotencyKey: "k-fail"}
	first := do(r, http.MethodPost, "regular", key, "{}")
	require.Equal(t, http.StatusConflict, first.Code)
	second := do(r, http.MethodPost, "regular", key, "{}")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	// Transient failures release the key.
	fail = apperror.NewSerializationFailure(errors.New("40001"))
	key = map[string]string{HeaderIdempotencyKey: "k-retry"}
	do(r, http.MethodPost, "regular", key, "{}")
	do(r, http.MethodPost, "regular", key, "{}")
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, store.released)
}

func TestIdempotency_KeysArePerTenant(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	r := newEngine(func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{})
	}, Idempotency(store))

	key := map[string]string{HeaderIdempotencyKey: "shared"}
	do(r, http.MethodPost, "regular", key, "{}")
	do(r, http.MethodPost, "admin", map[string]string{HeaderIdempotencyKey: "shared", TenantHeader: tenantB.String()}, "{}")
	assert.Equal(t, 2, calls)
}
