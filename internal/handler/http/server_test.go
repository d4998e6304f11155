package http

import (
	"WordsToLink-Backend/internal/analytics"
	"WordsToLink-Backend/internal/auth"
	"WordsToLink-Backend/internal/domain"
	"WordsToLink-Backend/internal/pathparser"
	"WordsToLink-Backend/internal/repository"
	"WordsToLink-Backend/internal/service"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockLinkManager struct {
	mock.Mock
}

func (m *MockLinkManager) Create(ctx context.Context, in service.CreateLinkInput) (*domain.Link, error) {
	args := m.Called(ctx, in)
	link, _ := args.Get(0).(*domain.Link)
	return link, args.Error(1)
}

func (m *MockLinkManager) Get(ctx context.Context, ownerID, id int64) (*domain.Link, error) {
	args := m.Called(ctx, ownerID, id)
	link, _ := args.Get(0).(*domain.Link)
	return link, args.Error(1)
}

func (m *MockLinkManager) List(ctx context.Context, ownerID int64) ([]*domain.Link, error) {
	args := m.Called(ctx, ownerID)
	links, _ := args.Get(0).([]*domain.Link)
	return links, args.Error(1)
}

func (m *MockLinkManager) SetActive(ctx context.Context, ownerID, id int64, active bool) (*domain.Link, error) {
	args := m.Called(ctx, ownerID, id, active)
	link, _ := args.Get(0).(*domain.Link)
	return link, args.Error(1)
}

func (m *MockLinkManager) Update(ctx context.Context, ownerID, id int64, upd repository.LinkUpdate) (*domain.Link, error) {
	args := m.Called(ctx, ownerID, id, upd)
	link, _ := args.Get(0).(*domain.Link)
	return link, args.Error(1)
}

func (m *MockLinkManager) ClaimIdentifier(ctx context.Context, ownerID int64, name string) (*domain.Identifier, error) {
	args := m.Called(ctx, ownerID, name)
	identifier, _ := args.Get(0).(*domain.Identifier)
	return identifier, args.Error(1)
}

func (m *MockLinkManager) Analytics(ctx context.Context, ownerID, id int64, period domain.Period) (*domain.AnalyticsReport, error) {
	args := m.Called(ctx, ownerID, id, period)
	report, _ := args.Get(0).(*domain.AnalyticsReport)
	return report, args.Error(1)
}

type MockRedirecter struct {
	mock.Mock
}

func (m *MockRedirecter) Redirect(ctx context.Context, rawPath string, raw *domain.RawVisit) (string, error) {
	args := m.Called(ctx, rawPath, raw)
	return args.String(0), args.Error(1)
}

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type staticStats analytics.Stats

func (s staticStats) GetStats() analytics.Stats { return analytics.Stats(s) }

type staticTokens struct{}

func (staticTokens) ValidateToken(token string) (*auth.Claims, error) {
	if token == "good" {
		return &auth.Claims{UserID: 7}, nil
	}
	return nil, auth.ErrInvalidToken
}

type testServer struct {
	links     *MockLinkManager
	redirects *MockRedirecter
	storage   *MockPinger
	handler   http.Handler
}

func newTestServer(t *testing.T, stats analytics.Stats) *testServer {
	t.Helper()
	ts := &testServer{
		links:     new(MockLinkManager),
		redirects: new(MockRedirecter),
		storage:   new(MockPinger),
	}
	log := zap.NewNop()
	srv := NewServer(ts.links, ts.redirects, ts.storage, staticStats(stats),
		auth.NewMiddleware(staticTokens{}, log), log,
		Options{BaseURL: "https://wordsto.link/", AllowedOrigins: []string{"https://app.wordsto.link"}, Version: "test"})
	ts.handler = srv.SetupRoutes()
	t.Cleanup(func() {
		ts.links.AssertExpectations(t)
		ts.redirects.AssertExpectations(t)
		ts.storage.AssertExpectations(t)
	})
	return ts
}

func (ts *testServer) do(method, path, body string, authed bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer good")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func sampleLink() *domain.Link {
	acme := "acme"
	return &domain.Link{
		ID:             42,
		OwnerID:        7,
		Identifier:     &acme,
		Keywords:       []string{"spring", "sale"},
		DestinationURL: "https://shop.example.com/spring",
		IsActive:       true,
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRedirect(t *testing.T) {
	t.Run("live link redirects with 302", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.redirects.On("Redirect", mock.Anything, "/acme/spring-sale", mock.MatchedBy(func(raw *domain.RawVisit) bool {
			return raw.ClientIP == "203.0.113.9" &&
				raw.UserAgent == "Mozilla/5.0" &&
				raw.Referrer == "https://twitter.com/acme" &&
				raw.Query["utm_source"][0] == "newsletter" &&
				!raw.StartedAt.IsZero()
		})).Return("https://shop.example.com/spring", nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/acme/spring-sale?utm_source=newsletter", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("Referer", "https://twitter.com/acme")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://shop.example.com/spring", rec.Header().Get("Location"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})

	t.Run("malformed and unknown paths look the same", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.redirects.On("Redirect", mock.Anything, "/a/b/c/d/e/f/g", mock.Anything).
			Return("", fmt.Errorf("%w: too many segments", pathparser.ErrMalformedPath)).Once()
		ts.redirects.On("Redirect", mock.Anything, "/nothing-here", mock.Anything).
			Return("", repository.ErrNotFound).Once()

		malformed := ts.do(http.MethodGet, "/a/b/c/d/e/f/g", "", false)
		missing := ts.do(http.MethodGet, "/nothing-here", "", false)

		assert.Equal(t, http.StatusNotFound, malformed.Code)
		assert.Equal(t, http.StatusNotFound, missing.Code)
		assert.Equal(t, malformed.Body.String(), missing.Body.String())
	})

	t.Run("storage failure is a 500", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.redirects.On("Redirect", mock.Anything, "/promo", mock.Anything).
			Return("", errors.New("connection refused")).Once()

		rec := ts.do(http.MethodGet, "/promo", "", false)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown api routes never reach the redirector", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})

		rec := ts.do(http.MethodGet, "/api/nope", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		ts.redirects.AssertNotCalled(t, "Redirect", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestExtractIPAddress(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded for first hop", headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"}, remote: "10.0.0.2:1234", want: "198.51.100.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 198.51.100.2 "}, remote: "10.0.0.2:1234", want: "198.51.100.2"},
		{name: "client ip", headers: map[string]string{"X-Client-IP": "198.51.100.3"}, remote: "10.0.0.2:1234", want: "198.51.100.3"},
		{name: "remote addr", remote: "192.0.2.10:5555", want: "192.0.2.10"},
		{name: "remote addr without port", remote: "192.0.2.11", want: "192.0.2.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractIPAddress(req))
		})
	}
}

func TestCreateLink(t *testing.T) {
	const body = `{"identifier":"acme","keywords":["spring","sale"],"destination_url":"https://shop.example.com/spring","title":"Spring"}`

	t.Run("requires a token", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		rec := ts.do(http.MethodPost, "/api/links", body, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("created", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("Create", mock.Anything, mock.MatchedBy(func(in service.CreateLinkInput) bool {
			return in.OwnerID == 7 &&
				in.Identifier != nil && *in.Identifier == "acme" &&
				assert.ObjectsAreEqual([]string{"spring", "sale"}, in.Keywords) &&
				in.Title != nil && *in.Title == "Spring" &&
				in.Description == nil
		})).Return(sampleLink(), nil).Once()

		rec := ts.do(http.MethodPost, "/api/links", body, true)
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp map[string]any
		decodeBody(t, rec, &resp)
		assert.Equal(t, "acme/spring/sale", resp["path"])
		assert.Equal(t, "https://wordsto.link/acme/spring/sale", resp["short_url"])
		assert.EqualValues(t, 42, resp["id"])
	})

	t.Run("validation errors are reported per field", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		rec := ts.do(http.MethodPost, "/api/links", `{"keywords":[]}`, true)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "Validation failed", resp.Error)
		assert.NotEmpty(t, resp.Details)
		ts.links.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("too many keywords", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		rec := ts.do(http.MethodPost, "/api/links",
			`{"keywords":["a","b","c","d","e","f"],"destination_url":"https://example.com"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		req := httptest.NewRequest(http.MethodPost, "/api/links", http.NoBody)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "Empty request body", resp.Error)
	})

	errorCases := []struct {
		name string
		err  error
		code int
	}{
		{name: "duplicate path", err: repository.ErrDuplicatePath, code: http.StatusConflict},
		{name: "quota", err: fmt.Errorf("%w: at most 3 keywords allowed", service.ErrQuotaExceeded), code: http.StatusForbidden},
		{name: "identifier not owned", err: service.ErrForbidden, code: http.StatusForbidden},
		{name: "unknown identifier", err: repository.ErrIdentifierNotFound, code: http.StatusNotFound},
		{name: "invalid input", err: fmt.Errorf("%w: bad keyword", service.ErrInvalidInput), code: http.StatusBadRequest},
		{name: "unexpected", err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, analytics.Stats{})
			ts.links.On("Create", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			rec := ts.do(http.MethodPost, "/api/links", body, true)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestLinkRoutes(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("List", mock.Anything, int64(7)).Return([]*domain.Link{sampleLink()}, nil).Once()

		rec := ts.do(http.MethodGet, "/api/links", "", true)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Links []map[string]any `json:"links"`
		}
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Links, 1)
		assert.Equal(t, "acme/spring/sale", resp.Links[0]["path"])
	})

	t.Run("list empty is an empty array", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("List", mock.Anything, int64(7)).Return([]*domain.Link{}, nil).Once()

		rec := ts.do(http.MethodGet, "/api/links", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"links":[]}`, rec.Body.String())
	})

	t.Run("get", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("Get", mock.Anything, int64(7), int64(42)).Return(sampleLink(), nil).Once()

		rec := ts.do(http.MethodGet, "/api/links/42", "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("get with bad id", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		rec := ts.do(http.MethodGet, "/api/links/abc", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get missing", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("Get", mock.Anything, int64(7), int64(9)).Return(nil, repository.ErrNotFound).Once()

		rec := ts.do(http.MethodGet, "/api/links/9", "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("patch", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("Update", mock.Anything, int64(7), int64(42), mock.MatchedBy(func(upd repository.LinkUpdate) bool {
			return upd.Title != nil && *upd.Title == "Renamed" && upd.DestinationURL == nil && upd.ClearExpiry
		})).Return(sampleLink(), nil).Once()

		rec := ts.do(http.MethodPatch, "/api/links/42", `{"title":"Renamed","clear_expiry":true}`, true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("patch rejects a bad url", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		rec := ts.do(http.MethodPatch, "/api/links/42", `{"destination_url":"not a url"}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("activate and deactivate", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		inactive := sampleLink()
		inactive.IsActive = false
		ts.links.On("SetActive", mock.Anything, int64(7), int64(42), false).Return(inactive, nil).Once()
		ts.links.On("SetActive", mock.Anything, int64(7), int64(42), true).Return(sampleLink(), nil).Once()

		rec := ts.do(http.MethodPost, "/api/links/42/deactivate", "", true)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		decodeBody(t, rec, &resp)
		assert.Equal(t, false, resp["is_active"])

		rec = ts.do(http.MethodPost, "/api/links/42/activate", "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("another owner's link", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("SetActive", mock.Anything, int64(7), int64(43), false).Return(nil, service.ErrForbidden).Once()

		rec := ts.do(http.MethodPost, "/api/links/43/deactivate", "", true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAnalyticsRoute(t *testing.T) {
	t.Run("defaults to seven days", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("Analytics", mock.Anything, int64(7), int64(42), domain.Period7d).
			Return(&domain.AnalyticsReport{LinkID: 42, Period: domain.Period7d, Granularity: domain.GranularityDay}, nil).Once()

		rec := ts.do(http.MethodGet, "/api/links/42/analytics", "", true)
		require.Equal(t, http.StatusOK, rec.Code)

		var report domain.AnalyticsReport
		decodeBody(t, rec, &report)
		assert.Equal(t, domain.GranularityDay, report.Granularity)
	})

	t.Run("explicit period", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("Analytics", mock.Anything, int64(7), int64(42), domain.Period24h).
			Return(&domain.AnalyticsReport{LinkID: 42, Period: domain.Period24h}, nil).Once()

		rec := ts.do(http.MethodGet, "/api/links/42/analytics?period=24h", "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unsupported period", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		rec := ts.do(http.MethodGet, "/api/links/42/analytics?period=2w", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("aggregation failure is retryable", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("Analytics", mock.Anything, int64(7), int64(42), domain.Period30d).
			Return(nil, fmt.Errorf("%w: %w", analytics.ErrAggregationFailure, errors.New("timeout"))).Once()

		rec := ts.do(http.MethodGet, "/api/links/42/analytics?period=30d", "", true)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})
}

func TestClaimIdentifier(t *testing.T) {
	t.Run("claimed", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("ClaimIdentifier", mock.Anything, int64(7), "acme").
			Return(&domain.Identifier{Name: "acme", OwnerID: 7}, nil).Once()

		rec := ts.do(http.MethodPost, "/api/identifiers", `{"name":"acme"}`, true)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("taken", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		ts.links.On("ClaimIdentifier", mock.Anything, int64(7), "acme").
			Return(nil, repository.ErrIdentifierTaken).Once()

		rec := ts.do(http.MethodPost, "/api/identifiers", `{"name":"acme"}`, true)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("name required", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})
		rec := ts.do(http.MethodPost, "/api/identifiers", `{}`, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestOperationalRoutes(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{Started: true})
		ts.storage.On("Ping", mock.Anything).Return(nil).Once()

		rec := ts.do(http.MethodGet, "/health", "", false)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "test", resp.Version)
	})

	t.Run("unhealthy", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{Started: true})
		ts.storage.On("Ping", mock.Anything).Return(errors.New("db down")).Once()

		rec := ts.do(http.MethodGet, "/health", "", false)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp HealthResponse
		decodeBody(t, rec, &resp)
		assert.Equal(t, "unhealthy", resp.DatabaseStatus)
	})

	t.Run("ready follows the processor", func(t *testing.T) {
		ready := newTestServer(t, analytics.Stats{Started: true})
		assert.Equal(t, http.StatusOK, ready.do(http.MethodGet, "/ready", "", false).Code)

		notReady := newTestServer(t, analytics.Stats{})
		assert.Equal(t, http.StatusServiceUnavailable, notReady.do(http.MethodGet, "/ready", "", false).Code)
	})

	t.Run("metrics expose processor counters", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{Started: true, Processed: 12, Dropped: 1, QueueLength: 3})

		rec := ts.do(http.MethodGet, "/metrics", "", false)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp MetricsResponse
		decodeBody(t, rec, &resp)
		assert.EqualValues(t, 12, resp.Processor.Processed)
		assert.EqualValues(t, 1, resp.Processor.Dropped)
		assert.Equal(t, 3, resp.Processor.QueueLength)
	})

	t.Run("openapi document", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})

		rec := ts.do(http.MethodGet, "/api/docs/openapi.json", "", false)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var doc map[string]any
		decodeBody(t, rec, &doc)
		assert.Equal(t, "3.0.3", doc["openapi"])
	})

	t.Run("cors preflight", func(t *testing.T) {
		ts := newTestServer(t, analytics.Stats{})

		req := httptest.NewRequest(http.MethodOptions, "/api/links", nil)
		req.Header.Set("Origin", "https://app.wordsto.link")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		assert.Equal(t, "https://app.wordsto.link", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
