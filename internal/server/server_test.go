package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-gateway/internal/config"
	"github.com/shineum/mail-gateway/internal/email"
)

const testAPIKey = "test-api-key"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeProvider records requests and returns a scripted result.
type fakeProvider struct {
	mu       sync.Mutex
	result   email.Result
	panicMsg string
	requests []email.Request
	ctxErr   error
}

func (f *fakeProvider) Send(ctx context.Context, req email.Request) email.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.requests = append(f.requests, req)
	f.ctxErr = ctx.Err()
	return f.result
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestConfig(t *testing.T, overrides map[string]string) *config.Config {
	t.Helper()
	environ := map[string]string{
		"EMAIL_HOST_USER":     "sender@example.com",
		"EMAIL_HOST_PASSWORD": "smtp-secret",
		"API_KEY":             testAPIKey,
	}
	for k, v := range overrides {
		environ[k] = v
	}
	cfg, err := config.LoadEnviron("", environ)
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, prov *fakeProvider) *Server {
	t.Helper()
	if prov.result.Message == "" {
		prov.result = email.Sent()
	}
	return New(Options{
		Config:   cfg,
		Provider: prov,
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Now:      func() time.Time { return time.Unix(1700000000, 500000000) },
	})
}

type sendOpts struct {
	contentType string
	apiKey      string
	noKey       bool
}

func postSend(t *testing.T, s *Server, body string, o sendOpts) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/enviar-email", strings.NewReader(body))
	ct := o.contentType
	if ct == "" {
		ct = "application/json"
	}
	req.Header.Set("Content-Type", ct)
	if !o.noKey {
		key := o.apiKey
		if key == "" {
			key = testAPIKey
		}
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

const validBody = `{"destinatario":"a@b.com","assunto":"Hi","corpo":"<p>x</p>"}`

func TestSend_Success(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	s := newTestServer(t, newTestConfig(t, nil), prov)

	rec := postSend(t, s, validBody, sendOpts{})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["sucesso"])
	assert.Equal(t, email.MsgSent, body["mensagem"])
	assert.NotContains(t, body, "detalhes")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	require.Equal(t, 1, prov.calls())
	got := prov.requests[0]
	assert.Equal(t, "a@b.com", got.Recipient)
	assert.Equal(t, "Hi", got.Subject)
	assert.Equal(t, "x", got.Body)
	assert.False(t, got.Debug)
}

func TestSend_DeliveryIgnoresClientCancellation(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	s := newTestServer(t, newTestConfig(t, nil), prov)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/enviar-email", strings.NewReader(validBody)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, 1, prov.calls())
	assert.NoError(t, prov.ctxErr)
}

func TestSend_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
		wantMsg     string
	}{
		{
			name:       "missing assunto",
			body:       `{"destinatario":"a@b.com","corpo":"<p>x</p>"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "assunto",
		},
		{
			name:        "text/plain",
			body:        validBody,
			contentType: "text/plain",
			wantStatus:  http.StatusUnsupportedMediaType,
			wantMsg:     "application/json",
		},
		{
			name:       "malformed JSON",
			body:       `{"destinatario":`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "JSON inválido",
		},
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Nenhum dado fornecido",
		},
		{
			name:       "invalid recipient",
			body:       `{"destinatario":"nobody","assunto":"Hi","corpo":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "destinatário inválido",
		},
		{
			name:       "subject too long",
			body:       `{"destinatario":"a@b.com","assunto":"` + strings.Repeat("a", 201) + `","corpo":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Assunto muito longo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prov := &fakeProvider{}
			s := newTestServer(t, newTestConfig(t, nil), prov)

			rec := postSend(t, s, tt.body, sendOpts{contentType: tt.contentType})

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["sucesso"])
			assert.Contains(t, body["mensagem"], tt.wantMsg)
			assert.Zero(t, prov.calls())
		})
	}
}

func TestSend_APIKey(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	s := newTestServer(t, newTestConfig(t, nil), prov)

	rec := postSend(t, s, validBody, sendOpts{noKey: true})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgUnauthorized, decode(t, rec)["mensagem"])

	rec = postSend(t, s, validBody, sendOpts{apiKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Zero(t, prov.calls())
}

func TestSend_NoConfiguredKeyRejectsEverything(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, nil)
	cfg.Service.APIKey = ""
	prov := &fakeProvider{}
	s := newTestServer(t, cfg, prov)

	rec := postSend(t, s, validBody, sendOpts{apiKey: "anything"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, prov.calls())
}

func TestSend_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	t.Run("request ceiling", func(t *testing.T) {
		t.Parallel()

		prov := &fakeProvider{}
		s := newTestServer(t, newTestConfig(t, map[string]string{"MAX_REQUEST_BYTES": "64"}), prov)

		rec := postSend(t, s, `{"destinatario":"a@b.com","assunto":"Hi","corpo":"`+strings.Repeat("x", 100)+`"}`, sendOpts{})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, msgRequestTooLarge, decode(t, rec)["mensagem"])
		assert.Zero(t, prov.calls())
	})

	t.Run("undeclared length", func(t *testing.T) {
		t.Parallel()

		prov := &fakeProvider{}
		s := newTestServer(t, newTestConfig(t, map[string]string{"MAX_REQUEST_BYTES": "64"}), prov)

		req := httptest.NewRequest(http.MethodPost, "/api/enviar-email",
			io.MultiReader(strings.NewReader(`{"corpo":"`), strings.NewReader(strings.Repeat("x", 100)+`"}`)))
		req.ContentLength = -1
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(APIKeyHeader, testAPIKey)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("payload ceiling", func(t *testing.T) {
		t.Parallel()

		prov := &fakeProvider{}
		s := newTestServer(t, newTestConfig(t, map[string]string{"MAX_PAYLOAD_BYTES": "64"}), prov)

		rec := postSend(t, s, `{"destinatario":"a@b.com","assunto":"Hi","corpo":"`+strings.Repeat("x", 100)+`"}`, sendOpts{})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, decode(t, rec)["mensagem"], "Payload muito grande")
	})
}

func TestSend_RateLimited(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	s := newTestServer(t, newTestConfig(t, map[string]string{
		"RATE_LIMIT_REQUESTS": "2",
		"RATE_LIMIT_WINDOW":   "1h",
	}), prov)

	for i := 0; i < 2; i++ {
		rec := postSend(t, s, validBody, sendOpts{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	// Rate limiting runs before the API key check.
	rec := postSend(t, s, validBody, sendOpts{noKey: true})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, msgRateLimited, decode(t, rec)["mensagem"])
	assert.Equal(t, "1800", rec.Header().Get("Retry-After"))
	assert.Equal(t, 2, prov.calls())

	// Other routes are not limited.
	assert.Equal(t, http.StatusOK, get(t, s, "/health").Code)
}

func TestSend_RateLimitIgnoresForwardedFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		proxies    string
		wantStatus []int
	}{
		{
			name:       "no trusted proxies",
			wantStatus: []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests},
		},
		{
			name:       "peer is a trusted proxy",
			proxies:    "192.0.2.0/24",
			wantStatus: []int{http.StatusOK, http.StatusOK, http.StatusOK, http.StatusOK},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := map[string]string{"RATE_LIMIT_REQUESTS": "2", "RATE_LIMIT_WINDOW": "1h"}
			if tt.proxies != "" {
				env["TRUSTED_PROXIES"] = tt.proxies
			}
			s := newTestServer(t, newTestConfig(t, env), &fakeProvider{})

			got := make([]int, 0, len(tt.wantStatus))
			for i := range tt.wantStatus {
				req := httptest.NewRequest(http.MethodPost, "/api/enviar-email", strings.NewReader(validBody))
				req.RemoteAddr = "192.0.2.1:40000"
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set(APIKeyHeader, testAPIKey)
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
				rec := httptest.NewRecorder()
				s.Handler().ServeHTTP(rec, req)
				got = append(got, rec.Code)
			}
			assert.Equal(t, tt.wantStatus, got)
		})
	}
}

func TestSend_FailureDetail(t *testing.T) {
	t.Parallel()

	hard := email.Failed(email.KindConnection, email.MsgConnection, "dial tcp: connection refused")
	partial := email.PartiallyDelivered(map[string]email.Rejection{
		"a@b.com": {Code: 550, Message: "User unknown"},
	})

	tests := []struct {
		name       string
		env        string
		result     email.Result
		wantDetail bool
	}{
		{name: "hard failure in production", env: "production", result: hard, wantDetail: false},
		{name: "hard failure in development", env: "development", result: hard, wantDetail: true},
		{name: "partial delivery in production", env: "production", result: partial, wantDetail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prov := &fakeProvider{result: tt.result}
			s := newTestServer(t, newTestConfig(t, map[string]string{"APP_ENV": tt.env}), prov)

			rec := postSend(t, s, validBody, sendOpts{})

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["sucesso"])
			assert.Equal(t, tt.result.Message, body["mensagem"])
			if tt.wantDetail {
				assert.Contains(t, body, "detalhes")
			} else {
				assert.NotContains(t, body, "detalhes")
			}
		})
	}
}

func TestSend_PartialDeliveryDetailShape(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{result: email.PartiallyDelivered(map[string]email.Rejection{
		"a@b.com": {Code: 550, Message: "User unknown"},
	})}
	s := newTestServer(t, newTestConfig(t, nil), prov)

	rec := postSend(t, s, validBody, sendOpts{})

	body := decode(t, rec)
	assert.Equal(t, map[string]any{
		"a@b.com": map[string]any{"codigo": float64(550), "mensagem": "User unknown"},
	}, body["detalhes"])
}

func TestSend_DebugIsPassedButInert(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	s := newTestServer(t, newTestConfig(t, nil), prov)

	rec := postSend(t, s, `{"destinatario":"a@b.com","assunto":"Hi","corpo":"x","debug":true}`, sendOpts{})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotContains(t, body, "detalhes")
	require.Equal(t, 1, prov.calls())
	assert.True(t, prov.requests[0].Debug)
}

func TestSend_PanicRecovered(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{panicMsg: "boom"}
	s := newTestServer(t, newTestConfig(t, nil), prov)

	rec := postSend(t, s, validBody, sendOpts{})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, msgServerError, body["mensagem"])
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRequestIDEcho(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestConfig(t, nil), &fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestConfig(t, nil), &fakeProvider{})

	rec := get(t, s, "/api/nao-existe")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["sucesso"])
	assert.Equal(t, msgNotFound, body["mensagem"])

	rec = get(t, s, "/api/enviar-email")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, msgMethodNotAllowed, decode(t, rec)["mensagem"])
}

func TestPreflight(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestConfig(t, nil), &fakeProvider{})

	t.Run("cors", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/enviar-email", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type,x-api-key")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("plain", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/enviar-email", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestCORSRestrictedOrigins(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, map[string]string{"CORS_ALLOWED_ORIGINS": "https://app.example.com, example.org"})
	s := newTestServer(t, cfg, &fakeProvider{})

	req := httptest.NewRequest(http.MethodOptions, "/api/enviar-email", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestConfig(t, map[string]string{"LOG_LEVEL": "debug"}), &fakeProvider{})

	for _, path := range []string{"/health", "/api/health"} {
		rec := get(t, s, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "email-service", body["service"])
		assert.Equal(t, "1.0", body["version"])
		assert.Equal(t, "production", body["environment"])
		assert.Equal(t, "fake", body["provider"])
		assert.Equal(t, "smtp.gmail.com", body["smtp_server"])
		assert.Equal(t, true, body["email_configured"])
		assert.Equal(t, float64(5000), body["port"])
		assert.Equal(t, "DEBUG", body["log_level"])
		assert.InDelta(t, 1700000000.5, body["timestamp"], 0.001)
	}
}

func TestHealth_MissingConfiguration(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t, nil)
	cfg.SMTP.Sender = ""
	s := newTestServer(t, cfg, &fakeProvider{})

	rec := get(t, s, "/health")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "email-service", body["service"])
	assert.Contains(t, body["message"], "EMAIL_HOST_USER")
	assert.Contains(t, body, "timestamp")
}

func TestEndpointsAndRoot(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestConfig(t, nil), &fakeProvider{})

	rec := get(t, s, "/api/endpoints")
	require.Equal(t, http.StatusOK, rec.Code)

	var list EndpointList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "Email Service API", list.Service)
	assert.Equal(t, "1.0", list.Version)
	assert.Contains(t, list.Endpoints, Endpoint{
		Route:       "/api/enviar-email",
		Method:      http.MethodPost,
		Description: "Envio de email (requer X-API-KEY)",
	})
	assert.Contains(t, rec.Body.String(), `"rota"`)
	assert.Contains(t, rec.Body.String(), `"método"`)

	rec = get(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	root := decode(t, rec)
	assert.Equal(t, "Email Service API", root["service"])
	assert.Equal(t, "production", root["mode"])
	assert.Contains(t, root["endpoints"], "/api/enviar-email")
}

func TestSchema(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestConfig(t, nil), &fakeProvider{})

	rec := get(t, s, "/api/schema")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.ElementsMatch(t, []any{"destinatario", "assunto", "corpo"}, body["required"])

	props, ok := body["properties"].(map[string]any)
	require.True(t, ok)
	subject, ok := props["assunto"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(200), subject["maxLength"])
	recipient, ok := props["destinatario"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "email", recipient["format"])
}

func TestSwaggerDocs(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newTestConfig(t, nil), &fakeProvider{})

	rec := get(t, s, "/api/docs/doc.json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/enviar-email")

	rec = get(t, s, "/api/docs/index.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("swagger")))
}

func TestCustomPrefix(t *testing.T) {
	t.Parallel()

	prov := &fakeProvider{}
	s := newTestServer(t, newTestConfig(t, map[string]string{"API_PREFIX": "/v1/"}), prov)

	req := httptest.NewRequest(http.MethodPost, "/v1/enviar-email", strings.NewReader(validBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/v1/health").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/health").Code)
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/api", normalizePrefix("/api"))
	assert.Equal(t, "/api", normalizePrefix("api/"))
	assert.Equal(t, "/v1/mail", normalizePrefix(" /v1/mail/ "))
	assert.Equal(t, "", normalizePrefix("/"))
	assert.Equal(t, "", normalizePrefix(""))
}
