package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piimask/internal/audit"
	"piimask/internal/classifier"
	"piimask/internal/detect"
	"piimask/internal/metrics"
	"piimask/internal/sanitizer"
	"piimask/internal/stats"
)

// stubNER reports every occurrence of its names as full_name.
type stubNER struct {
	names []string
}

func (s stubNER) Detect(_ context.Context, text string) ([]detect.Entity, error) {
	var out []detect.Entity
	for _, n := range s.names {
		if i := strings.Index(text, n); i >= 0 {
			out = append(out, detect.Entity{
				Classification: detect.FullNameClassification,
				Start:          i, End: i + len(n), Text: n, Score: 0.99, Source: detect.SourceNER,
			})
		}
	}
	return out, nil
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (classifier.Category, error) {
	return "", context.DeadlineExceeded
}

type testEnv struct {
	handler   http.Handler
	metrics   *metrics.Metrics
	auditPath string
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	m := metrics.New()
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	al, err := audit.NewJSONLLogger(auditPath)
	require.NoError(t, err)

	collector := &detect.Collector{
		Patterns: detect.MustDefaultPatternDetector(),
		NER:      stubNER{names: []string{"Priya Sharma"}},
		Config:   detect.CollectorConfig{NEREnabled: true, MinScore: 0.5},
	}
	san := sanitizer.New(collector, sanitizer.WithObserver(m))
	base := []Option{WithMetrics(m), WithAudit(al, auditPath), WithTraceSampleRate(0)}
	srv := New(san, append(base, opts...)...)
	return testEnv{handler: srv.Routes(), metrics: m, auditPath: auditPath}
}

func (e testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestClassifyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	body := `{"email_body":"Hi, I am Priya Sharma, mail priya@example.com. The portal is down since morning."}`
	rec := env.do(t, http.MethodPost, "/classify", body, RequestIDHeader, "req-123")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.ElementsMatch(t,
		[]string{"input_email_body", "list_of_masked_entities", "masked_email", "category_of_the_email"},
		keys(out))

	var resp classifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hi, I am [full_name], mail [email]. The portal is down since morning.", resp.MaskedEmail)
	assert.Equal(t, string(classifier.Incident), resp.CategoryOfTheEmail)
	require.Len(t, resp.ListOfMaskedEntities, 2)
	assert.Equal(t, maskedEntity{Position: [2]int{9, 21}, Classification: "full_name", Entity: "Priya Sharma"}, resp.ListOfMaskedEntities[0])
	assert.Equal(t, "email", resp.ListOfMaskedEntities[1].Classification)
	assert.Equal(t, "priya@example.com", resp.ListOfMaskedEntities[1].Entity)

	entries, err := audit.ParseFile(env.auditPath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-123", entries[0].RequestID)
	assert.Equal(t, "Incident", entries[0].Category)
	assert.Len(t, entries[0].MaskedItems, 2)
	raw, err := json.Marshal(entries[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "priya@example.com")

	metricsBody := env.do(t, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, metricsBody, `piimask_requests_total{endpoint="/classify",status="200"} 1`)
	assert.Contains(t, metricsBody, `piimask_entities_masked_total{classification="email"} 1`)
}

func TestClassifyPositionsCountCodePoints(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/classify", `{"email_body":"José: a@b.com, née ü x@y.org"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp classifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.ListOfMaskedEntities, 2)

	runes := []rune(resp.InputEmailBody)
	for _, e := range resp.ListOfMaskedEntities {
		assert.Equal(t, "email", e.Classification)
		assert.Equal(t, e.Entity, string(runes[e.Position[0]:e.Position[1]]))
	}
	assert.Equal(t, [2]int{6, 13}, resp.ListOfMaskedEntities[0].Position)
	assert.Equal(t, [2]int{21, 28}, resp.ListOfMaskedEntities[1].Position)
}

func TestMaskEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mask", `{"text":"Contact me at a@b.com today"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		InputText  string          `json:"input_text"`
		Spans      []detect.Entity `json:"reconciled_spans"`
		MaskedText string          `json:"masked_text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Contact me at [email] today", res.MaskedText)
	require.Len(t, res.Spans, 1)
	assert.Equal(t, 14, res.Spans[0].Start)
	assert.Equal(t, 21, res.Spans[0].End)
}

func TestMaskEndpointEmptyText(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mask", `{"text":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"input_text":"","reconciled_spans":[],"masked_text":""}`, rec.Body.String())
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "empty body", path: "/v1/mask", body: ""},
		{name: "bad json", path: "/v1/mask", body: `{"text":`},
		{name: "missing text", path: "/v1/mask", body: `{"other":"x"}`},
		{name: "missing email body", path: "/classify", body: `{"text":"x"}`},
		{name: "wrong type", path: "/classify", body: `{"email_body":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var out map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			assert.Equal(t, "invalid_request", out["error"])
			assert.NotEmpty(t, out["message"])
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, WithMaxBodyBytes(16))
	rec := env.do(t, http.MethodPost, "/v1/mask", `{"text":"this body is longer than sixteen bytes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifierFailure(t *testing.T) {
	env := newTestEnv(t, WithClassifier(failingClassifier{}))
	rec := env.do(t, http.MethodPost, "/classify", `{"email_body":"hello there"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "classify_failed", out["error"])
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/v1/mask", `{"text":"mail a@b.com"}`)
	env.do(t, http.MethodPost, "/v1/mask", `not json`)

	rec := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st stats.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 2, st.Requests.Total)
	assert.Equal(t, 1, st.Requests.Failed)
	assert.Equal(t, map[string]int{"email": 1}, st.MaskedItems.ByType)
}

func TestGeneratedRequestIDIsUnique(t *testing.T) {
	env := newTestEnv(t)
	a := env.do(t, http.MethodGet, "/health", "").Header().Get(RequestIDHeader)
	b := env.do(t, http.MethodGet, "/health", "").Header().Get(RequestIDHeader)
	assert.NotEqual(t, a, b)
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
