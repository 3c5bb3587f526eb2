package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/BugReportConstructor/internal/auth"
	"github.com/Corphon/BugReportConstructor/internal/events"
	"github.com/Corphon/BugReportConstructor/internal/models"
	"github.com/Corphon/BugReportConstructor/internal/services"
	"github.com/Corphon/BugReportConstructor/internal/storage"
	"github.com/Corphon/BugReportConstructor/internal/utils"
)

type testServer struct {
	router *gin.Engine
	bag    storage.PropertyBag
	hub    *DocumentHub
}

func newTestServer(t *testing.T, mutate ...func(*RouterConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bag, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	metrics := utils.NewMetrics()
	hub := NewDocumentHub(nil, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	locks := services.NewLockManager()
	opts := []services.DocumentOption{
		services.WithLockManager(locks),
		services.WithPublisher(events.Multi{hub}),
		services.WithMetrics(metrics),
	}
	blocks := services.NewDocumentService(bag, models.SavedBlocksDocument, opts...)
	formats := services.NewDocumentService(bag, models.OutputFormatsDocument, opts...)

	cfg := RouterConfig{
		Handler:            NewHandler(blocks, formats, services.NewRenderService(formats), hub, nil),
		Metrics:            metrics,
		RateLimitPerMinute: 1000,
		DebugMode:          true,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return &testServer{router: SetupRouter(cfg), bag: bag, hub: hub}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestSavedBlocks_DefaultDocument(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":[],"preconditions":[],"steps":[]}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/output-formats", "", UserIDHeader, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"activeFormat":"markdown_default","formats":[]}`, rec.Body.String())
}

func TestSavedBlocks_PostEchoAndScope(t *testing.T) {
	s := newTestServer(t)
	body := `{"summary":["Crash on save"],"preconditions":["Logged in"],"steps":["Open","Save"]}`

	rec := s.do(http.MethodPost, "/api/saved-blocks", body, UserIDHeader, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, body, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "alice")
	assert.JSONEq(t, body, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "bob")
	assert.JSONEq(t, `{"summary":[],"preconditions":[],"steps":[]}`, rec.Body.String())
}

func TestDocuments_ErrorsAreStatus200(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		path string
		body string
	}{
		{"/api/saved-blocks", `{"summary":[]}`},
		{"/api/saved-blocks", `not json`},
		{"/api/saved-blocks", `{"summaryChunks":[],"preconditions":"","steps":[],"additionalInfo":""}`},
		{"/api/output-formats", `{"activeFormat":1,"formats":[]}`},
		{"/api/output-formats", `{"activeFormat":"a","formats":[{"id":"a","name":"A"}]}`},
	}
	for _, tc := range cases {
		rec := s.do(http.MethodPost, tc.path, tc.body, UserIDHeader, "alice")
		require.Equal(t, http.StatusOK, rec.Code, tc.body)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["error"], tc.body)
	}

	_, found, err := s.bag.GetProperty(context.Background(), "alice", models.SavedBlocksKey)
	require.NoError(t, err)
	assert.False(t, found, "rejected bodies are never written")
}

func TestDocuments_StoredValueProblems(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.bag.SetProperty(ctx, "alice", models.SavedBlocksKey, "{broken"))
	rec := s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "alice")
	assert.JSONEq(t, `{"error":"stored document is not valid JSON"}`, rec.Body.String())

	require.NoError(t, s.bag.SetProperty(ctx, "alice", models.OutputFormatsKey, `{"activeFormat":"x"}`))
	rec = s.do(http.MethodGet, "/api/output-formats", "", UserIDHeader, "alice")
	assert.JSONEq(t, `{"error":"output formats field \"formats\" must be an array"}`, rec.Body.String())

	require.NoError(t, s.bag.SetProperty(ctx, "bob", models.SavedBlocksKey,
		`{"summaryChunks":["a"],"preconditions":" x\n y ","steps":[],"additionalInfo":""}`))
	rec = s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "bob")
	assert.JSONEq(t, `{"summary":["a"],"preconditions":["x y"],"steps":[]}`, rec.Body.String())
}

func TestUserScope_TrustedHost(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "../etc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := `{"summary":["d"],"preconditions":[],"steps":[]}`
	rec = s.do(http.MethodPost, "/api/saved-blocks", body, UserIDHeader, "dave")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/saved-blocks?user_id=dave", "")
	assert.JSONEq(t, body, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/saved-blocks", "")
	assert.JSONEq(t, `{"summary":[],"preconditions":[],"steps":[]}`, rec.Body.String(), "guest user")
}

func TestUserScope_TokenRequired(t *testing.T) {
	tokens := auth.NewTokenConfig("secret", time.Hour)
	s := newTestServer(t, func(cfg *RouterConfig) { cfg.TokenConfig = tokens })

	rec := s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "mallory")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the header alone does not pick a user")

	rec = s.do(http.MethodGet, "/api/saved-blocks?user_id=mallory", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/saved-blocks", "", "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := auth.GenerateToken("carol", tokens)
	require.NoError(t, err)
	body := `{"summary":["c"],"preconditions":[],"steps":[]}`
	rec = s.do(http.MethodPost, "/api/saved-blocks", body, "Authorization", "Bearer "+token, UserIDHeader, "mallory")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/saved-blocks", "", "Authorization", "Bearer "+token)
	assert.JSONEq(t, body, rec.Body.String())

	mallory, err := auth.GenerateToken("mallory", tokens)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/api/saved-blocks", "", "Authorization", "Bearer "+mallory)
	assert.JSONEq(t, `{"summary":[],"preconditions":[],"steps":[]}`, rec.Body.String(), "the header did not write as mallory")
}

func TestRenderEndpoint(t *testing.T) {
	s := newTestServer(t)
	formats := `{"activeFormat":"short","formats":[{"id":"short","name":"Short","template":"{{summary}} | {{steps_numbered}} | {{unknown}}"}]}`
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/output-formats", formats, UserIDHeader, "alice").Code)

	rec := s.do(http.MethodPost, "/api/render", `{"draft":{"summary":"S","steps":["x"]}}`, UserIDHeader, "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool
		Data    services.RenderResult
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "short", resp.Data.FormatID)
	assert.Equal(t, "S | 1. x |\n", resp.Data.Text)

	rec = s.do(http.MethodPost, "/api/render", `{"format_id":"missing","draft":{}}`, UserIDHeader, "alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/render", `[`, UserIDHeader, "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFieldsAndPlaceholders(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/fields", `{"template":"## Repro\n{{steps}}"}`, UserIDHeader, "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var fields struct {
		Data models.AdaptiveFieldConfig
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	assert.Equal(t, models.FieldState{Visible: true, Label: "Repro"}, fields.Data[models.FieldSteps])
	assert.False(t, fields.Data[models.FieldActual].Visible)

	rec = s.do(http.MethodGet, "/api/placeholders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "steps_numbered")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "alice")

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)

	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `brc_document_reads_total{document="saved-blocks",outcome="default"} 1`)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *RouterConfig) { cfg.RateLimitPerMinute = 2 })

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "alice").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "alice").Code)
	rec := s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/saved-blocks", "", UserIDHeader, "bob").Code)
}

func TestDocumentsWebSocket_ReceivesSavedEvents(t *testing.T) {
	s := newTestServer(t)
	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/documents?user_id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "connected", welcome["type"])

	require.Eventually(t, func() bool { return s.hub.ClientCount("alice") == 1 }, 2*time.Second, 10*time.Millisecond)

	body := `{"summary":["x"],"preconditions":[],"steps":[]}`
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/saved-blocks", body, UserIDHeader, "alice").Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/saved-blocks", body, UserIDHeader, "bob").Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event events.DocumentEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, events.TypeDocumentSaved, event.Type)
	assert.Equal(t, "alice", event.UserID)
	assert.Equal(t, "saved-blocks", event.Document)
	assert.JSONEq(t, body, string(event.Payload))
}
