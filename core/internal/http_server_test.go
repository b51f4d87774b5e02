package internal

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xKoRx/echo-bridge/core/internal/repository"
	"github.com/xKoRx/echo-bridge/sdk/domain"
)

const (
	testAgentToken = "tok"
	testAdminToken = "admin-secret"
)

type testServer struct {
	srv      *HTTPServer
	queue    *CommandQueue
	registry *LivenessRegistry
	history  *HistoryRecorder
	limiter  *pollLimiter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tel := testTelemetry()
	metrics := NewMetrics()
	history := NewHistoryRecorder(100, nil, tel)
	queue := newTestQueue(t, WithTerminalRecorder(history), WithQueueMetrics(metrics))
	metrics.RegisterQueueDepth(queue.Depth)
	registry := NewLivenessRegistry(30*time.Second, tel)
	dispatcher := NewDispatcher(registry, queue, tel, WithDispatchHistory(history), WithDispatchMetrics(metrics))
	limiter := newPollLimiter(0, 0)

	srv := NewHTTPServer(
		HTTPConfig{Addr: "127.0.0.1:0"},
		AuthConfig{Tokens: []string{testAgentToken}, AdminToken: testAdminToken},
		httpDeps{
			Queue:      queue,
			Registry:   registry,
			Dispatcher: dispatcher,
			Copier:     NewCopyManager(store.CopyPairs(), dispatcher, tel),
			History:    history,
			Limiter:    limiter,
			Metrics:    metrics,
			Telemetry:  tel,
		},
	)
	return &testServer{srv: srv, queue: queue, registry: registry, history: history, limiter: limiter}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, admin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set(adminTokenHeader, testAdminToken)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)

	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

// activeAccount crea la cuenta y la activa con un heartbeat que reporta símbolo.
func (ts *testServer) activeAccount(t *testing.T, account string) {
	t.Helper()
	w, _ := ts.do(t, http.MethodPost, "/api/accounts", gin.H{"account_id": account}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := ts.do(t, http.MethodPost, "/tok/api/ea/heartbeat", gin.H{"account": account, "symbol": "EURUSD"}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, true, body["registered"])
}

func TestHTTPCopyPollAckFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.activeAccount(t, "S1")

	w, _ := ts.do(t, http.MethodPost, "/api/pairs", gin.H{"master_account": "M1", "slave_account": "S1"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := ts.do(t, http.MethodPost, "/api/copy/signal",
		gin.H{"master_account": "M1", "action": "BUY", "symbol": "EURUSD", "volume": 0.1}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := body["report"].(map[string]interface{})
	assert.Equal(t, float64(1), report["dispatched"])

	w, body = ts.do(t, http.MethodGet, "/tok/api/commands/S1", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), body["count"])
	cmd := body["commands"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "M1", cmd["copy_from"])
	assert.Equal(t, "BUY", cmd["action"])
	assert.NotContains(t, cmd, "master_account")
	commandID := cmd["command_id"].(string)

	// Sin ACK el comando se vuelve a entregar.
	_, body = ts.do(t, http.MethodGet, "/tok/api/commands/S1", nil, false)
	assert.Equal(t, float64(1), body["count"])

	w, body = ts.do(t, http.MethodPost, "/tok/api/commands/S1/ack",
		map[string]interface{}{"command_id": commandID, "status": "success", "ticket": 123456}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "ACKED", body["status"])

	_, body = ts.do(t, http.MethodGet, "/tok/api/commands/S1", nil, false)
	assert.Equal(t, float64(0), body["count"])

	_, body = ts.do(t, http.MethodGet, "/api/history?account=S1", nil, true)
	events := body["events"].([]interface{})
	require.Len(t, events, 2)
	latest := events[0].(map[string]interface{})
	assert.Equal(t, "acked", latest["status"])
	assert.Equal(t, "123456", latest["ticket"])
}

func TestHTTPLegacySignalEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.activeAccount(t, "S1")
	_, err := ts.queue.Enqueue(t.Context(), newCommand("S1", "SELL", "XAUUSD"))
	require.NoError(t, err)

	w, body := ts.do(t, http.MethodGet, "/tok/api/ea/get_signals?account=S1", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["has_signal"])
	signal := body["signals"].([]interface{})[0].(map[string]interface{})

	w, body = ts.do(t, http.MethodPost, "/tok/api/ea/confirm_execution",
		gin.H{"account": "S1", "signal_id": signal["command_id"], "status": "error", "message": "no money"}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "FAILED", body["status"])

	w, body = ts.do(t, http.MethodPost, "/tok/api/ea/get_signals", gin.H{"account": "S1"}, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["has_signal"])
}

func TestHTTPAckUnknownCommandIs404(t *testing.T) {
	ts := newTestServer(t)
	w, body := ts.do(t, http.MethodPost, "/tok/api/commands/S1/ack", gin.H{"command_id": "nope", "status": "success"}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(domain.ErrUnknownCommand), body["code"])
}

func TestHTTPAgentTokenAuth(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodGet, "/wrong/api/ea/status", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(domain.ErrUnauthorized), body["code"])

	w, body = ts.do(t, http.MethodGet, "/tok/api/ea/status", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	endpoints := body["endpoints"].(map[string]interface{})
	assert.Equal(t, "/tok/api/commands/{account}", endpoints["commands"])
}

func TestHTTPAdminAuth(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(t, http.MethodGet, "/api/accounts", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/accounts", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, w.Code, "healthz is public")
}

func TestHTTPPollRateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.limiter.Update(3600, 1)

	w, _ := ts.do(t, http.MethodGet, "/tok/api/commands/S1", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	w, body := ts.do(t, http.MethodGet, "/tok/api/commands/S1", nil, false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, string(domain.ErrRateLimited), body["code"])

	w, _ = ts.do(t, http.MethodGet, "/tok/api/commands/S2", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPCopySignalReportsRejections(t *testing.T) {
	ts := newTestServer(t)
	ts.activeAccount(t, "S1")
	w, _ := ts.do(t, http.MethodPost, "/api/accounts", gin.H{"account_id": "S2"}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	// S2 está vivo pero nunca reportó símbolo.
	w, _ = ts.do(t, http.MethodPost, "/tok/api/ea/heartbeat", gin.H{"account": "S2"}, false)
	require.Equal(t, http.StatusOK, w.Code)

	for _, slave := range []string{"S1", "S2"} {
		w, _ := ts.do(t, http.MethodPost, "/api/pairs", gin.H{"master_account": "M1", "slave_account": slave}, true)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, body := ts.do(t, http.MethodPost, "/tok/api/copy/signal",
		gin.H{"master": "M1", "action": "BUY", "symbol": "EURUSD"}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := body["report"].(map[string]interface{})
	assert.Equal(t, float64(1), report["dispatched"])
	assert.Equal(t, float64(1), report["rejected"])
	rejected := report["results"].([]interface{})[1].(map[string]interface{})
	assert.Equal(t, string(domain.ErrAccountNotActivated), rejected["code"])

	w, body = ts.do(t, http.MethodPost, "/api/copy/signal", gin.H{"master": "M1", "action": "BUY"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(domain.ErrInvalidPayload), body["code"])
}

func TestHTTPAccountAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.activeAccount(t, "S1")

	w, body := ts.do(t, http.MethodPost, "/api/accounts/S1/pause", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.AccountStatusPaused), body["status"])
	assert.Equal(t, true, body["online"])

	res := ts.srv.deps.Dispatcher.Dispatch(t.Context(), "S1", buyEURUSD(), domain.OriginPair{})
	assert.Equal(t, domain.ErrAccountPaused, res.Code)

	w, body = ts.do(t, http.MethodPost, "/api/accounts/S1/resume", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.AccountStatusActive), body["status"])

	w, _ = ts.do(t, http.MethodPost, "/api/accounts", gin.H{"account_id": "S9", "status": "weird"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodDelete, "/api/accounts/S1", nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	w, body = ts.do(t, http.MethodGet, "/api/accounts/S1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(domain.ErrUnknownAccount), body["code"])
}

func TestHTTPPairAdmin(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/api/pairs", gin.H{"master_account": "M1", "slave_account": "S1"}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	id := int(body["id"].(float64))

	w, _ = ts.do(t, http.MethodPost, "/api/pairs/"+strconv.Itoa(id)+"/disable", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	_, body = ts.do(t, http.MethodGet, "/api/pairs", nil, true)
	pairs := body["pairs"].([]interface{})
	require.Len(t, pairs, 1)
	assert.Equal(t, false, pairs[0].(map[string]interface{})["enabled"])

	w, _ = ts.do(t, http.MethodDelete, "/api/pairs/"+strconv.Itoa(id), nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodDelete, "/api/pairs/"+strconv.Itoa(id), nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = ts.do(t, http.MethodDelete, "/api/pairs/abc", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/api/pairs", gin.H{"master_account": "M1", "slave_account": "M1"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPQueueAdmin(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		_, err := ts.queue.Enqueue(t.Context(), newCommand("S1", "BUY", "EURUSD"))
		require.NoError(t, err)
	}

	w, body := ts.do(t, http.MethodGet, "/api/commands/S1/status", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["pending"])
	assert.Len(t, body["commands"], 3)

	w, _ = ts.do(t, http.MethodGet, "/api/commands/status/all", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	_, body = ts.do(t, http.MethodPost, "/api/commands/S1/clear", nil, true)
	assert.Equal(t, float64(3), body["cleared"])

	_, body = ts.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, float64(0), body["queue_depth"])
}

func TestHTTPInvalidBody(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/tok/api/ea/heartbeat", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(domain.ErrInvalidPayload))
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/tok/api/commands/S1", nil, false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `echo_bridge_http_requests_total{method="GET",path="/:token/api/commands/:account",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "echo_bridge_queue_depth 0")
}

func TestStatusForCode(t *testing.T) {
	cases := map[domain.ErrorCode]int{
		domain.ErrUnknownAccount:      http.StatusNotFound,
		domain.ErrUnknownPair:         http.StatusNotFound,
		domain.ErrAccountOffline:      http.StatusConflict,
		domain.ErrAccountNotActivated: http.StatusConflict,
		domain.ErrInvalidAccount:      http.StatusBadRequest,
		domain.ErrUnauthorized:        http.StatusUnauthorized,
		domain.ErrRateLimited:         http.StatusTooManyRequests,
		domain.ErrQueueFull:           http.StatusServiceUnavailable,
		domain.ErrQueueWriteFailed:    http.StatusInternalServerError,
		domain.ErrInternal:            http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusForCode(code), code)
	}
}

func TestFlexStringAcceptsNumbers(t *testing.T) {
	var req ackRequest
	require.NoError(t, json.Unmarshal([]byte(`{"command_id":"c1","ticket":987654321}`), &req))
	assert.Equal(t, "987654321", string(req.Ticket))
	require.NoError(t, json.Unmarshal([]byte(`{"command_id":"c1","ticket":"T-1"}`), &req))
	assert.Equal(t, "T-1", string(req.Ticket))
	assert.Error(t, json.Unmarshal([]byte(`{"ticket":{}}`), &req))
}
