package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
	"github.com/brojonat/tokenburn/service/config"
	"github.com/brojonat/tokenburn/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBurner records inputs and returns a canned outcome.
type fakeBurner struct {
	mu     sync.Mutex
	inputs []burn.Input
	result *burn.Result
	err    error
	// block, when set, holds Burn until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeBurner) Burn(ctx context.Context, in burn.Input) (*burn.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

type fakeHealth struct{ err error }

func (f fakeHealth) Health(ctx context.Context) error { return f.err }

func testConfig() *config.Config {
	return &config.Config{
		SolanaRPCURLs:          []string{"https://api.devnet.solana.com"},
		SolanaNetwork:          config.NetworkDevnet,
		TreasuryAddress:        solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"),
		MinFeeLamports:         5_000,
		MaxFeeLamports:         100_000_000,
		ConfirmCommitment:      rpc.CommitmentConfirmed,
		ConfirmInitialInterval: 500 * time.Millisecond,
		ConfirmMaxInterval:     8 * time.Second,
		ConfirmTimeout:         90 * time.Second,
		RPCRequestTimeout:      15 * time.Second,
		AllowedOrigins:         []string{testOrigin},
	}
}

const testOrigin = "http://localhost:3000"

func newTestServer(engine Burner, health HealthChecker) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("127.0.0.1:0", testConfig(), engine, health, nil, logger)
}

func postBurn(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/burns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"mint_address":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","amount":"1000000","fee_sol":"0.01","keypair_path":"/keys/id.json"}`

func TestHandleBurn_Success(t *testing.T) {
	engine := &fakeBurner{result: &burn.Result{
		ID:        "burn-1",
		State:     burn.StateSucceeded,
		Status:    burn.StatusConfirmed,
		Signature: "5sig",
		Amount:    1_000_000,
	}}
	srv := newTestServer(engine, nil)

	rec := postBurn(t, srv.Handler(), validBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res burn.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "burn-1", res.ID)
	assert.Equal(t, "5sig", res.Signature)
	assert.Equal(t, burn.StatusConfirmed, res.Status)

	require.Len(t, engine.inputs, 1)
	assert.Equal(t, burn.Input{
		MintAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Amount:      "1000000",
		FeeSOL:      "0.01",
		KeypairPath: "/keys/id.json",
	}, engine.inputs[0])
}

func TestHandleBurn_PathologicalInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "extremely large request body",
			body: `{"mint_address":"` + strings.Repeat("A", 1<<20) + `"}`,
			want: "request body too large",
		},
		{
			name: "malformed JSON",
			body: `{"mint_address":"abc","amount":`,
			want: "invalid request body",
		},
		{
			name: "null byte in keypair path",
			body: `{"keypair_path":"/keys/id.json\u0000"}`,
			want: "invalid keypair_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeBurner{}
			rec := postBurn(t, newTestServer(engine, nil).Handler(), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Empty(t, engine.inputs, "engine must not run")
		})
	}
}

func TestHandleBurn_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		kind burn.Kind
		want int
	}{
		{burn.KindZeroAmount, http.StatusBadRequest},
		{burn.KindInvalidAddress, http.StatusBadRequest},
		{burn.KindInvalidFee, http.StatusBadRequest},
		{burn.KindFeeOutOfRange, http.StatusBadRequest},
		{burn.KindInsufficientBalance, http.StatusBadRequest},
		{burn.KindKeyFileNotFound, http.StatusNotFound},
		{burn.KindAccountNotFound, http.StatusNotFound},
		{burn.KindMintNotFound, http.StatusNotFound},
		{burn.KindKeyFormat, http.StatusUnprocessableEntity},
		{burn.KindNetworkUnavailable, http.StatusServiceUnavailable},
		{burn.KindSubmissionRejected, http.StatusConflict},
		{burn.KindTransactionFailed, http.StatusConflict},
		{burn.KindConfirmationTimeout, http.StatusAccepted},
		{burn.KindConfirmationAbandoned, http.StatusAccepted},
		{burn.KindCancelled, http.StatusRequestTimeout},
		{burn.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			engine := &fakeBurner{
				result: &burn.Result{ID: "burn-2", State: burn.StateFailed},
				err:    burn.Errorf(tt.kind, "boom"),
			}
			rec := postBurn(t, newTestServer(engine, nil).Handler(), validBody)
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind.String(), resp.Kind)
			assert.Equal(t, "burn-2", resp.ID)
			assert.Equal(t, "boom", resp.Message)
		})
	}
}

func TestHandleBurn_TimeoutCarriesSignature(t *testing.T) {
	engine := &fakeBurner{
		result: &burn.Result{ID: "burn-3", State: burn.StateFailed, Status: burn.StatusPending, Signature: "5sig"},
		err: &burn.Error{
			Kind:      burn.KindConfirmationTimeout,
			Message:   "transaction not confirmed within 1m30s",
			Signature: "5sig",
		},
	}
	rec := postBurn(t, newTestServer(engine, nil).Handler(), validBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmation_timeout", resp.Kind)
	assert.Equal(t, "ambiguous", resp.Category)
	assert.Equal(t, "5sig", resp.Signature)
}

func TestHandleBurn_UnclassifiedErrorIsInternal(t *testing.T) {
	engine := &fakeBurner{err: errors.New("something odd")}
	rec := postBurn(t, newTestServer(engine, nil).Handler(), validBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"internal"`)
}

func TestHandleBurn_OneBurnAtATime(t *testing.T) {
	engine := &fakeBurner{
		result:  &burn.Result{ID: "burn-4", State: burn.StateSucceeded, Status: burn.StatusConfirmed},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	h := newTestServer(engine, nil).Handler()

	first := make(chan *httptest.ResponseRecorder)
	go func() { first <- postBurn(t, h, validBody) }()
	<-engine.entered

	second := postBurn(t, h, validBody)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), KindBurnInProgress)

	close(engine.block)
	assert.Equal(t, http.StatusOK, (<-first).Code)

	engine.entered = nil
	engine.block = nil
	assert.Equal(t, http.StatusOK, postBurn(t, h, validBody).Code, "lock is released after a burn")
}

func TestHandleGetConfig(t *testing.T) {
	srv := newTestServer(&fakeBurner{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "devnet", resp.Network)
	assert.Equal(t, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", resp.Treasury)
	assert.Equal(t, uint64(5_000), resp.MinFeeLamports)
	assert.Equal(t, "0.000005", resp.MinFeeSOL)
	assert.Equal(t, "0.1", resp.MaxFeeSOL)
	assert.Equal(t, "confirmed", resp.Commitment)
	assert.Equal(t, "1m30s", resp.ConfirmTimeout)
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeBurner{}, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("rpc healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeBurner{}, fakeHealth{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/rpc", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rpc unhealthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h := newTestServer(&fakeBurner{}, fakeHealth{err: errors.New(`rpc node reports "behind"`)}).Handler()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/rpc", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "behind")
	})

	t.Run("rpc route absent without checker", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeBurner{}, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/rpc", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleBurn_RequiresJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantStatus  int
	}{
		{"json", "application/json", http.StatusOK},
		{"json with charset", "application/json; charset=utf-8", http.StatusOK},
		{"plain text", "text/plain;charset=UTF-8", http.StatusUnsupportedMediaType},
		{"form", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"missing", "", http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeBurner{result: &burn.Result{ID: "burn-1", State: burn.StateSucceeded}}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/burns", strings.NewReader(validBody))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			newTestServer(engine, nil).Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Empty(t, engine.inputs, "burn must not start")
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, KindUnsupportedMediaType, resp.Kind)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		origin      string
		contentType string
		wantStatus  int
		wantACAO    string
		wantBurn    bool
	}{
		{
			name:       "allowed origin preflight",
			method:     http.MethodOptions,
			path:       "/api/v1/burns",
			origin:     testOrigin,
			wantStatus: http.StatusNoContent,
			wantACAO:   testOrigin,
		},
		{
			name:        "allowed origin burn",
			method:      http.MethodPost,
			path:        "/api/v1/burns",
			origin:      testOrigin,
			contentType: "application/json",
			wantStatus:  http.StatusOK,
			wantACAO:    testOrigin,
			wantBurn:    true,
		},
		{
			name:       "foreign origin preflight",
			method:     http.MethodOptions,
			path:       "/api/v1/burns",
			origin:     "https://evil.example",
			wantStatus: http.StatusForbidden,
		},
		{
			name:        "foreign origin simple post",
			method:      http.MethodPost,
			path:        "/api/v1/burns",
			origin:      "https://evil.example",
			contentType: "text/plain;charset=UTF-8",
			wantStatus:  http.StatusForbidden,
		},
		{
			name:        "foreign origin json post",
			method:      http.MethodPost,
			path:        "/api/v1/burns",
			origin:      "https://evil.example",
			contentType: "application/json",
			wantStatus:  http.StatusForbidden,
		},
		{
			name:        "rebound host posts with its own origin",
			method:      http.MethodPost,
			path:        "/api/v1/burns",
			origin:      "http://rebind.example:8787",
			contentType: "application/json",
			wantStatus:  http.StatusForbidden,
		},
		{
			name:       "sandboxed null origin",
			method:     http.MethodGet,
			path:       "/api/v1/config",
			origin:     "null",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no origin",
			method:     http.MethodGet,
			path:       "/api/v1/config",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeBurner{result: &burn.Result{ID: "burn-1", State: burn.StateSucceeded}}
			var body io.Reader
			if tt.method == http.MethodPost {
				body = strings.NewReader(validBody)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			newTestServer(engine, nil).Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantACAO, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantBurn {
				assert.Len(t, engine.inputs, 1)
			} else {
				assert.Empty(t, engine.inputs)
			}
			if tt.wantStatus == http.StatusForbidden {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, KindOriginNotAllowed, resp.Kind)
			}
		})
	}
}

func TestCORS_NoOriginsConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = nil
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := &fakeBurner{result: &burn.Result{ID: "burn-1", State: burn.StateSucceeded}}
	h := New("127.0.0.1:0", cfg, engine, nil, nil, logger).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/burns", strings.NewReader(validBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, engine.inputs)

	rec = postBurn(t, h, validBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, engine.inputs, 1)
}

func TestHandleBurn_RecordsHTTPMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := &fakeBurner{err: burn.Errorf(burn.KindZeroAmount, "amount must be greater than zero")}
	srv := New("127.0.0.1:0", testConfig(), engine, nil, m, logger)

	rec := postBurn(t, srv.Handler(), validBody)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	families, err := registry.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == "4xx" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "4xx burn response is recorded")
}
