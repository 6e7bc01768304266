package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentdesk/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		TicketingSystem:              "demo",
		PollSchedule:                 "@every 1h",
		PollPageSize:                 25,
		NewConversationWindowSeconds: 10,
		DBPath:                       filepath.Join(t.TempDir(), "agentdesk.db"),
		ExternalHTTPTimeoutSeconds:   10,
		ListenAddr:                   "127.0.0.1:0",
		LogLevel:                     "info",
	}
}

func buildApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		a.Manager.Shutdown()
		require.NoError(t, a.Close())
	})
	return a
}

func TestBuildWithoutGenesysServesSimulatedConversations(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoProcess = true
	a := buildApp(t, cfg)
	require.Nil(t, a.Genesys)
	require.Equal(t, "demo", a.Backend.Name())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/conversations/simulated", "application/json",
		strings.NewReader(`{"id":"sim-1","mediaType":"chat","text":"my printer is offline"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	convs, err := a.Poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.True(t, convs[0].Simulated)

	in, ok := a.Manager.Lookup("sim-1")
	require.True(t, ok, "auto-process dispatches new conversations")
	require.Equal(t, "sim-1", in.ID)
}

func TestBuildWiresGenesysClient(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600,"token_type":"bearer"}`))
	})
	mux.HandleFunc("GET /api/v2/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entities":[{"id":"c-1","mediaType":"email","startTime":"2026-01-02T15:04:05Z"}],"pageSize":25,"pageNumber":1}`))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	cfg := testConfig(t)
	cfg.GenesysClientID = "client"
	cfg.GenesysClientSecret = "secret"
	cfg.GenesysOAuthEndpoint = upstream.URL + "/oauth/token"
	cfg.GenesysAPIEndpoint = upstream.URL
	a := buildApp(t, cfg)
	require.NotNil(t, a.Genesys)

	convs, err := a.Poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "c-1", convs[0].ID)
	require.False(t, convs[0].Simulated)

	_, err = a.Poller.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), tokenCalls.Load(), "token is cached across polls")
}

func TestBuildRejectsMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.IntentCatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "loading intent catalog")
}

func TestServeStopsOnCancel(t *testing.T) {
	a := buildApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Serve(ctx) }()
	cancel()
	require.NoError(t, <-errc)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"info", "debug"} {
		logger, err := NewLogger(level)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}
