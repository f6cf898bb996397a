package httpserver_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/rewstapp/rewst_remote_agent/internal/adapter/httpserver"
	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/system"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type staticWorker domain.SupervisorSnapshot

func (w staticWorker) Snapshot() domain.SupervisorSnapshot {
	return domain.SupervisorSnapshot(w)
}

type staticStats system.HostStats

func (s staticStats) Collect(context.Context) system.HostStats {
	return system.HostStats(s)
}

func newServer(worker httpserver.SnapshotSource, stats httpserver.StatsSource) *httpserver.Server {
	api := httpserver.NewAPI("1.2.3", "org-1", worker, stats)
	return httpserver.NewServer("127.0.0.1:0", api, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type body struct {
	Ok   bool `json:"ok"`
	Data struct {
		Version string                    `json:"version"`
		OrgID   string                    `json:"org_id"`
		Worker  domain.SupervisorSnapshot `json:"worker"`
		Host    *system.HostStats         `json:"host"`
	} `json:"data"`
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, body) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var b body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	return rec, b
}

func TestPing(t *testing.T) {
	t.Parallel()

	rec, b := get(t, newServer(staticWorker{}, nil).Handler(), "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, b.Ok)
}

func TestStatusRunning(t *testing.T) {
	t.Parallel()

	worker := staticWorker{Status: domain.ServiceRunning, Executable: "/usr/local/bin/agent", PIDs: []int32{42}, Restarts: 1}
	stats := staticStats{CPUPercent: 12.5, RAMPercent: 40}

	rec, b := get(t, newServer(worker, stats).Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, b.Ok)
	require.Equal(t, "1.2.3", b.Data.Version)
	require.Equal(t, "org-1", b.Data.OrgID)
	require.Equal(t, []int32{42}, b.Data.Worker.PIDs)
	require.Equal(t, 1, b.Data.Worker.Restarts)
	require.NotNil(t, b.Data.Host)
	require.Equal(t, 12.5, b.Data.Host.CPUPercent)
}

func TestStatusStoppedIsUnavailable(t *testing.T) {
	t.Parallel()

	rec, b := get(t, newServer(staticWorker{Status: domain.ServiceStopped}, nil).Handler(), "/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, b.Ok)
	require.Equal(t, domain.ServiceStopped, b.Data.Worker.Status)
	require.Nil(t, b.Data.Host)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- newServer(staticWorker{}, nil).Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
}
