package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rewstapp/rewst_remote_agent/internal/domain"
	"github.com/rewstapp/rewst_remote_agent/internal/infra/system"
)

type response struct {
	Ok    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// SnapshotSource reports the supervised worker.
type SnapshotSource interface {
	Snapshot() domain.SupervisorSnapshot
}

// StatsSource samples machine load.
type StatsSource interface {
	Collect(ctx context.Context) system.HostStats
}

type statusResponse struct {
	Version string                    `json:"version"`
	OrgID   string                    `json:"org_id"`
	Worker  domain.SupervisorSnapshot `json:"worker"`
	Host    *system.HostStats         `json:"host,omitempty"`
}

type API struct {
	version string
	orgID   string
	worker  SnapshotSource
	stats   StatsSource
}

// NewAPI serves the service host status. stats may be nil.
func NewAPI(version, orgID string, worker SnapshotSource, stats StatsSource) *API {
	return &API{version: version, orgID: orgID, worker: worker, stats: stats}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/ping", a.ping)
	router.GET("/status", a.status)
}

func (a *API) ping(c *gin.Context) {
	c.JSON(http.StatusOK, response{Ok: true})
}

func (a *API) status(c *gin.Context) {
	resp := statusResponse{
		Version: a.version,
		OrgID:   a.orgID,
		Worker:  a.worker.Snapshot(),
	}
	if a.stats != nil {
		s := a.stats.Collect(c.Request.Context())
		resp.Host = &s
	}

	code := http.StatusOK
	if resp.Worker.Status != domain.ServiceRunning {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response{Ok: code == http.StatusOK, Data: resp})
}
