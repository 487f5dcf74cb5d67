package jobs

import (
	"context"
	"net/http"
	"strings"
	"time"

	grpcclient "tzlogs/api/grpc"
	"tzlogs/pkg/logger"
)

const requestTimeout = 10 * time.Minute

// Runner holds the clients shared by the scheduled jobs.
type Runner struct {
	ctx        context.Context
	sync       grpcclient.SyncGRPCClient
	client     *http.Client
	apiURL     string
	adminToken string
	drainLimit int
	logger     *logger.NewLogger
	now        func() time.Time
}

type RunnerDeps struct {
	// Cancelled on shutdown, every job request derives from it.
	Context    context.Context
	Sync       grpcclient.SyncGRPCClient
	HTTPClient *http.Client
	APIURL     string
	AdminToken string
	DrainLimit int
	Logger     *logger.NewLogger
	Now        func() time.Time
}

// NewRunner creates the job runner.
func NewRunner(deps RunnerDeps) *Runner {
	r := &Runner{
		ctx:        deps.Context,
		sync:       deps.Sync,
		client:     deps.HTTPClient,
		apiURL:     strings.TrimRight(deps.APIURL, "/"),
		adminToken: deps.AdminToken,
		drainLimit: deps.DrainLimit,
		logger:     deps.Logger,
		now:        deps.Now,
	}
	if r.ctx == nil {
		r.ctx = context.Background()
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: requestTimeout}
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}
