package scheduler

import (
	"context"
	"log"
	"net/http"

	"github.com/scottwelch968/Spork-V2-sub003/internal/processor"
)

// QueuePassJob runs one full processing pass: expiry sweep, lease reclaim,
// stale-batch disband, ready-batch execution and individual dispatch.
type QueuePassJob struct {
	Processor *processor.Processor
}

func (j *QueuePassJob) Name() string { return "queue_pass" }

func (j *QueuePassJob) Run(ctx context.Context) error {
	res, err := j.Processor.RunPass(ctx)
	if err != nil {
		return err
	}
	if res.Executed > 0 || res.BatchesProcessed > 0 || res.Expired > 0 || res.Reclaimed > 0 {
		log.Printf("scheduler: queue_pass: executed=%d batches=%d expired=%d reclaimed=%d disbanded=%d",
			res.Executed, res.BatchesProcessed, res.Expired, res.Reclaimed, res.StaleDisbanded)
	}
	return nil
}

// MappingRefresher is satisfied by action.Resolver.
type MappingRefresher interface {
	RefreshCache()
}

// MappingRefreshJob drops the action-mapping cache so the next resolution
// reloads fresh configuration, independent of the TTL.
type MappingRefreshJob struct {
	Resolver MappingRefresher
}

func (j *MappingRefreshJob) Name() string { return "mapping_refresh" }

func (j *MappingRefreshJob) Run(_ context.Context) error {
	j.Resolver.RefreshCache()
	return nil
}

// HealthCheckJob probes upstream endpoints and logs failures. Purely
// observational; routing never consults these results.
type HealthCheckJob struct {
	Endpoints []string
	Client    *http.Client
}

func (j *HealthCheckJob) Name() string { return "health_check" }

func (j *HealthCheckJob) Run(ctx context.Context) error {
	for _, endpoint := range j.Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			log.Printf("scheduler: health_check: bad endpoint %s: %v", endpoint, err)
			continue
		}

		resp, err := j.Client.Do(req)
		if err != nil {
			log.Printf("scheduler: health_check: %s unreachable: %v", endpoint, err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			log.Printf("scheduler: health_check: %s returned %d", endpoint, resp.StatusCode)
		}
	}
	return nil
}
