package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"affiliate-pipeline/internal/affiliate"
)

// Errors returned before a job starts
var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrInvalidBody = errors.New("invalid request body")
)

// Pipeline dispatches job invocations by name
type Pipeline struct {
	runner    *JobRunner
	ingest    *IngestService
	monitor   *PriceMonitorService
	alerts    *AlertNotifier
	affiliate *AffiliateRefreshService
}

// NewPipeline creates a new pipeline
func NewPipeline(
	runner *JobRunner,
	ingest *IngestService,
	monitor *PriceMonitorService,
	alerts *AlertNotifier,
	affiliate *AffiliateRefreshService,
) *Pipeline {
	return &Pipeline{
		runner:    runner,
		ingest:    ingest,
		monitor:   monitor,
		alerts:    alerts,
		affiliate: affiliate,
	}
}

// JobNames lists the jobs the pipeline can run
func JobNames() []string {
	return []string{JobIngestProducts, JobPriceMonitor, JobPriceAlerts, JobAffiliateLinks}
}

// RunJob decodes the optional JSON body for the named job and runs it
func (p *Pipeline) RunJob(ctx context.Context, name string, body []byte) (*JobResult, error) {
	var fn JobFunc

	switch name {
	case JobIngestProducts:
		var req IngestRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		fn = func(ctx context.Context, rec *JobRecorder) error { return p.ingest.Run(ctx, &req, rec) }
	case JobPriceMonitor:
		var req MonitorRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		fn = func(ctx context.Context, rec *JobRecorder) error { return p.monitor.Run(ctx, &req, rec) }
	case JobPriceAlerts:
		var req AlertRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		fn = func(ctx context.Context, rec *JobRecorder) error { return p.alerts.Run(ctx, &req, rec) }
	case JobAffiliateLinks:
		var req AffiliateRefreshRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		fn = func(ctx context.Context, rec *JobRecorder) error { return p.affiliate.Run(ctx, &req, rec) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	return p.runner.Run(ctx, name, fn)
}

// Alerts exposes the notifier for the event worker and the alert endpoint
func (p *Pipeline) Alerts() *AlertNotifier {
	return p.alerts
}

// Credentials exposes the resolver so credential updates drop its cache
func (p *Pipeline) Credentials() *affiliate.Resolver {
	return p.affiliate.resolver
}

func decodeBody(body []byte, v interface{}) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}
