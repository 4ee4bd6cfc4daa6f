package ifaces

import (
	"context"
	"time"

	monitoring "google.golang.org/api/monitoring/v3"
)

// GCPMonitoring is an interface for the Cloud Monitoring time-series API.
// One call covers one metric type over the requested window.
//
//go:generate mockery --output ./ --name GCPMonitoring --filename mock_gcp_monitoring.go --outpkg ifaces --structname MockGCPMonitoring
type GCPMonitoring interface {
	ListTimeSeries(ctx context.Context, project, filter string, start, end time.Time, alignmentPeriod time.Duration) (*monitoring.ListTimeSeriesResponse, error)
}
