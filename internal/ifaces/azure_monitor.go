package ifaces

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
)

// AzureMonitor is an interface for the Azure Monitor metrics client. The
// backend asks for platform metrics of the whole VMSS resource in a single
// call, with the metric names comma-separated per the Monitor API contract.
//
//go:generate mockery --output ./ --name AzureMonitor --filename mock_azure_monitor.go --outpkg ifaces --structname MockAzureMonitor
type AzureMonitor interface {
	ListMetrics(ctx context.Context, resourceURI string, options *armmonitor.MetricsClientListOptions) (armmonitor.MetricsClientListResponse, error)
}
