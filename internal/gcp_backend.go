package internal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	monitoring "google.golang.org/api/monitoring/v3"

	"github.com/scalemind/autoscalr/internal/ifaces"
)

// gcpIGMSelfLinkRegex matches GCP IGM self-links in both zonal and regional formats.
// Formats:
//
//	Zonal: projects/{project}/zones/{zone}/instanceGroupManagers/{name}
//	Regional: projects/{project}/regions/{region}/instanceGroupManagers/{name}
var gcpIGMSelfLinkRegex = regexp.MustCompile(`^projects/([^/]+)/(zones|regions)/([^/]+)/instanceGroupManagers/([^/]+)$`)

// gcpMetricTypes maps dimensions to Cloud Monitoring metric types. CPU and
// network are platform metrics; memory requires the Ops Agent, whose metric
// type simply returns no series when the agent is absent.
var gcpMetricTypes = map[Dimension]string{
	DimensionCPU:        "compute.googleapis.com/instance/cpu/utilization",
	DimensionMemory:     "agent.googleapis.com/memory/percent_used",
	DimensionNetworkIn:  "compute.googleapis.com/instance/network/received_bytes_count",
	DimensionNetworkOut: "compute.googleapis.com/instance/network/sent_bytes_count",
}

// GCPBackend implements ComputeBackend and MetricsSource against a GCP
// Instance Group Manager.
type GCPBackend struct {
	// Clients.
	Compute    ifaces.GCPCompute
	Monitoring ifaces.GCPMonitoring

	// Configuration.
	Project      string
	Location     string // Zone for zonal IGMs, region for regional IGMs
	IGMName      string
	IGMSelfLink  string
	IsRegional   bool
	MinInstances uint32
	MaxInstances uint32

	// Telemetry.
	Tracer trace.Tracer
}

// igmID holds parsed components of an IGM self-link.
type igmID struct {
	Project    string
	Location   string // Zone or Region
	Name       string
	IsRegional bool
}

// gcpZonalComputeClient wraps the GCP Compute SDK client for zonal IGM
// operations.
type gcpZonalComputeClient struct {
	igmClient *compute.InstanceGroupManagersClient
}

// gcpRegionalComputeClient wraps the GCP Compute SDK client for regional IGM
// operations.
type gcpRegionalComputeClient struct {
	igmClient *compute.RegionInstanceGroupManagersClient
}

func (c *gcpZonalComputeClient) GetInstanceGroupManager(ctx context.Context, project, zone, name string) (*computepb.InstanceGroupManager, error) {
	req := &computepb.GetInstanceGroupManagerRequest{
		Project:              project,
		Zone:                 zone,
		InstanceGroupManager: name,
	}
	return c.igmClient.Get(ctx, req)
}

func (c *gcpZonalComputeClient) ResizeIGM(ctx context.Context, project, zone, name string, newSize int64) error {
	req := &computepb.ResizeInstanceGroupManagerRequest{
		Project:              project,
		Zone:                 zone,
		InstanceGroupManager: name,
		Size:                 int32(newSize),
	}
	op, err := c.igmClient.Resize(ctx, req)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (c *gcpZonalComputeClient) Close() error {
	if c.igmClient != nil {
		return c.igmClient.Close()
	}
	return nil
}

func (c *gcpRegionalComputeClient) GetInstanceGroupManager(ctx context.Context, project, region, name string) (*computepb.InstanceGroupManager, error) {
	req := &computepb.GetRegionInstanceGroupManagerRequest{
		Project:              project,
		Region:               region,
		InstanceGroupManager: name,
	}
	return c.igmClient.Get(ctx, req)
}

func (c *gcpRegionalComputeClient) ResizeIGM(ctx context.Context, project, region, name string, newSize int64) error {
	req := &computepb.ResizeRegionInstanceGroupManagerRequest{
		Project:              project,
		Region:               region,
		InstanceGroupManager: name,
		Size:                 int32(newSize),
	}
	op, err := c.igmClient.Resize(ctx, req)
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (c *gcpRegionalComputeClient) Close() error {
	if c.igmClient != nil {
		return c.igmClient.Close()
	}
	return nil
}

// gcpMonitoringClient wraps the Cloud Monitoring REST service to implement
// the GCPMonitoring interface.
type gcpMonitoringClient struct {
	service *monitoring.Service
}

func (c *gcpMonitoringClient) ListTimeSeries(ctx context.Context, project, filter string, start, end time.Time, alignmentPeriod time.Duration) (*monitoring.ListTimeSeriesResponse, error) {
	return c.service.Projects.TimeSeries.List("projects/"+project).
		Filter(filter).
		IntervalStartTime(start.Format(time.RFC3339)).
		IntervalEndTime(end.Format(time.RFC3339)).
		AggregationAlignmentPeriod(fmt.Sprintf("%ds", int(alignmentPeriod.Seconds()))).
		AggregationPerSeriesAligner("ALIGN_MEAN").
		AggregationCrossSeriesReducer("REDUCE_MEAN").
		Context(ctx).
		Do()
}

// NewGCPBackend creates a backend for the IGM named by the self-link in the
// config. When LLMTokenSecretName is set, the model API token is fetched
// from Secret Manager here, once.
func NewGCPBackend(ctx context.Context, cfg *RuntimeConfig) (*GCPBackend, string, error) {
	parsedIGM, err := parseGCPIGMSelfLink(cfg.GCPIGMSelfLink)
	if err != nil {
		return nil, "", fmt.Errorf("could not parse GCP IGM self-link: %w", err)
	}

	backend := &GCPBackend{
		Project:      parsedIGM.Project,
		Location:     parsedIGM.Location,
		IGMName:      parsedIGM.Name,
		IGMSelfLink:  cfg.GCPIGMSelfLink,
		IsRegional:   parsedIGM.IsRegional,
		MinInstances: cfg.MinInstances,
		MaxInstances: cfg.MaxInstances,
		Tracer:       otel.Tracer("github.com/scalemind/autoscalr/internal/gcp"),
	}

	var apiToken string
	if cfg.LLMTokenSecretName != "" {
		apiToken, err = fetchSecretManagerSecret(ctx, cfg.LLMTokenSecretName)
		if err != nil {
			return nil, "", err
		}
	}

	// IGM client (zonal or regional based on IGM type)
	if parsedIGM.IsRegional {
		regionIGMClient, err := compute.NewRegionInstanceGroupManagersRESTClient(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("could not create GCP Regional Instance Group Managers client: %w", err)
		}
		backend.Compute = &gcpRegionalComputeClient{igmClient: regionIGMClient}
	} else {
		zonalIGMClient, err := compute.NewInstanceGroupManagersRESTClient(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("could not create GCP Instance Group Managers client: %w", err)
		}
		backend.Compute = &gcpZonalComputeClient{igmClient: zonalIGMClient}
	}

	monitoringService, err := monitoring.NewService(ctx)
	if err != nil {
		return nil, "", errors.Join(fmt.Errorf("could not create Cloud Monitoring client: %w", err), backend.Close())
	}
	backend.Monitoring = &gcpMonitoringClient{service: monitoringService}

	return backend, apiToken, nil
}

func parseGCPIGMSelfLink(selfLink string) (*igmID, error) {
	matches := gcpIGMSelfLinkRegex.FindStringSubmatch(selfLink)
	if matches == nil {
		return nil, fmt.Errorf("self-link %q does not match the expected format", selfLink)
	}

	return &igmID{
		Project:    matches[1],
		Location:   matches[3],
		Name:       matches[4],
		IsRegional: matches[2] == "regions",
	}, nil
}

// fetchSecretManagerSecret resolves the model API token. The name must be a
// full secret version resource name, e.g.
// projects/{project}/secrets/{secret}/versions/latest.
func fetchSecretManagerSecret(ctx context.Context, name string) (string, error) {
	smClient, err := secretmanager.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("could not create GCP Secret Manager client: %w", err)
	}
	defer smClient.Close()

	secret, err := smClient.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("could not get model API token from Secret Manager: %w", err)
	}

	if secret.Payload == nil || secret.Payload.Data == nil {
		return "", errors.New("could not find model API token value in Secret Manager")
	}

	return string(secret.Payload.Data), nil
}

// GetTopology returns the IGM target size together with the configured
// bounds. GCP IGMs have no intrinsic min/max outside their (unused here)
// managed autoscaler, so the bounds always come from configuration.
func (b *GCPBackend) GetTopology(ctx context.Context) (*Topology, error) {
	ctx, span := b.Tracer.Start(ctx, "gcp.igm.get")
	defer span.End()

	igm, err := b.Compute.GetInstanceGroupManager(ctx, b.Project, b.Location, b.IGMName)
	if err != nil {
		return nil, fmt.Errorf("could not get GCP IGM details: %w", err)
	}

	if igm.TargetSize == nil {
		return nil, fmt.Errorf("could not find target size of GCP IGM %s", b.IGMName)
	}

	topology := &Topology{
		Identity:        b.IGMSelfLink,
		CurrentCapacity: uint32(*igm.TargetSize),
		MinInstances:    b.MinInstances,
		MaxInstances:    b.MaxInstances,
	}

	span.SetAttributes(attribute.Int("current_capacity", int(topology.CurrentCapacity)))

	return topology, nil
}

// SetCapacity resizes the IGM. Resize to the current size is a no-op on the
// GCP side, which keeps retries safe.
func (b *GCPBackend) SetCapacity(ctx context.Context, target uint32) error {
	ctx, span := b.Tracer.Start(ctx, "gcp.igm.resize")
	defer span.End()

	span.SetAttributes(attribute.Int("target", int(target)))

	if err := b.Compute.ResizeIGM(ctx, b.Project, b.Location, b.IGMName, int64(target)); err != nil {
		return fmt.Errorf("could not resize GCP IGM: %w", err)
	}

	return nil
}

// FetchMetrics queries Cloud Monitoring for each dimension, reduced to a
// single group-wide series per metric. Instances of an IGM share the IGM
// name as their name prefix, which is what the filter keys on.
func (b *GCPBackend) FetchMetrics(ctx context.Context, lookback, interval time.Duration) (map[Dimension]MetricSeries, error) {
	ctx, span := b.Tracer.Start(ctx, "gcp.monitoring.listTimeSeries")
	defer span.End()

	end := time.Now().UTC()
	start := end.Add(-lookback)

	out := make(map[Dimension]MetricSeries)

	for _, dimension := range Dimensions {
		filter := fmt.Sprintf(
			`metric.type = %q AND resource.type = "gce_instance" AND metadata.system_labels."name" = starts_with(%q)`,
			gcpMetricTypes[dimension], b.IGMName+"-")

		resp, err := b.Monitoring.ListTimeSeries(ctx, b.Project, filter, start, end, interval)
		if err != nil {
			return nil, fmt.Errorf("could not list Cloud Monitoring time series for %s: %w", dimension, err)
		}

		var series MetricSeries
		for _, ts := range resp.TimeSeries {
			for _, point := range ts.Points {
				if point.Interval == nil || point.Value == nil || point.Value.DoubleValue == nil {
					continue
				}

				timestamp, err := time.Parse(time.RFC3339, point.Interval.EndTime)
				if err != nil {
					continue
				}

				series = append(series, MetricSample{
					Timestamp: timestamp,
					Value:     *point.Value.DoubleValue,
				})
			}
		}

		out[dimension] = series
	}

	span.SetAttributes(attribute.Int("dimensions", len(out)))

	return out, nil
}

// Close releases the compute client resources.
func (b *GCPBackend) Close() error {
	if b.Compute != nil {
		return b.Compute.Close()
	}
	return nil
}
