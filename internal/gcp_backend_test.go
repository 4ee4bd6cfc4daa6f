package internal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/compute/apiv1/computepb"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	monitoring "google.golang.org/api/monitoring/v3"

	"github.com/scalemind/autoscalr/internal"
)

const (
	gcpProject     = "my-project"
	gcpZone        = "us-central1-a"
	gcpIGMName     = "my-mig"
	gcpIGMSelfLink = "projects/my-project/zones/us-central1-a/instanceGroupManagers/my-mig"
)

type MockGCPCompute struct {
	mock.Mock
}

func (m *MockGCPCompute) GetInstanceGroupManager(ctx context.Context, project, location, name string) (*computepb.InstanceGroupManager, error) {
	args := m.Called(ctx, project, location, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*computepb.InstanceGroupManager), args.Error(1)
}

func (m *MockGCPCompute) ResizeIGM(ctx context.Context, project, location, name string, newSize int64) error {
	args := m.Called(ctx, project, location, name, newSize)
	return args.Error(0)
}

func (m *MockGCPCompute) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockGCPMonitoring struct {
	mock.Mock
}

func (m *MockGCPMonitoring) ListTimeSeries(ctx context.Context, project, filter string, start, end time.Time, alignmentPeriod time.Duration) (*monitoring.ListTimeSeriesResponse, error) {
	args := m.Called(ctx, project, filter, start, end, alignmentPeriod)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*monitoring.ListTimeSeriesResponse), args.Error(1)
}

func setupGCPBackend() (*internal.GCPBackend, *MockGCPCompute, *MockGCPMonitoring) {
	mockCompute := &MockGCPCompute{}
	mockMonitoring := &MockGCPMonitoring{}

	backend := &internal.GCPBackend{
		Compute:      mockCompute,
		Monitoring:   mockMonitoring,
		Project:      gcpProject,
		Location:     gcpZone,
		IGMName:      gcpIGMName,
		IGMSelfLink:  gcpIGMSelfLink,
		MinInstances: 1,
		MaxInstances: 10,
		Tracer:       newTestTracer().Tracer("unittest"),
	}

	return backend, mockCompute, mockMonitoring
}

func TestGCPGetTopology(t *testing.T) {
	backend, mockCompute, _ := setupGCPBackend()
	defer mockCompute.AssertExpectations(t)

	mockCompute.On("GetInstanceGroupManager", mock.Anything, gcpProject, gcpZone, gcpIGMName).
		Return(&computepb.InstanceGroupManager{TargetSize: ptr(int32(4))}, nil)

	topology, err := backend.GetTopology(t.Context())

	require.NoError(t, err)
	require.Equal(t, gcpIGMSelfLink, topology.Identity)
	require.Equal(t, uint32(4), topology.CurrentCapacity)
	require.Equal(t, uint32(1), topology.MinInstances)
	require.Equal(t, uint32(10), topology.MaxInstances)
}

func TestGCPGetTopologyMissingTargetSize(t *testing.T) {
	backend, mockCompute, _ := setupGCPBackend()

	mockCompute.On("GetInstanceGroupManager", mock.Anything, gcpProject, gcpZone, gcpIGMName).
		Return(&computepb.InstanceGroupManager{}, nil)

	_, err := backend.GetTopology(t.Context())

	require.Error(t, err)
	require.Contains(t, err.Error(), "could not find target size")
}

func TestGCPGetTopologyAPIFailure(t *testing.T) {
	backend, mockCompute, _ := setupGCPBackend()

	mockCompute.On("GetInstanceGroupManager", mock.Anything, gcpProject, gcpZone, gcpIGMName).
		Return(nil, errors.New("permission denied"))

	_, err := backend.GetTopology(t.Context())

	require.Error(t, err)
	require.Contains(t, err.Error(), "could not get GCP IGM details")
}

func TestGCPSetCapacity(t *testing.T) {
	backend, mockCompute, _ := setupGCPBackend()
	defer mockCompute.AssertExpectations(t)

	mockCompute.On("ResizeIGM", mock.Anything, gcpProject, gcpZone, gcpIGMName, int64(6)).
		Return(nil)

	require.NoError(t, backend.SetCapacity(t.Context(), 6))
}

func TestGCPSetCapacityFailure(t *testing.T) {
	backend, mockCompute, _ := setupGCPBackend()

	mockCompute.On("ResizeIGM", mock.Anything, gcpProject, gcpZone, gcpIGMName, int64(6)).
		Return(errors.New("quota exceeded"))

	err := backend.SetCapacity(t.Context(), 6)

	require.Error(t, err)
	require.Contains(t, err.Error(), "could not resize GCP IGM")
}

func TestGCPFetchMetrics(t *testing.T) {
	backend, _, mockMonitoring := setupGCPBackend()
	defer mockMonitoring.AssertExpectations(t)

	var filters []string

	mockMonitoring.On("ListTimeSeries", mock.Anything, gcpProject, mock.MatchedBy(func(in any) bool {
		filters = append(filters, in.(string))
		return true
	}), mock.Anything, mock.Anything, time.Minute).
		Return(&monitoring.ListTimeSeriesResponse{
			TimeSeries: []*monitoring.TimeSeries{
				{
					Points: []*monitoring.Point{
						{
							Interval: &monitoring.TimeInterval{EndTime: "2026-03-01T12:00:00Z"},
							Value:    &monitoring.TypedValue{DoubleValue: ptr(0.42)},
						},
						{
							// Missing value, skipped.
							Interval: &monitoring.TimeInterval{EndTime: "2026-03-01T12:01:00Z"},
						},
					},
				},
			},
		}, nil).Times(4)

	series, err := backend.FetchMetrics(t.Context(), 30*time.Minute, time.Minute)

	require.NoError(t, err)
	require.Len(t, series, 4)
	require.Len(t, series[internal.DimensionCPU], 1)
	require.Equal(t, 0.42, series[internal.DimensionCPU][0].Value)
	require.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), series[internal.DimensionCPU][0].Timestamp)

	// One query per dimension, each scoped to the IGM's instance name prefix.
	require.Len(t, filters, 4)
	for _, filter := range filters {
		require.Contains(t, filter, `starts_with("my-mig-")`)
		require.Contains(t, filter, `resource.type = "gce_instance"`)
	}
	require.Contains(t, filters[0], "compute.googleapis.com/instance/cpu/utilization")
}

func TestGCPFetchMetricsAPIFailure(t *testing.T) {
	backend, _, mockMonitoring := setupGCPBackend()

	mockMonitoring.On("ListTimeSeries", mock.Anything, gcpProject, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("deadline exceeded"))

	_, err := backend.FetchMetrics(t.Context(), 30*time.Minute, time.Minute)

	require.Error(t, err)
	require.Contains(t, err.Error(), "could not list Cloud Monitoring time series")
}

func TestGCPClose(t *testing.T) {
	backend, mockCompute, _ := setupGCPBackend()
	defer mockCompute.AssertExpectations(t)

	mockCompute.On("Close").Return(nil)

	require.NoError(t, backend.Close())
}
