package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scalemind/autoscalr/internal/ifaces"
)

// azureMetricNames maps dimensions to the VMSS platform metrics emitted by
// Azure Monitor.
var azureMetricNames = map[Dimension]string{
	DimensionCPU:        "Percentage CPU",
	DimensionMemory:     "Available Memory Bytes",
	DimensionNetworkIn:  "Network In Total",
	DimensionNetworkOut: "Network Out Total",
}

// AzureBackend implements ComputeBackend and MetricsSource against a Virtual
// Machine Scale Set.
type AzureBackend struct {
	// Clients.
	Compute ifaces.AzureCompute
	Monitor ifaces.AzureMonitor

	// Configuration.
	ResourceID        string
	ResourceGroupName string
	VMSSName          string
	MinInstances      uint32
	MaxInstances      uint32

	// Telemetry.
	Tracer trace.Tracer
}

// azureComputeClient wraps the Azure Compute SDK client to implement the
// AzureCompute interface.
type azureComputeClient struct {
	vmssClient *armcompute.VirtualMachineScaleSetsClient
}

func (c *azureComputeClient) GetVMScaleSet(ctx context.Context, resourceGroupName string, vmScaleSetName string) (*armcompute.VirtualMachineScaleSet, error) {
	resp, err := c.vmssClient.Get(ctx, resourceGroupName, vmScaleSetName, nil)
	if err != nil {
		return nil, err
	}
	return &resp.VirtualMachineScaleSet, nil
}

func (c *azureComputeClient) UpdateVMScaleSetCapacity(ctx context.Context, resourceGroupName string, vmScaleSetName string, capacity int64) error {
	// First, get the current VMSS to preserve other settings
	vmss, err := c.GetVMScaleSet(ctx, resourceGroupName, vmScaleSetName)
	if err != nil {
		return err
	}

	// Update only the capacity
	vmss.SKU.Capacity = &capacity

	poller, err := c.vmssClient.BeginCreateOrUpdate(ctx, resourceGroupName, vmScaleSetName, *vmss, nil)
	if err != nil {
		return err
	}

	_, err = poller.PollUntilDone(ctx, nil)
	return err
}

// azureMonitorClient wraps the Azure Monitor SDK client to implement the
// AzureMonitor interface.
type azureMonitorClient struct {
	client *armmonitor.MetricsClient
}

func (c *azureMonitorClient) ListMetrics(ctx context.Context, resourceURI string, options *armmonitor.MetricsClientListOptions) (armmonitor.MetricsClientListResponse, error) {
	return c.client.List(ctx, resourceURI, options)
}

// NewAzureBackend creates a backend for the VMSS named by the resource ID in
// the config. When LLMTokenSecretName is set, the model API token is also
// fetched from Key Vault here and returned alongside, so that credentials
// are resolved once at startup, not per cycle.
func NewAzureBackend(ctx context.Context, cfg *RuntimeConfig) (*AzureBackend, string, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, "", fmt.Errorf("could not create Azure credential: %w", err)
	}

	subscriptionID, resourceGroupName, vmssName, err := parseVMSSResourceID(cfg.AzureVMSSResourceID)
	if err != nil {
		return nil, "", err
	}

	vmssClient, err := armcompute.NewVirtualMachineScaleSetsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, "", fmt.Errorf("could not create Azure VMSS client: %w", err)
	}

	metricsClient, err := armmonitor.NewMetricsClient(cred, nil)
	if err != nil {
		return nil, "", fmt.Errorf("could not create Azure Monitor metrics client: %w", err)
	}

	var apiToken string
	if cfg.LLMTokenSecretName != "" {
		apiToken, err = fetchKeyVaultSecret(ctx, cred, cfg.LLMTokenSecretName)
		if err != nil {
			return nil, "", err
		}
	}

	return &AzureBackend{
		Compute:           &azureComputeClient{vmssClient: vmssClient},
		Monitor:           &azureMonitorClient{client: metricsClient},
		ResourceID:        cfg.AzureVMSSResourceID,
		ResourceGroupName: resourceGroupName,
		VMSSName:          vmssName,
		MinInstances:      cfg.MinInstances,
		MaxInstances:      cfg.MaxInstances,
		Tracer:            otel.Tracer("github.com/scalemind/autoscalr/internal/azure"),
	}, apiToken, nil
}

// parseVMSSResourceID extracts the components of a VMSS resource ID.
// Expected format: /subscriptions/{subscriptionId}/resourceGroups/{resourceGroupName}/providers/Microsoft.Compute/virtualMachineScaleSets/{vmssName}
func parseVMSSResourceID(resourceID string) (subscriptionID, resourceGroupName, vmssName string, err error) {
	resourceParts := strings.Split(resourceID, "/")
	if len(resourceParts) < 9 {
		return "", "", "", fmt.Errorf("could not parse Azure VMSS resource ID: invalid format")
	}

	for i, part := range resourceParts {
		switch part {
		case "subscriptions":
			if i+1 < len(resourceParts) {
				subscriptionID = resourceParts[i+1]
			}
		case "resourceGroups":
			if i+1 < len(resourceParts) {
				resourceGroupName = resourceParts[i+1]
			}
		case "virtualMachineScaleSets":
			if i+1 < len(resourceParts) {
				vmssName = resourceParts[i+1]
			}
		}
	}

	if subscriptionID == "" || resourceGroupName == "" || vmssName == "" {
		return "", "", "", fmt.Errorf("could not parse Azure VMSS resource ID: missing required components")
	}

	return subscriptionID, resourceGroupName, vmssName, nil
}

// azureKeyVaultClient wraps the Azure Key Vault secrets client to implement
// the AzureKeyVault interface.
type azureKeyVaultClient struct {
	client *azsecrets.Client
}

func (c *azureKeyVaultClient) GetSecret(ctx context.Context, secretName string) (azsecrets.GetSecretResponse, error) {
	return c.client.GetSecret(ctx, secretName, "", nil)
}

// fetchKeyVaultSecret resolves the model API token from Key Vault.
func fetchKeyVaultSecret(ctx context.Context, cred *azidentity.DefaultAzureCredential, input string) (string, error) {
	vaultURL, secretName, err := parseKeyVaultSecretRef(input)
	if err != nil {
		return "", err
	}

	kvClient, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return "", fmt.Errorf("could not create Azure Key Vault client: %w", err)
	}

	return readKeyVaultSecret(ctx, &azureKeyVaultClient{client: kvClient}, secretName)
}

// parseKeyVaultSecretRef accepts either a full secret URL
// (https://{vault}.vault.azure.net/secrets/{secret}) or the short
// {vault}/{secret} form.
func parseKeyVaultSecretRef(input string) (vaultURL, secretName string, err error) {
	if strings.HasPrefix(input, "https://") {
		if !strings.Contains(input, "/secrets/") {
			return "", "", fmt.Errorf("invalid Key Vault URL format: %s (expected https://{vault}.vault.azure.net/secrets/{secret})", input)
		}
		parts := strings.Split(input, "/secrets/")
		return parts[0], parts[1], nil
	}

	if strings.Contains(input, "/") {
		parts := strings.SplitN(input, "/", 2)
		return fmt.Sprintf("https://%s.vault.azure.net", parts[0]), parts[1], nil
	}

	return "", "", fmt.Errorf("invalid Key Vault secret reference: %s (expected {vault}/{secret} or a full secret URL)", input)
}

func readKeyVaultSecret(ctx context.Context, kv ifaces.AzureKeyVault, secretName string) (string, error) {
	secret, err := kv.GetSecret(ctx, secretName)
	if err != nil {
		return "", fmt.Errorf("could not get model API token from Key Vault: %w", err)
	}

	if secret.Value == nil {
		return "", errors.New("could not find model API token value in Key Vault")
	}

	return *secret.Value, nil
}

// GetTopology returns the current VMSS capacity together with the configured
// bounds. Azure VMSS has no intrinsic min/max sizes, so the bounds always
// come from configuration.
func (b *AzureBackend) GetTopology(ctx context.Context) (*Topology, error) {
	ctx, span := b.Tracer.Start(ctx, "azure.vmss.get")
	defer span.End()

	vmss, err := b.Compute.GetVMScaleSet(ctx, b.ResourceGroupName, b.VMSSName)
	if err != nil {
		return nil, fmt.Errorf("could not get Azure VMSS details: %w", err)
	}

	if vmss.SKU == nil || vmss.SKU.Capacity == nil {
		return nil, fmt.Errorf("could not find capacity of Azure VMSS %s", b.VMSSName)
	}

	topology := &Topology{
		Identity:        b.ResourceID,
		CurrentCapacity: uint32(*vmss.SKU.Capacity),
		MinInstances:    b.MinInstances,
		MaxInstances:    b.MaxInstances,
	}

	if vmss.SKU.Name != nil {
		topology.VMSize = *vmss.SKU.Name
	}

	span.SetAttributes(attribute.Int("current_capacity", int(topology.CurrentCapacity)))

	return topology, nil
}

// SetCapacity updates the VMSS SKU capacity. The underlying update preserves
// all other scale set settings and blocks until the operation completes, so
// a retried call observes the previous attempt's result.
func (b *AzureBackend) SetCapacity(ctx context.Context, target uint32) error {
	ctx, span := b.Tracer.Start(ctx, "azure.vmss.scale")
	defer span.End()

	span.SetAttributes(attribute.Int("target", int(target)))

	if err := b.Compute.UpdateVMScaleSetCapacity(ctx, b.ResourceGroupName, b.VMSSName, int64(target)); err != nil {
		return fmt.Errorf("could not update Azure VMSS capacity: %w", err)
	}

	return nil
}

// FetchMetrics pulls the platform metrics for the whole scale set from Azure
// Monitor in one call. Dimensions absent from the response simply have no
// series; that is "no data", not an error.
func (b *AzureBackend) FetchMetrics(ctx context.Context, lookback, interval time.Duration) (map[Dimension]MetricSeries, error) {
	ctx, span := b.Tracer.Start(ctx, "azure.monitor.listMetrics")
	defer span.End()

	names := make([]string, 0, len(azureMetricNames))
	for _, dimension := range Dimensions {
		names = append(names, azureMetricNames[dimension])
	}

	end := time.Now().UTC()
	start := end.Add(-lookback)

	resp, err := b.Monitor.ListMetrics(ctx, b.ResourceID, &armmonitor.MetricsClientListOptions{
		Metricnames: to.Ptr(strings.Join(names, ",")),
		Timespan:    to.Ptr(fmt.Sprintf("%s/%s", start.Format(time.RFC3339), end.Format(time.RFC3339))),
		Interval:    to.Ptr(isoDuration(interval)),
		Aggregation: to.Ptr("Average"),
	})
	if err != nil {
		return nil, fmt.Errorf("could not list Azure Monitor metrics: %w", err)
	}

	byName := make(map[string]Dimension, len(azureMetricNames))
	for dimension, name := range azureMetricNames {
		byName[name] = dimension
	}

	out := make(map[Dimension]MetricSeries)

	for _, metric := range resp.Value {
		if metric.Name == nil || metric.Name.Value == nil {
			continue
		}

		dimension, ok := byName[*metric.Name.Value]
		if !ok {
			continue
		}

		var series MetricSeries
		for _, element := range metric.Timeseries {
			for _, value := range element.Data {
				if value.TimeStamp == nil || value.Average == nil {
					continue
				}

				series = append(series, MetricSample{
					Timestamp: *value.TimeStamp,
					Value:     *value.Average,
				})
			}
		}

		out[dimension] = series
	}

	span.SetAttributes(attribute.Int("dimensions", len(out)))

	return out, nil
}

// isoDuration renders a duration in the ISO 8601 form the Monitor API
// expects, e.g. PT1M or PT5M.
func isoDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes < 1 {
		minutes = 1
	}

	return fmt.Sprintf("PT%dM", minutes)
}
