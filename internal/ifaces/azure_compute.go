package ifaces

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v6"
)

// AzureCompute is an interface for the subset of the Azure Compute client
// used by the VMSS backend.
//
//go:generate mockery --output ./ --name AzureCompute --filename mock_azure_compute.go --outpkg ifaces --structname MockAzureCompute
type AzureCompute interface {
	GetVMScaleSet(ctx context.Context, resourceGroupName string, vmScaleSetName string) (*armcompute.VirtualMachineScaleSet, error)
	UpdateVMScaleSetCapacity(ctx context.Context, resourceGroupName string, vmScaleSetName string, capacity int64) error
}
