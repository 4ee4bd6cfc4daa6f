package internal

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetEnv clears the process environment for the duration of the test so
// that variables leaking in from the host cannot satisfy notEmpty tags.
func resetEnv(t *testing.T) {
	t.Helper()

	originalEnv := os.Environ()
	os.Clearenv()

	t.Cleanup(func() {
		os.Clearenv()
		for _, e := range originalEnv {
			if k, v, ok := strings.Cut(e, "="); ok {
				os.Setenv(k, v)
			}
		}
	})
}

func setCommonEnv() {
	os.Setenv("AUTOSCALING_MAX_INSTANCES", "10")
	os.Setenv("LLM_PRIMARY_MODEL", "llama3.1:8b")
}

func TestRuntimeConfigParseAWS(t *testing.T) {
	resetEnv(t)
	setCommonEnv()

	os.Setenv("AUTOSCALING_GROUP_ARN", "arn:aws:autoscaling:eu-west-1:123456789:autoScalingGroup:uuid:autoScalingGroupName/my-asg")
	os.Setenv("AUTOSCALING_REGION", "eu-west-1")

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformAWS)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), cfg.MinInstances)
	assert.Equal(t, uint32(10), cfg.MaxInstances)
	assert.Equal(t, 15*time.Minute, cfg.CooldownDuration)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, 3*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 15*time.Second, cfg.RetryCapDelay)
	assert.Equal(t, 30*time.Minute, cfg.MetricsLookback)
	assert.Equal(t, time.Minute, cfg.MetricsInterval)
	assert.Equal(t, "http://localhost:11434", cfg.LLMEndpoint)
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout)
	assert.Equal(t, "llama3.1:8b", cfg.PrimaryModel)
	assert.False(t, cfg.DryRun)

	key, id := cfg.GroupKeyAndID()
	assert.Equal(t, "asg_arn", key)
	assert.Contains(t, id, "my-asg")
}

func TestRuntimeConfigParseAWSMissingARN(t *testing.T) {
	resetEnv(t)
	setCommonEnv()

	os.Setenv("AUTOSCALING_REGION", "eu-west-1")

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformAWS)
	require.Error(t, err)
	require.Contains(t, err.Error(), "AUTOSCALING_GROUP_ARN")
}

func TestRuntimeConfigParseAzure(t *testing.T) {
	resetEnv(t)
	setCommonEnv()

	resourceID := "/subscriptions/sub-id/resourceGroups/my-rg/providers/Microsoft.Compute/virtualMachineScaleSets/my-vmss"
	os.Setenv("AZURE_VMSS_RESOURCE_ID", resourceID)

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformAzure)
	require.NoError(t, err)

	assert.Equal(t, resourceID, cfg.AzureVMSSResourceID)

	// AWS-only fields are not required on Azure.
	assert.Empty(t, cfg.AutoscalingGroupARN)

	key, id := cfg.GroupKeyAndID()
	assert.Equal(t, "vmss_resource_id", key)
	assert.Equal(t, resourceID, id)
}

func TestRuntimeConfigParseGCP(t *testing.T) {
	resetEnv(t)
	setCommonEnv()

	selfLink := "projects/my-project/zones/us-central1-a/instanceGroupManagers/my-mig"
	os.Setenv("GCP_IGM_SELF_LINK", selfLink)

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformGCP)
	require.NoError(t, err)

	assert.Equal(t, selfLink, cfg.GCPIGMSelfLink)

	key, id := cfg.GroupKeyAndID()
	assert.Equal(t, "igm_self_link", key)
	assert.Equal(t, selfLink, id)
}

func TestRuntimeConfigParseMissingModel(t *testing.T) {
	resetEnv(t)

	os.Setenv("AUTOSCALING_MAX_INSTANCES", "10")
	os.Setenv("AZURE_VMSS_RESOURCE_ID", "/subscriptions/s/resourceGroups/g/providers/Microsoft.Compute/virtualMachineScaleSets/v")

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformAzure)
	require.Error(t, err)
	require.Contains(t, err.Error(), "LLM_PRIMARY_MODEL")
}

func TestRuntimeConfigValidatesBounds(t *testing.T) {
	resetEnv(t)
	setCommonEnv()

	os.Setenv("AUTOSCALING_MIN_INSTANCES", "20")
	os.Setenv("AZURE_VMSS_RESOURCE_ID", "/subscriptions/s/resourceGroups/g/providers/Microsoft.Compute/virtualMachineScaleSets/v")

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformAzure)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not exceed")
}

func TestRuntimeConfigValidatesConfidenceThreshold(t *testing.T) {
	resetEnv(t)
	setCommonEnv()

	os.Setenv("AUTOSCALING_CONFIDENCE_THRESHOLD", "1.5")
	os.Setenv("AZURE_VMSS_RESOURCE_ID", "/subscriptions/s/resourceGroups/g/providers/Microsoft.Compute/virtualMachineScaleSets/v")

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformAzure)
	require.Error(t, err)
	require.Contains(t, err.Error(), "AUTOSCALING_CONFIDENCE_THRESHOLD")
}

func TestRuntimeConfigValidatesRetryCount(t *testing.T) {
	resetEnv(t)
	setCommonEnv()

	os.Setenv("AUTOSCALING_RETRY_COUNT", "0")
	os.Setenv("AZURE_VMSS_RESOURCE_ID", "/subscriptions/s/resourceGroups/g/providers/Microsoft.Compute/virtualMachineScaleSets/v")

	cfg := &RuntimeConfig{}
	err := cfg.Parse(PlatformAzure)
	require.Error(t, err)
	require.Contains(t, err.Error(), "AUTOSCALING_RETRY_COUNT")
}

func TestRuntimeConfigEngineConfig(t *testing.T) {
	cfg := RuntimeConfig{
		MinInstances:        2,
		MaxInstances:        8,
		CooldownDuration:    10 * time.Minute,
		ConfidenceThreshold: 0.5,
		RetryCount:          4,
		RetryBaseDelay:      time.Second,
		RetryCapDelay:       5 * time.Second,
		MetricsLookback:     time.Hour,
		MetricsInterval:     5 * time.Minute,
		DryRun:              true,
	}

	engineCfg := cfg.EngineConfig()

	assert.Equal(t, 10*time.Minute, engineCfg.CooldownDuration)
	assert.Equal(t, 0.5, engineCfg.ConfidenceThreshold)
	assert.Equal(t, 4, engineCfg.RetryCount)
	assert.Equal(t, time.Hour, engineCfg.MetricsLookback)
	assert.True(t, engineCfg.DryRun)
}
