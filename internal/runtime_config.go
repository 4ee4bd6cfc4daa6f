package internal

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Platform represents the cloud provider hosting the scale set.
type Platform string

const (
	PlatformAWS   Platform = "aws"
	PlatformAzure Platform = "azure"
	PlatformGCP   Platform = "gcp"
)

type RuntimeConfig struct {
	// Scaling policy - used by all platforms.
	MinInstances        uint32        `env:"AUTOSCALING_MIN_INSTANCES" envDefault:"1"`
	MaxInstances        uint32        `env:"AUTOSCALING_MAX_INSTANCES,notEmpty"`
	CooldownDuration    time.Duration `env:"AUTOSCALING_COOLDOWN" envDefault:"15m"`
	ConfidenceThreshold float64       `env:"AUTOSCALING_CONFIDENCE_THRESHOLD" envDefault:"0.7"`
	RetryCount          int           `env:"AUTOSCALING_RETRY_COUNT" envDefault:"3"`
	RetryBaseDelay      time.Duration `env:"AUTOSCALING_RETRY_BASE_DELAY" envDefault:"3s"`
	RetryCapDelay       time.Duration `env:"AUTOSCALING_RETRY_CAP_DELAY" envDefault:"15s"`
	DryRun              bool          `env:"AUTOSCALING_DRY_RUN" envDefault:"false"`

	// Metric collection window.
	MetricsLookback time.Duration `env:"METRICS_LOOKBACK" envDefault:"30m"`
	MetricsInterval time.Duration `env:"METRICS_INTERVAL" envDefault:"1m"`

	// Model endpoint - used by all platforms.
	LLMEndpoint        string        `env:"LLM_ENDPOINT" envDefault:"http://localhost:11434"`
	LLMTimeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	PrimaryModel       string        `env:"LLM_PRIMARY_MODEL,notEmpty"`
	FallbackModel      string        `env:"LLM_FALLBACK_MODEL"`
	LLMTokenSecretName string        `env:"LLM_API_TOKEN_SECRET_NAME"`

	// Optional custom prompt template.
	PromptTemplatePath string `env:"PROMPT_TEMPLATE_PATH"`

	// AWS-specific fields - use awsEnv tag.
	AutoscalingGroupARN string `awsEnv:"AUTOSCALING_GROUP_ARN,notEmpty"`
	AutoscalingRegion   string `awsEnv:"AUTOSCALING_REGION,notEmpty"`

	// Azure-specific fields - use azEnv tag.
	AzureVMSSResourceID string `azEnv:"AZURE_VMSS_RESOURCE_ID,notEmpty"`

	// GCP-specific fields - use gcpEnv tag.
	GCPIGMSelfLink string `gcpEnv:"GCP_IGM_SELF_LINK,notEmpty"`
}

// Parse parses environment variables into the config for the specified
// platform, then validates the cross-field invariants the tag syntax cannot
// express.
func (r *RuntimeConfig) Parse(platform Platform) error {
	var allErrors env.AggregateError

	// Common fields for all platforms.
	tags := []string{"env"}

	switch platform {
	case PlatformAWS:
		tags = append(tags, "awsEnv")
	case PlatformAzure:
		tags = append(tags, "azEnv")
	case PlatformGCP:
		tags = append(tags, "gcpEnv")
	}

	for _, tag := range tags {
		if err := env.ParseWithOptions(r, env.Options{TagName: tag}); err != nil {
			if aggErr, ok := err.(env.AggregateError); ok {
				allErrors.Errors = append(allErrors.Errors, aggErr.Errors...)
			} else {
				allErrors.Errors = append(allErrors.Errors, err)
			}
		}
	}

	if len(allErrors.Errors) > 0 {
		return allErrors
	}

	return r.validate()
}

func (r *RuntimeConfig) validate() error {
	if r.MinInstances > r.MaxInstances {
		return fmt.Errorf("AUTOSCALING_MIN_INSTANCES (%d) must not exceed AUTOSCALING_MAX_INSTANCES (%d)",
			r.MinInstances, r.MaxInstances)
	}

	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("AUTOSCALING_CONFIDENCE_THRESHOLD (%v) must be within [0, 1]", r.ConfidenceThreshold)
	}

	if r.RetryCount < 1 {
		return fmt.Errorf("AUTOSCALING_RETRY_COUNT (%d) must be at least 1", r.RetryCount)
	}

	return nil
}

// EngineConfig converts the env surface into the engine's policy surface.
func (r RuntimeConfig) EngineConfig() EngineConfig {
	return EngineConfig{
		CooldownDuration:    r.CooldownDuration,
		ConfidenceThreshold: r.ConfidenceThreshold,
		RetryCount:          r.RetryCount,
		RetryBaseDelay:      r.RetryBaseDelay,
		RetryCapDelay:       r.RetryCapDelay,
		MetricsLookback:     r.MetricsLookback,
		MetricsInterval:     r.MetricsInterval,
		DryRun:              r.DryRun,
	}
}

// GroupKeyAndID returns the platform-appropriate log key and resource ID.
func (r RuntimeConfig) GroupKeyAndID() (string, string) {
	switch {
	case r.AzureVMSSResourceID != "":
		return "vmss_resource_id", r.AzureVMSSResourceID
	case r.GCPIGMSelfLink != "":
		return "igm_self_link", r.GCPIGMSelfLink
	default:
		return "asg_arn", r.AutoscalingGroupARN
	}
}
