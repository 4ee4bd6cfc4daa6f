package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scalemind/autoscalr/internal/ifaces"
)

// awsMetric describes where one dimension's data lives in CloudWatch. CPU
// and network are EC2 platform metrics; memory requires the CloudWatch
// agent, whose namespace produces no datapoints when the agent is absent.
type awsMetric struct {
	Namespace string
	Name      string
}

var awsMetrics = map[Dimension]awsMetric{
	DimensionCPU:        {Namespace: "AWS/EC2", Name: "CPUUtilization"},
	DimensionMemory:     {Namespace: "CWAgent", Name: "mem_used_percent"},
	DimensionNetworkIn:  {Namespace: "AWS/EC2", Name: "NetworkIn"},
	DimensionNetworkOut: {Namespace: "AWS/EC2", Name: "NetworkOut"},
}

// AWSBackend implements ComputeBackend and MetricsSource against an EC2 Auto
// Scaling group.
type AWSBackend struct {
	// Clients.
	Autoscaling ifaces.Autoscaling
	EC2         ifaces.EC2
	CloudWatch  ifaces.CloudWatch

	// Configuration.
	GroupARN     string
	GroupName    string
	MinInstances uint32
	MaxInstances uint32

	// Telemetry.
	Tracer trace.Tracer
}

// NewAWSBackend creates a backend for the ASG named by the ARN in the
// config. When LLMTokenSecretName is set, the model API token is fetched
// from SSM Parameter Store here, once.
func NewAWSBackend(ctx context.Context, cfg *RuntimeConfig) (*AWSBackend, string, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.AutoscalingRegion))
	if err != nil {
		return nil, "", fmt.Errorf("could not load AWS configuration: %w", err)
	}

	otelaws.AppendMiddlewares(&awsConfig.APIOptions)

	var apiToken string
	if cfg.LLMTokenSecretName != "" {
		ssmClient := ssm.NewFromConfig(awsConfig)

		output, err := ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(cfg.LLMTokenSecretName),
			WithDecryption: aws.Bool(true),
		})

		if err != nil {
			return nil, "", fmt.Errorf("could not get model API token from SSM: %w", err)
		} else if output.Parameter == nil || output.Parameter.Value == nil {
			return nil, "", errors.New("could not find model API token value in SSM")
		}

		apiToken = *output.Parameter.Value
	}

	arnParts := strings.Split(cfg.AutoscalingGroupARN, "/")
	if len(arnParts) != 2 {
		return nil, "", fmt.Errorf("could not parse autoscaling group ARN")
	}

	return &AWSBackend{
		Autoscaling:  autoscaling.NewFromConfig(awsConfig),
		EC2:          ec2.NewFromConfig(awsConfig),
		CloudWatch:   cloudwatch.NewFromConfig(awsConfig),
		GroupARN:     cfg.AutoscalingGroupARN,
		GroupName:    arnParts[1],
		MinInstances: cfg.MinInstances,
		MaxInstances: cfg.MaxInstances,
		Tracer:       otel.Tracer("github.com/scalemind/autoscalr/internal/aws"),
	}, apiToken, nil
}

// GetTopology returns the current ASG capacity. Unlike the other providers,
// the group itself carries min/max sizes; the configured bounds are
// intersected with them so that neither source can widen the other.
func (b *AWSBackend) GetTopology(ctx context.Context) (*Topology, error) {
	ctx, span := b.Tracer.Start(ctx, "aws.asg.describe")
	defer span.End()

	groups, err := b.Autoscaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{b.GroupName},
	})
	if err != nil {
		return nil, fmt.Errorf("could not describe autoscaling group: %w", err)
	}

	if len(groups.AutoScalingGroups) != 1 {
		return nil, fmt.Errorf("could not find autoscaling group %q", b.GroupName)
	}

	group := groups.AutoScalingGroups[0]

	if group.DesiredCapacity == nil {
		return nil, errors.New("autoscaling group has no desired capacity")
	}

	topology := &Topology{
		Identity:        b.GroupARN,
		CurrentCapacity: uint32(*group.DesiredCapacity),
		MinInstances:    b.MinInstances,
		MaxInstances:    b.MaxInstances,
	}

	if group.MinSize != nil && uint32(*group.MinSize) > topology.MinInstances {
		topology.MinInstances = uint32(*group.MinSize)
	}

	if group.MaxSize != nil && uint32(*group.MaxSize) < topology.MaxInstances {
		topology.MaxInstances = uint32(*group.MaxSize)
	}

	topology.VMSize = b.instanceType(ctx, group.Instances)

	span.SetAttributes(attribute.Int("current_capacity", int(topology.CurrentCapacity)))

	return topology, nil
}

// instanceType discovers the instance type from the first instance of the
// group. Best effort only: an empty group or a failed lookup leaves the
// field blank, which the prompt tolerates.
func (b *AWSBackend) instanceType(ctx context.Context, instances []astypes.Instance) string {
	for _, instance := range instances {
		if instance.InstanceId == nil {
			continue
		}

		output, err := b.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{*instance.InstanceId},
		})
		if err != nil {
			return ""
		}

		for _, reservation := range output.Reservations {
			for _, described := range reservation.Instances {
				return string(described.InstanceType)
			}
		}
	}

	return ""
}

// SetCapacity sets the desired capacity of the group. AWS treats setting the
// current value as a no-op, which keeps retries safe.
func (b *AWSBackend) SetCapacity(ctx context.Context, target uint32) error {
	ctx, span := b.Tracer.Start(ctx, "aws.asg.setDesiredCapacity")
	defer span.End()

	span.SetAttributes(attribute.Int("target", int(target)))

	_, err := b.Autoscaling.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(b.GroupName),
		DesiredCapacity:      aws.Int32(int32(target)),
	})

	if err != nil {
		return fmt.Errorf("could not set autoscaling group desired capacity: %w", err)
	}

	return nil
}

// FetchMetrics pulls group-level statistics from CloudWatch, one call per
// dimension. A dimension whose query returns no datapoints (e.g. memory
// without the CloudWatch agent installed) yields an empty series.
func (b *AWSBackend) FetchMetrics(ctx context.Context, lookback, interval time.Duration) (map[Dimension]MetricSeries, error) {
	ctx, span := b.Tracer.Start(ctx, "aws.cloudwatch.getMetricStatistics")
	defer span.End()

	end := time.Now().UTC()
	start := end.Add(-lookback)

	period := int32(interval.Seconds())
	if period < 60 {
		period = 60
	}

	out := make(map[Dimension]MetricSeries)

	for _, dimension := range Dimensions {
		metric := awsMetrics[dimension]

		output, err := b.CloudWatch.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String(metric.Namespace),
			MetricName: aws.String(metric.Name),
			Dimensions: []cwtypes.Dimension{
				{
					Name:  aws.String("AutoScalingGroupName"),
					Value: aws.String(b.GroupName),
				},
			},
			StartTime:  aws.Time(start),
			EndTime:    aws.Time(end),
			Period:     aws.Int32(period),
			Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
		})
		if err != nil {
			return nil, fmt.Errorf("could not get CloudWatch statistics for %s: %w", metric.Name, err)
		}

		var series MetricSeries
		for _, datapoint := range output.Datapoints {
			if datapoint.Timestamp == nil || datapoint.Average == nil {
				continue
			}

			series = append(series, MetricSample{
				Timestamp: *datapoint.Timestamp,
				Value:     *datapoint.Average,
			})
		}

		out[dimension] = series
	}

	span.SetAttributes(attribute.Int("dimensions", len(out)))

	return out, nil
}
