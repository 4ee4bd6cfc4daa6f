package ifaces

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
)

// Autoscaling is an interface which mocks the subset of the AWS Auto Scaling
// client that the backend uses.
//
//go:generate mockery --inpackage --name Autoscaling --filename mock_autoscaling.go
type Autoscaling interface {
	DescribeAutoScalingGroups(context.Context, *autoscaling.DescribeAutoScalingGroupsInput, ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(context.Context, *autoscaling.SetDesiredCapacityInput, ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
}

// EC2 is an interface which mocks the subset of the EC2 client that the
// backend uses to discover the instance type of the group.
//
//go:generate mockery --inpackage --name EC2 --filename mock_ec2.go
type EC2 interface {
	DescribeInstances(context.Context, *ec2.DescribeInstancesInput, ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// CloudWatch is an interface which mocks the subset of the CloudWatch client
// that the backend uses to fetch metric statistics.
//
//go:generate mockery --inpackage --name CloudWatch --filename mock_cloudwatch.go
type CloudWatch interface {
	GetMetricStatistics(context.Context, *cloudwatch.GetMetricStatisticsInput, ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}
