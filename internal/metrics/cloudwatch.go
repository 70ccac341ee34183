// Package metrics provides the CloudWatch-backed MetricsSink used by the
// scheduler, recovery scanner, and worker, plus a no-op sink for tools and
// tests. Emission is fire-and-forget: a sink failure is logged and dropped,
// never surfaced to the caller.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"milestone/internal/types"
)

// Namespace is the CloudWatch namespace all metrics are published under.
const Namespace = "Milestone/Notifications"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink implements types.MetricsSink on CloudWatch.
type CloudWatchSink struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ types.MetricsSink = (*CloudWatchSink)(nil)

// NewCloudWatchSink creates a sink publishing to the Milestone namespace.
func NewCloudWatchSink(client CloudWatchClient, logger types.Logger) *CloudWatchSink {
	return &CloudWatchSink{
		client:    client,
		namespace: Namespace,
		logger:    logger,
	}
}

// IncrCounter emits a count-of-one metric with the given dimensions.
func (s *CloudWatchSink) IncrCounter(ctx context.Context, name string, dims map[string]string) {
	s.IncrCounterBy(ctx, name, 1, dims)
}

// IncrCounterBy emits a counter metric with an explicit value. Zero values
// are emitted too: a recovery sweep that recovered nothing is still a data
// point.
func (s *CloudWatchSink) IncrCounterBy(ctx context.Context, name string, value int, dims map[string]string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(float64(value)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dimensions(dims),
			},
		},
	}

	if _, err := s.client.PutMetricData(ctx, input); err != nil {
		s.logger.Error("failed to publish counter metric",
			"metric", name,
			"error", err.Error(),
		)
	}
}

// RecordDuration emits a timing metric in milliseconds.
func (s *CloudWatchSink) RecordDuration(ctx context.Context, name string, dims map[string]string, d time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(s.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dimensions(dims),
			},
		},
	}

	if _, err := s.client.PutMetricData(ctx, input); err != nil {
		s.logger.Error("failed to publish duration metric",
			"metric", name,
			"error", err.Error(),
		)
	}
}

func dimensions(dims map[string]string) []cwtypes.Dimension {
	if len(dims) == 0 {
		return nil
	}
	out := make([]cwtypes.Dimension, 0, len(dims))
	for name, value := range dims {
		out = append(out, cwtypes.Dimension{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}
	return out
}

// NoopSink discards all metrics. It is the default sink when none is
// configured, and what tests and CLI tools run with.
type NoopSink struct{}

var _ types.MetricsSink = NoopSink{}

func (NoopSink) IncrCounter(ctx context.Context, name string, dims map[string]string)               {}
func (NoopSink) IncrCounterBy(ctx context.Context, name string, value int, dims map[string]string)  {}
func (NoopSink) RecordDuration(ctx context.Context, name string, dims map[string]string, d time.Duration) {
}
