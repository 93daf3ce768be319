package hooks

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricNamespace is the CloudWatch namespace for hook execution metrics.
const MetricNamespace = "SaasKit/Hooks"

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// StatsPublisher periodically exports the manager's accumulated execution
// statistics to CloudWatch.
//
// Metrics emitted per (entity, hook type) chain:
//   - HookExecutionCount: Dims {Entity, HookType}
//   - HookAverageDuration (ms): Dims {Entity, HookType}
type StatsPublisher struct {
	client  CloudWatchClient
	manager *Manager
	logger  *slog.Logger
}

// NewStatsPublisher creates a StatsPublisher over the given manager.
func NewStatsPublisher(client CloudWatchClient, manager *Manager, logger *slog.Logger) *StatsPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsPublisher{client: client, manager: manager, logger: logger}
}

// Publish pushes one datum pair per executed chain. Publish failures are
// logged and swallowed; metrics export must never affect hook execution.
func (p *StatsPublisher) Publish(ctx context.Context) {
	stats := p.manager.AllStats()
	if len(stats) == 0 {
		return
	}

	var data []cwtypes.MetricDatum
	for key, s := range stats {
		entity, hookType, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		dims := []cwtypes.Dimension{
			{Name: aws.String("Entity"), Value: aws.String(entity)},
			{Name: aws.String("HookType"), Value: aws.String(hookType)},
		}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("HookExecutionCount"),
				Value:      aws.Float64(float64(s.ExecutionCount)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("HookAverageDuration"),
				Value:      aws.Float64(float64(s.AverageDuration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		)
	}

	// PutMetricData caps a request at 20 data points.
	const batchSize = 20
	for start := 0; start < len(data); start += batchSize {
		end := start + batchSize
		if end > len(data) {
			end = len(data)
		}
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(MetricNamespace),
			MetricData: data[start:end],
		}
		if _, err := p.client.PutMetricData(ctx, input); err != nil {
			p.logger.Error("failed to publish hook stats",
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
