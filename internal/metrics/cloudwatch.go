package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "liqrelay/config"
	"liqrelay/logger"
)

// PutMetricData accepts at most this many datums per call.
const maxDatumsPerCall = 1000

type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type datumKey struct {
	component string
	name      string
	exchange  string
}

type datumValue struct {
	value float64
	gauge bool
}

// CloudWatchPublisher aggregates emitted metrics in memory and publishes the
// totals on every Flush: counters are summed, gauges keep the last value.
type CloudWatchPublisher struct {
	client    cloudWatchAPI
	namespace string
	region    string

	mu      sync.Mutex
	pending map[datumKey]*datumValue
	log     *logger.Entry
}

// NewCloudWatchPublisher loads the AWS configuration, preferring static
// credentials when both keys are configured.
func NewCloudWatchPublisher(ctx context.Context, cfg appconfig.CloudWatchConfig) (*CloudWatchPublisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	p := newCloudWatchPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Namespace)
	p.region = awsCfg.Region
	p.log.WithFields(logger.Fields{
		"region":    p.region,
		"namespace": p.namespace,
	}).Info("initialized CloudWatch client")
	return p, nil
}

func newCloudWatchPublisher(client cloudWatchAPI, namespace string) *CloudWatchPublisher {
	if namespace == "" {
		namespace = "LiqRelay"
	}
	return &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
		pending:   make(map[datumKey]*datumValue),
		log:       logger.GetLogger().WithComponent("cloudwatch"),
	}
}

// Handle is a MetricHandler.
func (p *CloudWatchPublisher) Handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	key := datumKey{component: m.Component, name: m.Name, exchange: stringField(m.Fields, "exchange")}

	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.pending[key]
	if !ok {
		cur = &datumValue{gauge: m.Type == TypeGauge}
		p.pending[key] = cur
	}
	if cur.gauge {
		cur.value = value
	} else {
		cur.value += value
	}
}

// Flush publishes and resets the aggregated values. Gauges are published
// once and then forgotten until they are emitted again.
func (p *CloudWatchPublisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return nil
	}
	snapshot := p.pending
	p.pending = make(map[datumKey]*datumValue, len(snapshot))
	p.mu.Unlock()

	keys := make([]datumKey, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		if keys[i].component != keys[j].component {
			return keys[i].component < keys[j].component
		}
		return keys[i].exchange < keys[j].exchange
	})

	now := timeNow()
	data := make([]cwtypes.MetricDatum, 0, len(keys))
	for _, k := range keys {
		dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(k.component)}}
		if k.exchange != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String("exchange"), Value: aws.String(k.exchange)})
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(k.name),
			Dimensions: dims,
			Timestamp:  aws.Time(now),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(snapshot[k].value),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		if _, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data[start:end],
		}); err != nil {
			return fmt.Errorf("put metric data: %w", err)
		}
	}

	p.log.WithField("datums", len(data)).Debug("published metrics to CloudWatch")
	return nil
}

// Run flushes every interval until ctx ends, then flushes once more.
func (p *CloudWatchPublisher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Flush(flushCtx); err != nil {
				p.log.WithError(err).Warn("failed to publish final CloudWatch metrics")
			}
			cancel()
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.log.WithError(err).Warn("failed to publish CloudWatch metrics")
			}
		}
	}
}
