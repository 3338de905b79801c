// Package telemetry publishes API and billing metrics to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"modelpass/internal/billing"
	"modelpass/internal/types"
)

const (
	// maxBatchSize is the PutMetricData per-call datum limit.
	maxBatchSize         = 1000
	defaultBufferSize    = 4096
	defaultFlushInterval = 30 * time.Second
	flushTimeout         = 10 * time.Second
)

// CloudWatchClient abstracts PutMetricData for tests.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is every metrics hook the service calls.
type Recorder interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
	billing.ReconcileMetrics
	billing.QuotaMetrics
	RecordBillingDrift(ctx context.Context)
}

var (
	_ Recorder = (*CloudWatchMetrics)(nil)
	_ Recorder = Noop{}
)

// CloudWatchMetrics buffers datums in memory and ships them in batches from
// Run. Recording never blocks a request: when the buffer is full the datum
// is dropped and counted.
type CloudWatchMetrics struct {
	client        CloudWatchClient
	namespace     string
	flushInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	buf     chan cwtypes.MetricDatum
	mu      sync.Mutex
	dropped int
}

// Option configures CloudWatchMetrics.
type Option func(*CloudWatchMetrics)

// WithFlushInterval sets how often Run ships buffered datums.
func WithFlushInterval(d time.Duration) Option {
	return func(m *CloudWatchMetrics) { m.flushInterval = d }
}

// WithBufferSize sets how many datums may wait between flushes.
func WithBufferSize(n int) Option {
	return func(m *CloudWatchMetrics) { m.buf = make(chan cwtypes.MetricDatum, n) }
}

// NewCloudWatchMetrics creates a collector for namespace. An empty namespace
// uses types.MetricNamespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger, opts ...Option) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &CloudWatchMetrics{
		client:        client,
		namespace:     namespace,
		flushInterval: defaultFlushInterval,
		logger:        logger,
		now:           time.Now,
		buf:           make(chan cwtypes.MetricDatum, defaultBufferSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordRequest records latency and a count for one API request.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimEndpoint, method+" "+endpoint),
		dim(types.DimStatus, status),
	}
	m.enqueue(m.datum(types.MetricAPIRequest, 1, cwtypes.StandardUnitCount, dims))
	m.enqueue(m.datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims))
}

// RecordReconcile counts one webhook reconciliation by event type and
// outcome.
func (m *CloudWatchMetrics) RecordReconcile(_ context.Context, eventType string, outcome billing.Outcome) {
	m.enqueue(m.datum(types.MetricWebhookProcessed, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		dim(types.DimEventType, eventType),
		dim(types.DimOutcome, string(outcome)),
	}))
}

// RecordQuotaExceeded counts one rejected usage write.
func (m *CloudWatchMetrics) RecordQuotaExceeded(_ context.Context, resource types.QuotaResource) {
	m.enqueue(m.datum(types.MetricQuotaExceeded, 1, cwtypes.StandardUnitCount, []cwtypes.Dimension{
		dim(types.DimResource, string(resource)),
	}))
}

// RecordBillingDrift counts one subscription whose stored state disagreed
// with the provider during a sync run.
func (m *CloudWatchMetrics) RecordBillingDrift(context.Context) {
	m.enqueue(m.datum(types.MetricBillingDrift, 1, cwtypes.StandardUnitCount, nil))
}

// Run flushes on every interval until ctx is cancelled, then flushes what is
// left. It always returns nil so it can run inside an errgroup.
func (m *CloudWatchMetrics) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			m.Flush(flushCtx)
			cancel()
			return nil
		}
	}
}

// Flush ships every buffered datum. Failed batches are logged and dropped.
func (m *CloudWatchMetrics) Flush(ctx context.Context) {
	if dropped := m.takeDropped(); dropped > 0 {
		m.logger.WarnContext(ctx, "metric buffer overflowed", "dropped", dropped)
	}

	batch := make([]cwtypes.MetricDatum, 0, maxBatchSize)
	for {
		select {
		case d := <-m.buf:
			batch = append(batch, d)
			if len(batch) == maxBatchSize {
				m.put(ctx, batch)
				batch = batch[:0:0]
			}
		default:
			if len(batch) > 0 {
				m.put(ctx, batch)
			}
			return
		}
	}
}

func (m *CloudWatchMetrics) put(ctx context.Context, batch []cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: batch,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metrics",
			"error", err.Error(),
			"namespace", m.namespace,
			"datums", len(batch),
		)
	}
}

func (m *CloudWatchMetrics) enqueue(d cwtypes.MetricDatum) {
	select {
	case m.buf <- d:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
}

func (m *CloudWatchMetrics) takeDropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.dropped
	m.dropped = 0
	return n
}

func (m *CloudWatchMetrics) datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now().UTC()),
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards every metric. It is used when ENABLE_METRICS is off.
type Noop struct{}

func (Noop) RecordRequest(string, string, string, time.Duration) {}
func (Noop) RecordReconcile(context.Context, string, billing.Outcome) {}
func (Noop) RecordQuotaExceeded(context.Context, types.QuotaResource) {}
func (Noop) RecordBillingDrift(context.Context)                         {}
