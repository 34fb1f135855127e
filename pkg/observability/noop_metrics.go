package observability

import "time"

// NoopMetricsClient is a MetricsClient that records nothing. It is the
// default when metrics are disabled in configuration.
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a new NoopMetricsClient
func NewNoopMetricsClient() MetricsClient { return &NoopMetricsClient{} }

// RecordCounter implements MetricsClient.RecordCounter
func (c *NoopMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {}

// RecordGauge implements MetricsClient.RecordGauge
func (c *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordHistogram implements MetricsClient.RecordHistogram
func (c *NoopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}

// RecordDuration implements MetricsClient.RecordDuration
func (c *NoopMetricsClient) RecordDuration(name string, duration time.Duration, labels map[string]string) {
}

// RecordCacheOperation implements MetricsClient.RecordCacheOperation
func (c *NoopMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
}

// IncrementCounter implements MetricsClient.IncrementCounter
func (c *NoopMetricsClient) IncrementCounter(name string, value float64) {}

// Close implements MetricsClient.Close
func (c *NoopMetricsClient) Close() error { return nil }
