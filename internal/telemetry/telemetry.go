package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
	Timer   MetricType = "timer"
)

// Metric represents a telemetry metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Collector buffers metrics for one batch run. It is safe for concurrent use.
type Collector struct {
	mu      sync.RWMutex
	metrics []Metric
	enabled bool
}

// NewCollector creates a new telemetry collector
func NewCollector(enabled bool) *Collector {
	return &Collector{enabled: enabled}
}

// Enabled reports whether metrics are being recorded.
func (c *Collector) Enabled() bool { return c.enabled }

// Counter increments a counter metric
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.addMetric(Metric{Name: name, Type: Counter, Value: value, Labels: labels, Timestamp: time.Now()})
}

// Gauge sets a gauge metric value
func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	c.addMetric(Metric{Name: name, Type: Gauge, Value: value, Labels: labels, Timestamp: time.Now()})
}

// Timer records a duration measurement
func (c *Collector) Timer(name string, duration time.Duration, labels map[string]string) {
	c.addMetric(Metric{
		Name:      name,
		Type:      Timer,
		Value:     float64(duration.Milliseconds()),
		Labels:    labels,
		Timestamp: time.Now(),
		Unit:      "ms",
	})
}

func (c *Collector) addMetric(metric Metric) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, metric)
}

// GetMetrics returns a copy of current metrics
func (c *Collector) GetMetrics() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Metric, len(c.metrics))
	copy(result, c.metrics)
	return result
}

// Summary folds buffered metrics by name: counters and timers are summed,
// gauges keep the last value.
func (c *Collector) Summary() map[string]float64 {
	out := map[string]float64{}
	for _, m := range c.GetMetrics() {
		if m.Type == Gauge {
			out[m.Name] = m.Value
			continue
		}
		out[m.Name] += m.Value
	}
	return out
}

// FlushMetrics logs the summary and clears the buffer.
func (c *Collector) FlushMetrics() error {
	summary := c.Summary()
	c.mu.Lock()
	c.metrics = c.metrics[:0]
	c.mu.Unlock()
	if len(summary) == 0 {
		return nil
	}

	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ev := log.Info().Str("name", name).Float64("value", summary[name])
		if strings.HasSuffix(name, "_duration") {
			ev = ev.Str("unit", "ms")
		}
		ev.Msg("telemetry_metric")
	}
	return nil
}

// Shutdown flushes whatever is left.
func (c *Collector) Shutdown() error {
	return c.FlushMetrics()
}

var (
	globalMu        sync.RWMutex
	globalCollector *Collector
)

// InitGlobal initializes the global telemetry collector
func InitGlobal(enabled bool) *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = NewCollector(enabled)
	return globalCollector
}

// GetGlobal returns the global collector
func GetGlobal() *Collector {
	globalMu.RLock()
	c := globalCollector
	globalMu.RUnlock()
	if c != nil {
		return c
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(false)
	}
	return globalCollector
}

// CounterGlobal increments a counter using the global collector
func CounterGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Counter(name, value, labels)
}

// GaugeGlobal sets a gauge using the global collector
func GaugeGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Gauge(name, value, labels)
}

// TimerGlobal records a timer using the global collector
func TimerGlobal(name string, duration time.Duration, labels map[string]string) {
	GetGlobal().Timer(name, duration, labels)
}

// Shutdown shuts down the global collector
func Shutdown() error {
	globalMu.RLock()
	c := globalCollector
	globalMu.RUnlock()
	if c != nil {
		return c.Shutdown()
	}
	return nil
}
