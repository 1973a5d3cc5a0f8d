package prometheus

import (
	"errors"
	"fmt"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	asyncruntime "github.com/corewind/go-async-runtime"
)

// SnapshotProvider is the runtime surface the collector scrapes. It is
// satisfied by *asyncruntime.Runtime.
type SnapshotProvider interface {
	Stats() asyncruntime.RuntimeStats
	QueueDepths() (global int, locals []int)
	PendingIO() int64
	PendingTimers() int
	Workers() int
}

var _ SnapshotProvider = (*asyncruntime.Runtime)(nil)

// RuntimeCollector exposes runtime counters and queue depths as Prometheus
// metrics. Snapshots are taken at scrape time, so no background polling
// goroutine is needed; every read is a handful of atomic loads.
type RuntimeCollector struct {
	provider SnapshotProvider

	spawnedDesc       *prom.Desc
	completedDesc     *prom.Desc
	reactorEventsDesc *prom.Desc
	timerExpiredDesc  *prom.Desc
	ioSubmittedDesc   *prom.Desc
	parksDesc         *prom.Desc
	unparksDesc       *prom.Desc
	pendingIODesc     *prom.Desc
	pendingTimersDesc *prom.Desc
	queueDepthDesc    *prom.Desc
	workersDesc       *prom.Desc
}

var _ prom.Collector = (*RuntimeCollector)(nil)

// NewRuntimeCollector creates and registers a collector for the given
// runtime. A nil registerer means prometheus.DefaultRegisterer; an empty
// namespace defaults to "asyncruntime". Registering the same namespace on
// the same registry twice reuses the existing collector.
func NewRuntimeCollector(namespace string, reg prom.Registerer, provider SnapshotProvider) (*RuntimeCollector, error) {
	if provider == nil {
		return nil, errors.New("nil snapshot provider")
	}
	if namespace == "" {
		namespace = "asyncruntime"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	c := &RuntimeCollector{
		provider: provider,
		spawnedDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "tasks_spawned_total"),
			"Total number of tasks accepted by spawn.", nil, nil),
		completedDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "tasks_completed_total"),
			"Total number of tasks that finished.", nil, nil),
		reactorEventsDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "reactor_events_total"),
			"Total number of readiness events delivered by the reactor.", nil, nil),
		timerExpiredDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "timer_expirations_total"),
			"Total number of timer deadlines that fired.", nil, nil),
		ioSubmittedDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "io_submitted_total"),
			"Total number of successful io await registrations.", nil, nil),
		parksDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "parks_total"),
			"Total number of task suspensions.", nil, nil),
		unparksDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "unparks_total"),
			"Total number of wakeups delivered to parked tasks.", nil, nil),
		pendingIODesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "pending_io"),
			"Outstanding reactor registrations.", nil, nil),
		pendingTimersDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "pending_timers"),
			"Pending timer heap entries.", nil, nil),
		queueDepthDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "queue_depth"),
			"Approximate ready queue depth.", []string{"queue"}, nil),
		workersDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "workers"),
			"Number of worker goroutines.", nil, nil),
	}
	return registerCollector(reg, c)
}

// Describe implements prometheus.Collector.
func (c *RuntimeCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.spawnedDesc
	ch <- c.completedDesc
	ch <- c.reactorEventsDesc
	ch <- c.timerExpiredDesc
	ch <- c.ioSubmittedDesc
	ch <- c.parksDesc
	ch <- c.unparksDesc
	ch <- c.pendingIODesc
	ch <- c.pendingTimersDesc
	ch <- c.queueDepthDesc
	ch <- c.workersDesc
}

// Collect implements prometheus.Collector.
func (c *RuntimeCollector) Collect(ch chan<- prom.Metric) {
	stats := c.provider.Stats()
	ch <- prom.MustNewConstMetric(c.spawnedDesc, prom.CounterValue, float64(stats.Spawned))
	ch <- prom.MustNewConstMetric(c.completedDesc, prom.CounterValue, float64(stats.Completed))
	ch <- prom.MustNewConstMetric(c.reactorEventsDesc, prom.CounterValue, float64(stats.ReactorEvents))
	ch <- prom.MustNewConstMetric(c.timerExpiredDesc, prom.CounterValue, float64(stats.TimerExpirations))
	ch <- prom.MustNewConstMetric(c.ioSubmittedDesc, prom.CounterValue, float64(stats.IOSubmitted))
	ch <- prom.MustNewConstMetric(c.parksDesc, prom.CounterValue, float64(stats.Parks))
	ch <- prom.MustNewConstMetric(c.unparksDesc, prom.CounterValue, float64(stats.Unparks))

	ch <- prom.MustNewConstMetric(c.pendingIODesc, prom.GaugeValue, float64(c.provider.PendingIO()))
	ch <- prom.MustNewConstMetric(c.pendingTimersDesc, prom.GaugeValue, float64(c.provider.PendingTimers()))
	ch <- prom.MustNewConstMetric(c.workersDesc, prom.GaugeValue, float64(c.provider.Workers()))

	global, locals := c.provider.QueueDepths()
	ch <- prom.MustNewConstMetric(c.queueDepthDesc, prom.GaugeValue, float64(global), "global")
	for i, depth := range locals {
		ch <- prom.MustNewConstMetric(c.queueDepthDesc, prom.GaugeValue, float64(depth), "worker_"+strconv.Itoa(i))
	}
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
