package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the automation engine.
type Metrics struct {
	eventsTotal      *prometheus.CounterVec
	rulesEvaluated   prometheus.Counter
	ruleMatches      prometheus.Counter
	actionsTotal     *prometheus.CounterVec
	actionRetries    prometheus.Counter
	actionDuration   *prometheus.HistogramVec
	executionsTotal  *prometheus.CounterVec
	recordFailures   prometheus.Counter
	rulesActive      prometheus.Gauge
	successRate      *prometheus.GaugeVec
	brokerConnection *prometheus.GaugeVec
	brokerReconnects *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	eventsRejected   prometheus.Counter
}

// NewMetrics creates and registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_events_total",
			Help: "Domain events submitted to the engine, by trigger",
		}, []string{"trigger"}),
		rulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_rules_evaluated_total",
			Help: "Rules whose conditions were evaluated",
		}),
		ruleMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_rule_matches_total",
			Help: "Rules whose conditions evaluated true",
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_actions_total",
			Help: "Executed actions by type and status",
		}, []string{"type", "status"}),
		actionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_action_retries_total",
			Help: "Action attempts beyond the first",
		}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automation_action_duration_seconds",
			Help:    "Wall time of an action including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_executions_total",
			Help: "Recorded rule executions by outcome",
		}, []string{"status"}),
		recordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_execution_record_failures_total",
			Help: "Executions that could not be persisted",
		}),
		rulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automation_rules_active",
			Help: "Active rules known to the engine",
		}),
		successRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "automation_success_rate_percent",
			Help: "Execution success rate per company over the stats window",
		}, []string{"company"}),
		brokerConnection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "automation_broker_connection_status",
			Help: "Broker connection status (1 connected, 0 disconnected)",
		}, []string{"broker"}),
		brokerReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_broker_reconnects_total",
			Help: "Broker reconnection attempts",
		}, []string{"broker"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automation_dispatch_queue_depth",
			Help: "Broker events waiting for a dispatch worker",
		}),
		eventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_dispatch_rejected_total",
			Help: "Broker events dropped because a dispatch queue was full or stopped",
		}),
	}

	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.rulesEvaluated,
		m.ruleMatches,
		m.actionsTotal,
		m.actionRetries,
		m.actionDuration,
		m.executionsTotal,
		m.recordFailures,
		m.rulesActive,
		m.successRate,
		m.brokerConnection,
		m.brokerReconnects,
		m.queueDepth,
		m.eventsRejected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) IncEventsTotal(trigger string) {
	m.eventsTotal.WithLabelValues(trigger).Inc()
}

func (m *Metrics) IncRulesEvaluated() {
	m.rulesEvaluated.Inc()
}

func (m *Metrics) IncRuleMatches() {
	m.ruleMatches.Inc()
}

// ObserveAction records one action outcome. status is success, failure or skipped.
func (m *Metrics) ObserveAction(actionType, status string, attempts int, d time.Duration) {
	m.actionsTotal.WithLabelValues(actionType, status).Inc()
	if attempts > 1 {
		m.actionRetries.Add(float64(attempts - 1))
	}
	if status != "skipped" {
		m.actionDuration.WithLabelValues(actionType).Observe(d.Seconds())
	}
}

func (m *Metrics) IncExecutions(success bool) {
	if success {
		m.executionsTotal.WithLabelValues("success").Inc()
		return
	}
	m.executionsTotal.WithLabelValues("failure").Inc()
}

func (m *Metrics) IncRecordFailures() {
	m.recordFailures.Inc()
}

func (m *Metrics) SetRulesActive(count float64) {
	m.rulesActive.Set(count)
}

func (m *Metrics) SetSuccessRate(companyID string, rate float64) {
	m.successRate.WithLabelValues(companyID).Set(rate)
}

func (m *Metrics) SetBrokerConnectionStatus(broker string, connected bool) {
	if connected {
		m.brokerConnection.WithLabelValues(broker).Set(1)
		return
	}
	m.brokerConnection.WithLabelValues(broker).Set(0)
}

func (m *Metrics) IncBrokerReconnects(broker string) {
	m.brokerReconnects.WithLabelValues(broker).Inc()
}

func (m *Metrics) SetQueueDepth(depth float64) {
	m.queueDepth.Set(depth)
}

func (m *Metrics) IncEventsRejected() {
	m.eventsRejected.Inc()
}

// MetricsCollector periodically refreshes gauges that are derived from
// state rather than from events.
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	samplers []func(*Metrics)
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewMetricsCollector creates a collector that runs samplers every interval.
func NewMetricsCollector(m *Metrics, interval time.Duration, samplers ...func(*Metrics)) *MetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MetricsCollector{
		metrics:  m,
		interval: interval,
		samplers: samplers,
		stop:     make(chan struct{}),
	}
}

// Start samples once immediately and then on every tick.
func (c *MetricsCollector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sample()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sample()
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *MetricsCollector) sample() {
	for _, s := range c.samplers {
		s(c.metrics)
	}
}

// Stop halts the collector and waits for the sampling goroutine to exit.
func (c *MetricsCollector) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
