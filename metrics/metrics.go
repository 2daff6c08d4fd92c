// 信控运行指标，通过prometheus暴露
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

const namespace = "signal"

var (
	switchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switches_total",
			Help:      "Count of adaptive phase switches per intersection.",
		},
		[]string{"junction"},
	)
	preemptionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preemptions_total",
			Help:      "Count of emergency preemptions.",
		},
	)
	restorationCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restorations_total",
			Help:      "Count of restorations after preemption, including failed ones.",
		},
	)
	restoreFailureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_failures_total",
			Help:      "Count of restorations whose program or phase write failed.",
		},
	)
	controlErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_errors_total",
			Help:      "Count of per-intersection control failures by operation.",
		},
		[]string{"op"},
	)
	suppressedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "suppressed_junctions",
			Help:      "Number of intersections currently under preemption.",
		},
	)
	vehiclesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vehicles_in_network",
			Help:      "Number of vehicles currently in the network.",
		},
	)
	simTimeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sim_time_seconds",
			Help:      "Current simulation time.",
		},
	)
)

var (
	registry        = prometheus.NewRegistry()
	registerMetrics sync.Once
)

// Register 注册所有指标，可重复调用
func Register() {
	registerMetrics.Do(func() {
		registry.MustRegister(
			switchCounter,
			preemptionCounter,
			restorationCounter,
			restoreFailureCounter,
			controlErrorCounter,
			suppressedGauge,
			vehiclesGauge,
			simTimeGauge,
		)
	})
}

// Handler 指标HTTP处理器
func Handler() http.Handler {
	Register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func RecordSwitch(junction string) {
	switchCounter.WithLabelValues(junction).Inc()
}

func RecordPreemption() {
	preemptionCounter.Inc()
}

// RecordRestoration 记录一次恢复，failed表示恢复写入失败
func RecordRestoration(failed bool) {
	restorationCounter.Inc()
	if failed {
		restoreFailureCounter.Inc()
	}
}

// RecordControlErrors 按操作类型记录控制错误，非ControlError记为other
func RecordControlErrors(errs []error) {
	for _, err := range errs {
		op := "other"
		var ce *entity.ControlError
		if errors.As(err, &ce) {
			op = ce.Op
		}
		controlErrorCounter.WithLabelValues(op).Inc()
	}
}

// SetNetwork 记录路网状态与被接管路口数
func SetNetwork(status entity.NetworkStatus, suppressed int) {
	vehiclesGauge.Set(float64(status.Vehicles))
	simTimeGauge.Set(status.Time)
	suppressedGauge.Set(float64(suppressed))
}
