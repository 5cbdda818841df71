// Package metrics exports controller activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/solar-hot-water/internal/session"
)

const namespace = "solarhotwater"

// Recorder observes a session and updates Prometheus collectors.
type Recorder struct {
	evaluations   prometheus.Counter
	heaterOn      prometheus.Gauge
	socPermit     prometheus.Gauge
	batterySoc    prometheus.Gauge
	power         prometheus.Gauge
	notifications *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	writeErrors   prometheus.Counter
}

var _ session.Observer = (*Recorder)(nil)

// New registers the controller metrics on the default Prometheus registerer.
func New() (*Recorder, error) {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the controller metrics on reg.
// A nil registerer defaults to the global Prometheus registerer.
func NewWithRegistry(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{}
	var err error

	if r.evaluations, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Total number of controller evaluations",
	})); err != nil {
		return nil, err
	}
	if r.heaterOn, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heater_on",
		Help:      "1 while the heater output is on",
	})); err != nil {
		return nil, err
	}
	if r.socPermit, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "soc_permit",
		Help:      "1 while the battery state of charge permits heating",
	})); err != nil {
		return nil, err
	}
	if r.batterySoc, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "battery_soc_percent",
		Help:      "Most recent battery state of charge in percent",
	})); err != nil {
		return nil, err
	}
	if r.power, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "power",
		Help:      "Most recent power reading",
	})); err != nil {
		return nil, err
	}
	if r.notifications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Status notifications emitted, by kind",
	}, []string{"kind"})); err != nil {
		return nil, err
	}
	if r.rejected, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_samples_total",
		Help:      "Samples skipped because they were not numeric, by path",
	}, []string{"path"})); err != nil {
		return nil, err
	}
	if r.writeErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "output_write_errors_total",
		Help:      "Failed writes to the output path",
	})); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds c to reg, reusing an identical collector that is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// Evaluated updates the gauges and counters for one evaluation.
func (r *Recorder) Evaluated(ev session.Evaluation) {
	r.evaluations.Inc()
	r.heaterOn.Set(boolGauge(ev.State.HeaterOn))
	r.socPermit.Set(boolGauge(ev.State.SocPermit))
	r.batterySoc.Set(ev.Sample.StateOfCharge)
	r.power.Set(ev.Sample.Power)
	if n := ev.Decision.Notification; n != nil {
		r.notifications.WithLabelValues(string(n.Kind)).Inc()
	}
	if ev.WriteErr != nil {
		r.writeErrors.Inc()
	}
}

// Rejected counts a skipped sample.
func (r *Recorder) Rejected(path string, _ error) {
	r.rejected.WithLabelValues(path).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
