package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gridzone"

// #region prometheus-sink
// PrometheusSink exports episode records as Prometheus series.
type PrometheusSink struct {
	episodes     *prometheus.CounterVec
	earlyStops   prometheus.Counter
	reward       prometheus.Gauge
	length       prometheus.Histogram
	components   *prometheus.GaugeVec
	quality      *prometheus.GaugeVec
	stageVersion prometheus.Gauge
	params       *prometheus.GaugeVec
	loss         prometheus.Gauge
}

// NewPrometheusSink creates the collectors and registers them on reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		episodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "episodes_total",
				Help:      "Completed training episodes by curriculum phase and success.",
			},
			[]string{"phase", "success"},
		),
		earlyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "early_terminations_total",
			Help:      "Episodes that terminated before the minimum episode length.",
		}),
		reward: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "episode_reward",
			Help:      "Total reward of the last episode.",
		}),
		length: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "episode_length",
			Help:      "Episode length in steps.",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 8),
		}),
		components: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reward_component",
				Help:      "Final-step reward components of the last episode.",
			},
			[]string{"component"},
		),
		quality: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "partition_quality",
				Help:      "Partition quality metrics of the last episode.",
			},
			[]string{"metric"},
		),
		stageVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "curriculum",
			Name:      "stage_version",
			Help:      "Current curriculum stage version.",
		}),
		params: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "curriculum",
				Name:      "param",
				Help:      "Current curriculum parameters.",
			},
			[]string{"param"},
		),
		loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_loss",
			Help:      "Total loss of the last PPO update.",
		}),
	}
	for _, c := range []prometheus.Collector{
		s.episodes, s.earlyStops, s.reward, s.length, s.components, s.quality, s.stageVersion, s.params, s.loss,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Record implements Sink.
func (s *PrometheusSink) Record(_ context.Context, r EpisodeRecord) error {
	s.episodes.WithLabelValues(string(r.Phase), strconv.FormatBool(r.Success)).Inc()
	if r.EarlyTermination {
		s.earlyStops.Inc()
	}
	s.reward.Set(r.Reward)
	s.length.Observe(float64(r.Length))

	s.components.WithLabelValues("load_balance").Set(r.Components.LoadBalance)
	s.components.WithLabelValues("decoupling").Set(r.Components.Decoupling)
	s.components.WithLabelValues("power_balance").Set(r.Components.PowerBalance)

	s.quality.WithLabelValues("load_cv").Set(r.Metrics.LoadCV)
	s.quality.WithLabelValues("coupling_ratio").Set(r.Metrics.CouplingRatio)
	s.quality.WithLabelValues("connectivity").Set(r.Metrics.Connectivity)

	s.stageVersion.Set(float64(r.StageVersion))
	s.params.WithLabelValues("partition_target").Set(float64(r.Params.PartitionTarget))
	s.params.WithLabelValues("mask_relaxation").Set(r.Params.MaskRelaxation)
	s.params.WithLabelValues("lr_decay").Set(r.Params.LRDecay)
	s.params.WithLabelValues("success_scale").Set(r.Params.SuccessScale)

	if r.HasLoss {
		s.loss.Set(r.Loss)
	}
	return nil
}
// #endregion prometheus-sink
