package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soundd",
			Subsystem: "scheduler",
			Name:      "jobs_submitted_total",
			Help:      "Total admitted jobs",
		},
		[]string{"tier", "kind"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soundd",
			Subsystem: "scheduler",
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal state",
		},
		[]string{"state"},
	)

	admissionRejectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soundd",
			Subsystem: "scheduler",
			Name:      "admission_rejects_total",
			Help:      "Submissions rejected at admission",
		},
		[]string{"reason"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "soundd",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Pending jobs in the queue",
		},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "soundd",
			Subsystem: "scheduler",
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock duration of engine generation calls",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	skipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "soundd",
			Subsystem: "scheduler",
			Name:      "skips_total",
			Help:      "Paid skip-to-front promotions",
		},
	)

	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soundd",
			Subsystem: "residency",
			Name:      "model_loads_total",
			Help:      "Models loaded into accelerator memory",
		},
		[]string{"kind"},
	)

	modelEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soundd",
			Subsystem: "residency",
			Name:      "model_evictions_total",
			Help:      "Models evicted to free accelerator memory",
		},
		[]string{"kind"},
	)

	residentMemMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "soundd",
			Subsystem: "residency",
			Name:      "resident_mem_mb",
			Help:      "Estimated accelerator memory held by resident models",
		},
	)
)

func init() {
	prometheus.MustRegister(
		jobsSubmittedTotal, jobsFinishedTotal, admissionRejectsTotal,
		queueDepth, generationDuration, skipsTotal,
		modelLoadsTotal, modelEvictionsTotal, residentMemMB,
	)
}
