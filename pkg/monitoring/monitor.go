package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// ModelTierTotal 每次引擎初始化最终落在哪一层
	ModelTierTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_model_tier_total",
			Help: "Scheduling model initialisations by resulting tier",
		},
		[]string{"tier"},
	)

	TrainingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduling_training_duration_seconds",
			Help:    "Duration of scheduling model training runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"kind", "outcome"},
	)

	PlanEntriesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_plan_entries_generated_total",
			Help: "Study plan entries created by plan generation",
		},
	)

	PlanAdaptations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_plan_adaptations_total",
			Help: "Study plan adaptations by action",
		},
		[]string{"action"},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ModelTierTotal)
	prometheus.MustRegister(TrainingDuration)
	prometheus.MustRegister(PlanEntriesGenerated)
	prometheus.MustRegister(PlanAdaptations)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

// ObserveTraining 记录一次训练耗时
func ObserveTraining(kind string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TrainingDuration.WithLabelValues(kind, outcome).Observe(time.Since(start).Seconds())
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
