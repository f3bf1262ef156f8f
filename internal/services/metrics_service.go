package services

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	questionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policybot_questions_total",
			Help: "Questions answered, by outcome and confidence tier",
		},
		[]string{"outcome", "tier"},
	)

	answerConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policybot_answer_confidence",
			Help:    "Retrieval confidence of answered questions",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policybot_generation_duration_seconds",
			Help:    "Latency of generation calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	indexBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policybot_index_builds_total",
			Help: "Knowledge base initializations, by source and index kind",
		},
		[]string{"source", "kind"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policybot_http_requests_total",
			Help: "HTTP requests, by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policybot_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	indexedChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "policybot_indexed_chunks",
			Help: "Chunks in the active knowledge base",
		},
	)
)

// MetricsService 指标服务
type MetricsService struct{}

// NewMetricsService 创建指标服务
func NewMetricsService() *MetricsService {
	return &MetricsService{}
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAnswer 记录一次问答
func (ms *MetricsService) RecordAnswer(outcome, tier string, confidence float64) {
	questionsTotal.WithLabelValues(outcome, tier).Inc()
	if outcome == "answered" {
		answerConfidence.Observe(confidence)
	}
}

// RecordGeneration 记录生成耗时
func (ms *MetricsService) RecordGeneration(status string, elapsed time.Duration) {
	generationDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// RecordIndex 记录知识库初始化
func (ms *MetricsService) RecordIndex(source, kind string, chunks int) {
	indexBuildsTotal.WithLabelValues(source, kind).Inc()
	indexedChunks.Set(float64(chunks))
}

// RecordHTTPRequest 记录HTTP请求
func (ms *MetricsService) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
