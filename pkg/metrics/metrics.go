package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		JobDuration, JobTotal,
		ToolDuration, LLMTokensTotal,
		WorkerBusy, StaleJobsRecovered,
		RateLimitDecisions, APIRequests,
	)
}

// JobDuration Job 执行耗时（秒）
var JobDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "engine_job_duration_seconds",
		Help:    "Job 执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"model"},
)

// JobTotal Job 总数（按最终处置）
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "engine_job_total",
		Help: "Job 总数（按处置）",
	},
	[]string{"outcome"}, // completed | failed | parked | released
)

// ToolDuration 工具调用耗时（秒）
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "engine_tool_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// LLMTokensTotal LLM 调用 token 数
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "engine_llm_tokens_total",
		Help: "LLM 调用 token 总数",
	},
	[]string{"direction"}, // prompt | completion
)

// WorkerBusy 当前正在执行的 Job 数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "engine_worker_busy",
		Help: "当前正在执行的 Job 数",
	},
	[]string{"worker_id"},
)

// StaleJobsRecovered 孤儿租约回收的 Job 数
var StaleJobsRecovered = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "engine_stale_jobs_recovered_total",
		Help: "孤儿租约回收的 Job 总数",
	},
)

// RateLimitDecisions 限流判定次数（按结果）
var RateLimitDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "engine_rate_limit_decisions_total",
		Help: "限流判定次数",
	},
	[]string{"decision"}, // allowed | denied | fail_open
)

// APIRequests API 请求数（按路径与状态码）
var APIRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "engine_api_requests_total",
		Help: "API 请求总数",
	},
	[]string{"path", "status"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
