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
		JobsEnqueuedTotal, JobsClaimedTotal, JobsCompletedTotal, JobsDeadLetteredTotal,
		LeasesReapedTotal, QueueDepth,
		APIRequestDuration,
		ConnectorAttemptsTotal, ConnectorDuration,
		EventsSubmittedTotal, EventsDeduplicatedTotal,
		WorkerBusy, JobExecuteDuration,
		RowsSweptTotal,
	)
}

// JobsEnqueuedTotal 入队任务总数（按租户与类型）
var JobsEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_jobs_enqueued_total",
		Help: "入队任务总数",
	},
	[]string{"tenant", "type"},
)

// JobsClaimedTotal 被认领任务总数（按租户）
var JobsClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_jobs_claimed_total",
		Help: "被认领任务总数",
	},
	[]string{"tenant"},
)

// JobsCompletedTotal 完成任务总数（按租户与终态）
var JobsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_jobs_completed_total",
		Help: "完成任务总数（按终态）",
	},
	[]string{"tenant", "status"}, // succeeded | failed | cancelled
)

// JobsDeadLetteredTotal 进入死信的任务总数
var JobsDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_jobs_dead_lettered_total",
		Help: "进入死信的任务总数",
	},
	[]string{"tenant"},
)

// LeasesReapedTotal 租约回收总数
var LeasesReapedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "jobforge_leases_reaped_total",
		Help: "租约过期被回收的任务总数",
	},
)

// QueueDepth 当前排队中的任务数（按租户）
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "jobforge_queue_depth",
		Help: "当前 status=queued 的任务数",
	},
	[]string{"tenant"},
)

// APIRequestDuration API 请求耗时（秒）
var APIRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "jobforge_api_request_duration_seconds",
		Help:    "API 请求耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "status"},
)

// ConnectorAttemptsTotal 连接器尝试总数（按状态类别）
var ConnectorAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_connector_attempts_total",
		Help: "连接器尝试总数",
	},
	[]string{"connector", "class"}, // success | rate_limited | retryable | terminal
)

// ConnectorDuration 连接器整体调用耗时（秒）
var ConnectorDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "jobforge_connector_duration_seconds",
		Help:    "连接器调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"connector"},
)

// EventsSubmittedTotal 事件提交总数
var EventsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_events_submitted_total",
		Help: "事件提交总数",
	},
	[]string{"tenant"},
)

// EventsDeduplicatedTotal 被去重吸收的事件总数
var EventsDeduplicatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_events_deduplicated_total",
		Help: "命中去重的事件总数",
	},
	[]string{"tenant"},
)

// WorkerBusy 当前正在执行的任务数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "jobforge_worker_busy",
		Help: "当前正在执行的任务数",
	},
	[]string{"worker_id"},
)

// JobExecuteDuration 单次任务执行耗时（秒），从认领后开始执行到终局化
var JobExecuteDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "jobforge_job_execute_duration_seconds",
		Help:    "单次任务执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tenant", "type"},
)

// RowsSweptTotal 保留期清扫删除的行数，按数据面分类
var RowsSweptTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobforge_retention_rows_swept_total",
		Help: "保留期清扫删除的行数",
	},
	[]string{"kind"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz /metrics 复用）
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
