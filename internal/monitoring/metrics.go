package monitoring

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BackupsCreated counts backup rows created, by storage disk
	BackupsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_backups_created_total",
		Help: "Number of backups initiated, labeled by storage disk",
	}, []string{"disk"})

	// BackupsCompleted counts completion reports from daemons
	BackupsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_backups_completed_total",
		Help: "Number of backup completion reports, labeled by result",
	}, []string{"result"})

	// BackupRestores counts restore attempts and their reported outcomes
	BackupRestores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_backup_restores_total",
		Help: "Number of backup restore operations, labeled by phase",
	}, []string{"phase"})

	// TaskMutations counts sequencer operations
	TaskMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_schedule_task_mutations_total",
		Help: "Number of schedule task mutations, labeled by operation",
	}, []string{"operation"})

	// ScheduleRuns counts schedule executions by the runner
	ScheduleRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_schedule_runs_total",
		Help: "Number of schedule runs, labeled by result",
	}, []string{"result"})

	// DaemonRequestDuration observes outbound daemon RPC latency
	DaemonRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "panel_daemon_request_duration_seconds",
		Help:    "Latency of RPCs to node daemons",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Handler exposes the prometheus scrape endpoint as a gin handler
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
