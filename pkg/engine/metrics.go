package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statehouse_commits_total",
		Help: "Committed transactions since process start.",
	})
	metricCommitClock = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statehouse_commit_clock",
		Help: "Latest committed commit timestamp.",
	})
	metricTxnsBegun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statehouse_txns_begun_total",
		Help: "Transactions begun since process start.",
	})
	metricTxnsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statehouse_txns_expired_total",
		Help: "Transactions expired by the sweeper.",
	})
	metricTxnsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statehouse_txns_open",
		Help: "Currently open transactions.",
	})
	metricSnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statehouse_snapshots_total",
		Help: "Snapshots written since process start.",
	})
	metricStorageErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statehouse_commit_storage_errors_total",
		Help: "Commits failed on storage errors.",
	})
	metricReplayStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "statehouse_replay_streams",
		Help: "Replay streams currently producing.",
	})
)

func init() {
	prometheus.MustRegister(
		metricCommitsTotal,
		metricCommitClock,
		metricTxnsBegun,
		metricTxnsExpired,
		metricTxnsOpen,
		metricSnapshotsTotal,
		metricStorageErrors,
		metricReplayStreams,
	)
}
