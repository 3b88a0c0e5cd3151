package monitoring

import (
	"context"
	"time"

	"checkin-system/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Total scan attempts by outcome",
		},
		[]string{"status", "sector"},
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Duration of scan validation end to end",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"event_id"},
	)

	duplicateScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_scans_total",
			Help: "Scans rejected because the ticket was already used",
		},
		[]string{"event_id"},
	)

	importRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_runs_total",
			Help: "Import runs by source and result",
		},
		[]string{"source", "status"},
	)

	importRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_records_total",
			Help: "Reconciled records by source and classification",
		},
		[]string{"source", "classification"},
	)

	chunkCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_chunk_commits_total",
			Help: "Committed store write chunks per event",
		},
		[]string{"event_id"},
	)

	chunkSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_chunk_size",
			Help:    "Records per committed store chunk",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"event_id"},
	)

	recentScanQueue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recent_scan_cache_length",
			Help: "Current recent-scan cache length per event",
		},
		[]string{"event_id"},
	)
)

// TrackScan counts one scan attempt outcome.
func TrackScan(status, sector string) {
	scansTotal.WithLabelValues(status, sector).Inc()
}

// TrackScanDuration observes end-to-end scan latency.
func TrackScanDuration(eventID string, duration time.Duration) {
	scanDuration.WithLabelValues(eventID).Observe(duration.Seconds())
}

// TrackDuplicateScan counts a rejected re-scan of a used ticket.
func TrackDuplicateScan(eventID string) {
	duplicateScans.WithLabelValues(eventID).Inc()
}

// TrackImportRun counts one feed run outcome.
func TrackImportRun(source, status string) {
	importRuns.WithLabelValues(source, status).Inc()
}

// TrackImportRecords counts the classifications of one reconciliation
// pass.
func TrackImportRecords(source string, stats models.ReconcileStats) {
	importRecords.WithLabelValues(source, "new").Add(float64(stats.New))
	importRecords.WithLabelValues(source, "existing").Add(float64(stats.Existing))
	importRecords.WithLabelValues(source, "updated").Add(float64(stats.Updated))
}

// TrackChunkCommit records one committed store write chunk.
func TrackChunkCommit(eventID string, records int) {
	chunkCommits.WithLabelValues(eventID).Inc()
	chunkSize.WithLabelValues(eventID).Observe(float64(records))
}

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collectScanCacheMetrics(context.Background())
	}
}

func (m *Monitor) collectScanCacheMetrics(ctx context.Context) {
	keys, _ := m.redis.Keys(ctx, "scans:recent:*").Result()
	for _, key := range keys {
		eventID := key[len("scans:recent:"):]
		length, _ := m.redis.LLen(ctx, key).Result()
		recentScanQueue.WithLabelValues(eventID).Set(float64(length))
	}
}
