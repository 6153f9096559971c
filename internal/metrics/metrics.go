package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks the latency of coupon operations
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "coupon_operation_duration_seconds",
			Help: "Duration of coupon operations in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"operation", "status"}, // status is "success" or the failure kind
	)

	// LockContention counts named-lock acquisitions that lost to another holder
	LockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_lock_contention_total",
			Help: "Number of coupon operations rejected because the coupon mutex was held",
		},
		[]string{"operation"},
	)

	// LocksReclaimed counts stale coupon locks released after their lease ran out
	LocksReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coupon_locks_reclaimed_total",
			Help: "Number of expired coupon locks reclaimed",
		},
	)

	// CouponsAssigned counts coupons handed to users
	CouponsAssigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_assigned_total",
			Help: "Number of coupons assigned to users",
		},
		[]string{"mode"}, // random, specific, bulk_equal, bulk_random
	)
)

// RecordOperationDuration records the duration of a coupon operation
func RecordOperationDuration(operation, status string, duration float64) {
	OperationDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordLockContention records a lost try-acquire
func RecordLockContention(operation string) {
	LockContention.WithLabelValues(operation).Inc()
}

// RecordLocksReclaimed records n reclaimed locks
func RecordLocksReclaimed(n int) {
	LocksReclaimed.Add(float64(n))
}

// RecordAssigned records n coupons assigned in mode
func RecordAssigned(mode string, n int) {
	CouponsAssigned.WithLabelValues(mode).Add(float64(n))
}
