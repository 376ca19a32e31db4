package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "frames_processed_total",
		Help:      "Total number of frames run through the recognition pipeline",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "frames_dropped_total",
		Help:      "Frames skipped before recognition",
	}, []string{"reason"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "faces_detected_total",
		Help:      "Total number of primary faces extracted",
	})

	MatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "match_results_total",
		Help:      "Matcher outcomes",
	}, []string{"result"})

	AttendanceDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "attendance_decisions_total",
		Help:      "Attendance policy decisions by kind",
	}, []string{"decision"})

	EnrollmentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "enrollment_transitions_total",
		Help:      "Enrollment controller state transitions",
	}, []string{"to"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiosk",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiosk",
		Name:      "cycle_errors_total",
		Help:      "Recognition cycles that ended in an error or panic",
	}, []string{"kind"})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "gallery_signatures",
		Help:      "Number of signatures in the active gallery snapshot",
	})

	CameraRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "camera_running",
		Help:      "1 while the camera capture process is running",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiosk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiosk",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
