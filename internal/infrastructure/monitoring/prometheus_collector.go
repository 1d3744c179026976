package monitoring

import (
	"net/http"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector records conference metrics on its own registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	roomsActive   prometheus.Gauge
	roomsCreated  prometheus.Counter
	clientsActive prometheus.Gauge
	clientsLeft   *prometheus.CounterVec

	producersActive *prometheus.GaugeVec
	consumersActive *prometheus.GaugeVec

	dominantSpeakerChanges prometheus.Counter
	recomputeDuration      prometheus.Histogram
	forwardingActive       prometheus.Gauge
	forwardingMuted        prometheus.Gauge

	workerLoad         *prometheus.GaugeVec
	workerReplacements prometheus.Counter

	hlsTapsActive   *prometheus.GaugeVec
	hlsSegmentsSeen prometheus.Counter

	signalingRequests *prometheus.CounterVec
	signalingDuration *prometheus.HistogramVec
}

var _ ports.ConferenceMetrics = (*PrometheusCollector)(nil)

func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_rooms_active",
			Help: "Number of live rooms",
		}),
		roomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "huddle_rooms_created_total",
			Help: "Rooms created since start",
		}),
		clientsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_clients_active",
			Help: "Participants currently in a room",
		}),
		clientsLeft: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_clients_left_total",
			Help: "Participants that left, by reason",
		}, []string{"reason"}),

		producersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "huddle_producers_active",
			Help: "Open producers by media kind",
		}, []string{"kind"}),
		consumersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "huddle_consumers_active",
			Help: "Open consumers by media kind",
		}, []string{"kind"}),

		dominantSpeakerChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "huddle_dominant_speaker_changes_total",
			Help: "Dominant speaker events that changed the speaker list",
		}),
		recomputeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_forwarding_recompute_duration_seconds",
			Help:    "Time to compute and apply a forwarding plan",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		forwardingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_forwarding_active_producers",
			Help: "Audio producers forwarded after the last recompute",
		}),
		forwardingMuted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_forwarding_muted_producers",
			Help: "Audio producers paused after the last recompute",
		}),

		workerLoad: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "huddle_worker_load_seconds",
			Help: "Cumulative forwarding time per media worker at the last sample",
		}, []string{"worker_id"}),
		workerReplacements: factory.NewCounter(prometheus.CounterOpts{
			Name: "huddle_worker_replacements_total",
			Help: "Media workers replaced after dying",
		}),

		hlsTapsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "huddle_hls_taps_active",
			Help: "Open HLS taps by media kind",
		}, []string{"kind"}),
		hlsSegmentsSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "huddle_hls_segments_total",
			Help: "HLS segments written by the packager",
		}),

		signalingRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_signaling_requests_total",
			Help: "Signaling requests by method and result",
		}, []string{"method", "result"}),
		signalingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_signaling_request_duration_seconds",
			Help:    "Signaling request latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method"}),
	}
}

func (p *PrometheusCollector) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusCollector) RoomCreated() {
	p.roomsActive.Inc()
	p.roomsCreated.Inc()
}

func (p *PrometheusCollector) RoomDestroyed() { p.roomsActive.Dec() }
func (p *PrometheusCollector) ClientJoined()  { p.clientsActive.Inc() }

func (p *PrometheusCollector) ClientLeft(reason domain.LeaveReason) {
	p.clientsActive.Dec()
	p.clientsLeft.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusCollector) ProducerOpened(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ProducerClosed(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) ConsumerOpened(kind domain.MediaKind) {
	p.consumersActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ConsumerClosed(kind domain.MediaKind) {
	p.consumersActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) DominantSpeakerChanged() { p.dominantSpeakerChanges.Inc() }

func (p *PrometheusCollector) ForwardingRecomputed(duration time.Duration, active, muted int) {
	p.recomputeDuration.Observe(duration.Seconds())
	p.forwardingActive.Set(float64(active))
	p.forwardingMuted.Set(float64(muted))
}

func (p *PrometheusCollector) WorkerLoadSampled(workerID string, load time.Duration) {
	p.workerLoad.WithLabelValues(workerID).Set(load.Seconds())
}

func (p *PrometheusCollector) WorkerReplaced() { p.workerReplacements.Inc() }

func (p *PrometheusCollector) HLSTapOpened(kind domain.MediaKind) {
	p.hlsTapsActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) HLSTapClosed(kind domain.MediaKind) {
	p.hlsTapsActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) HLSSegmentWritten() { p.hlsSegmentsSeen.Inc() }

func (p *PrometheusCollector) SignalingRequest(method, result string, duration time.Duration) {
	p.signalingRequests.WithLabelValues(method, result).Inc()
	if duration > 0 {
		p.signalingDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// ForgetWorker drops the load series of a replaced worker.
func (p *PrometheusCollector) ForgetWorker(workerID string) {
	p.workerLoad.DeleteLabelValues(workerID)
}
