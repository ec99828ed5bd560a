// Package metrics exposes Prometheus collectors for the tuner pool, the
// stream fan-out, the capture encoder, the VOD provider core, and the
// segment cache, plus the process-wide /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TunerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iptvgw_tuner_state",
		Help: "1 if the tuner is currently in the given state, 0 otherwise.",
	}, []string{"tuner_id", "state"})

	TunerClientCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iptvgw_tuner_client_count",
		Help: "Number of fan-out clients currently attached to a tuner.",
	}, []string{"tuner_id"})

	TunerAllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_tuner_allocations_total",
		Help: "Allocate() calls by outcome (allocated, superseded, exhausted, error).",
	}, []string{"outcome"})

	FanoutClientsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iptvgw_fanout_clients",
		Help: "Current number of attached fan-out clients, by tuner.",
	}, []string{"tuner_id"})

	FanoutWriteDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_fanout_write_drops_total",
		Help: "Clients dropped because a write to them failed or was short.",
	}, []string{"tuner_id"})

	EncoderRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_encoder_restarts_total",
		Help: "CaptureEncoder restarts, by tuner and reason (hw-fallback, crash-retry).",
	}, []string{"tuner_id", "reason"})

	EncoderAbandonedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_encoder_abandoned_total",
		Help: "CaptureEncoder restart attempts exhausted; encoder abandoned and writers closed.",
	}, []string{"tuner_id"})

	ProviderStreamEntriesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iptvgw_provider_stream_entries_active",
		Help: "Active VOD StreamEntry objects held by the provider manager.",
	}, []string{"provider"})

	ProviderRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_provider_refreshes_total",
		Help: "StreamEntry URL refreshes, by provider and trigger (proactive, urgent).",
	}, []string{"provider", "trigger"})

	ProviderExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_provider_extractions_total",
		Help: "Stream URL extractions performed, by provider and outcome.",
	}, []string{"provider", "outcome"})

	SegmentCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iptvgw_segment_cache_entries",
		Help: "Current number of entries held in the segment cache.",
	})

	SegmentCacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_segment_cache_requests_total",
		Help: "Segment cache lookups, by result (hit, miss).",
	}, []string{"result"})

	EPGRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvgw_epg_refreshes_total",
		Help: "EPG ingestor refresh passes, by outcome (ok, error).",
	}, []string{"outcome"})

	EPGChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iptvgw_epg_channels",
		Help: "Number of channels present in the last successfully captured guide.",
	})
)

// Handler returns the process-wide Prometheus exposition handler, registered
// against the default registerer used by the promauto collectors above.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TunerStates lists the state labels TunerState is expected to carry, so
// callers can zero out the states a tuner is no longer in rather than
// leaving a stale gauge behind.
var TunerStates = []string{"stopped", "starting", "free", "tuning", "streaming", "error"}

// SetTunerState sets the gauge for current to 1 and every other known state
// to 0, so Grafana's "state == 1" queries never see two states lit at once.
func SetTunerState(tunerID string, current string) {
	for _, s := range TunerStates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		TunerState.WithLabelValues(tunerID, s).Set(v)
	}
}
