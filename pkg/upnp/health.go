package upnp

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkplay-community/linkplay-go/pkg/model"
)

// HealthStatus classifies how reliably a device's eventing tracks reality.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// monitoredFields are the fields whose HTTP-detected changes should have a
// matching UPnP event. Position and duration are excluded: eventing only
// reports them on transitions, so silence there is normal.
var monitoredFields = map[model.Field]bool{
	model.FieldPlayState: true,
	model.FieldVolume:    true,
	model.FieldMuted:     true,
	model.FieldTitle:     true,
	model.FieldArtist:    true,
	model.FieldAlbum:     true,
}

// HealthStats is a point-in-time view of the tracker.
type HealthStats struct {
	Detected    int
	Matched     int
	Missed      int
	MissRate    float64
	Status      HealthStatus
	LastEventAt time.Time
}

const (
	defaultGrace      = 2 * time.Second
	defaultMinSamples = 3
	unhealthyAbove    = 0.5
	healthyBelow      = 0.2
)

// HealthTracker compares changes detected by HTTP polling against UPnP
// event arrivals. A change counts as matched when an event for the same
// field arrived within the grace window before the poll saw it. The
// status has hysteresis: between the two thresholds it keeps its last
// classification, and recovering from unhealthy starts the evidence over.
type HealthTracker struct {
	grace      time.Duration
	minSamples int
	now        func() time.Time
	log        zerolog.Logger

	mu          sync.Mutex
	lastEvent   map[model.Field]time.Time
	lastEventAt time.Time
	detected    int
	missed      int
	status      HealthStatus
}

// HealthOption configures a HealthTracker.
type HealthOption func(*HealthTracker)

// WithHealthClock substitutes the time source for tests.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(t *HealthTracker) { t.now = now }
}

// WithHealthLogger attaches a logger.
func WithHealthLogger(log zerolog.Logger) HealthOption {
	return func(t *HealthTracker) { t.log = log }
}

// NewHealthTracker returns a tracker that starts out unknown, which
// callers treat as healthy until there is evidence otherwise.
func NewHealthTracker(opts ...HealthOption) *HealthTracker {
	t := &HealthTracker{
		grace:      defaultGrace,
		minSamples: defaultMinSamples,
		now:        time.Now,
		log:        zerolog.Nop(),
		lastEvent:  make(map[model.Field]time.Time),
		status:     HealthUnknown,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordEvent notes that eventing just delivered values for these fields.
func (t *HealthTracker) RecordEvent(fields []model.Field) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range fields {
		if monitoredFields[f] {
			t.lastEvent[f] = now
		}
	}
	t.lastEventAt = now
}

// RecordPollChanges notes that HTTP polling observed these fields change,
// scoring each against the event history and reclassifying.
func (t *HealthTracker) RecordPollChanges(fields []model.Field) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range fields {
		if !monitoredFields[f] {
			continue
		}
		t.detected++
		last, ok := t.lastEvent[f]
		if !ok || now.Sub(last) > t.grace {
			t.missed++
		}
	}
	t.reclassify()
}

// reclassify applies the thresholds. Caller holds mu.
func (t *HealthTracker) reclassify() {
	if t.detected < t.minSamples {
		return
	}
	rate := float64(t.missed) / float64(t.detected)
	switch {
	case rate > unhealthyAbove:
		if t.status != HealthUnhealthy {
			t.log.Warn().Float64("miss_rate", rate).Int("detected", t.detected).
				Msg("eventing unhealthy, falling back to polling cadence")
		}
		t.status = HealthUnhealthy
	case rate < healthyBelow:
		if t.status == HealthUnhealthy {
			t.log.Info().Float64("miss_rate", rate).Msg("eventing recovered")
			t.detected = 0
			t.missed = 0
		}
		t.status = HealthHealthy
	}
}

// IsHealthy reports whether eventing can be relied on. Unknown counts as
// healthy: degrading needs evidence.
func (t *HealthTracker) IsHealthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status != HealthUnhealthy
}

// Stats returns the current counters and classification.
func (t *HealthTracker) Stats() HealthStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := HealthStats{
		Detected:    t.detected,
		Matched:     t.detected - t.missed,
		Missed:      t.missed,
		Status:      t.status,
		LastEventAt: t.lastEventAt,
	}
	if t.detected > 0 {
		stats.MissRate = float64(t.missed) / float64(t.detected)
	}
	return stats
}
