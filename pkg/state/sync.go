// Package state merges the two asynchronous feeds a device produces, HTTP
// polling and UPnP eventing, into one coherent player state. Each feed
// writes timestamped per-field values into its own store; every write
// triggers a merge that resolves conflicts per field using the active
// profile's source preferences with freshness-window fallbacks.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkplay-community/linkplay-go/pkg/artwork"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

// TimestampedField is one observed value with its provenance. Timestamps
// are assigned at write time; freshness is judged against the clock at
// merge time, not at update time.
type TimestampedField struct {
	Value  any
	Source model.UpdateSource
	At     time.Time
}

// policy is the merge rule for one field: which store to prefer and how
// long its values stay fresh. A zero window means the value never goes
// stale.
type policy struct {
	preferred profile.Preference
	window    time.Duration
}

// legacyPolicies is the default merge table, applied when the active
// profile has no per-field override. UPnP wins on fast-moving playback
// fields while its events are recent; HTTP wins on metadata, which UPnP
// renditions of often lag or truncate.
var legacyPolicies = map[model.Field]policy{
	model.FieldPlayState: {profile.PreferUPnP, 5 * time.Second},
	model.FieldPosition:  {profile.PreferUPnP, 2 * time.Second},
	model.FieldDuration:  {profile.PreferUPnP, 0},
	model.FieldVolume:    {profile.PreferUPnP, 10 * time.Second},
	model.FieldMuted:     {profile.PreferUPnP, 10 * time.Second},
	model.FieldTitle:     {profile.PreferHTTP, 30 * time.Second},
	model.FieldArtist:    {profile.PreferHTTP, 30 * time.Second},
	model.FieldAlbum:     {profile.PreferHTTP, 30 * time.Second},
	model.FieldImageURL:  {profile.PreferHTTP, 30 * time.Second},
	model.FieldSource:    {profile.PreferHTTP, 60 * time.Second},
}

// defaultPolicy covers fields outside the table. They arrive over HTTP
// only in practice, so the preference rarely matters.
var defaultPolicy = policy{profile.PreferHTTP, 0}

// Synchronizer keeps the http and upnp stores and the last published
// merged state for one device. All methods are safe for concurrent use;
// the merge itself is atomic, and last-write-wins per field per source is
// the contract when callers race.
type Synchronizer struct {
	mu      sync.Mutex
	profile profile.Profile

	httpState map[model.Field]TimestampedField
	upnpState map[model.Field]TimestampedField

	merged     map[model.Field]any
	positionAt time.Time

	now func() time.Time
	log zerolog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock substitutes the time source. Tests use it to step through
// freshness windows deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithLogger attaches a logger for merge diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Synchronizer) { s.log = log }
}

// New returns an empty Synchronizer using the legacy merge table until a
// profile is installed.
func New(opts ...Option) *Synchronizer {
	s := &Synchronizer{
		httpState: make(map[model.Field]TimestampedField),
		upnpState: make(map[model.Field]TimestampedField),
		merged:    make(map[model.Field]any),
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetProfile installs the device profile whose StateSources override the
// legacy merge table. Takes effect on the next merge.
func (s *Synchronizer) SetProfile(p profile.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
}

// UpdateFromHTTP stores each field of the patch into the http store with
// the current time, re-merges, and returns the merged fields that changed.
func (s *Synchronizer) UpdateFromHTTP(patch model.StatusPatch) []model.Field {
	return s.apply(patch, model.SourceHTTP)
}

// UpdateFromUPnP stores each field of the patch into the upnp store with
// the current time, re-merges, and returns the merged fields that changed.
func (s *Synchronizer) UpdateFromUPnP(patch model.StatusPatch) []model.Field {
	return s.apply(patch, model.SourceUPnP)
}

// UpdatePropagated stores master-pushed fields into the http store tagged
// as propagated, which makes them win over slave-local updates for the
// metadata fields. Used by group metadata propagation only.
func (s *Synchronizer) UpdatePropagated(patch model.StatusPatch) []model.Field {
	return s.apply(patch, model.SourcePropagated)
}

func (s *Synchronizer) apply(patch model.StatusPatch, src model.UpdateSource) []model.Field {
	values := patch.FieldValues()
	s.mu.Lock()
	defer s.mu.Unlock()

	store := s.httpState
	if src == model.SourceUPnP {
		store = s.upnpState
	}
	at := s.now()
	for f, v := range values {
		store[f] = TimestampedField{Value: v, Source: src, At: at}
	}
	return s.merge()
}

// merge recomputes the published state from both stores. Caller holds mu.
func (s *Synchronizer) merge() []model.Field {
	now := s.now()

	next := make(map[model.Field]any, len(s.merged))
	chosen := make(map[model.Field]TimestampedField, len(s.merged))
	for f := range s.httpState {
		if tf, ok := s.pick(f, now); ok {
			next[f] = tf.Value
			chosen[f] = tf
		}
	}
	for f := range s.upnpState {
		if _, done := next[f]; done {
			continue
		}
		if tf, ok := s.pick(f, now); ok {
			next[f] = tf.Value
			chosen[f] = tf
		}
	}

	s.preserveIdleMetadata(next)

	var changed []model.Field
	for f, v := range next {
		if old, ok := s.merged[f]; !ok || old != v {
			changed = append(changed, f)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })

	if tf, ok := chosen[model.FieldPosition]; ok {
		s.positionAt = tf.At
	}
	if containsField(changed, model.FieldPlayState) {
		ev := s.log.Debug().Interface("to", next[model.FieldPlayState])
		if prev, ok := s.merged[model.FieldPlayState]; ok {
			ev = ev.Interface("from", prev)
		}
		ev.Msg("play state changed")
	}

	s.merged = next
	return changed
}

// pick resolves one field between the two stores. Caller holds mu.
func (s *Synchronizer) pick(f model.Field, now time.Time) (TimestampedField, bool) {
	h, hok := s.httpState[f]
	u, uok := s.upnpState[f]
	if !hok && !uok {
		return TimestampedField{}, false
	}

	// Master-propagated metadata wins over anything slave-local.
	if model.IsMetadata(f) && hok && h.Source == model.SourcePropagated {
		return h, true
	}

	if hok && !uok {
		return h, true
	}
	if uok && !hok {
		return u, true
	}

	pol := s.policyFor(f)
	if pol.preferred == profile.PreferLatest {
		return newer(h, u), true
	}

	pref, other := h, u
	if pol.preferred == profile.PreferUPnP {
		pref, other = u, h
	}
	fresh := func(tf TimestampedField) bool {
		return pol.window == 0 || now.Sub(tf.At) <= pol.window
	}
	switch {
	case fresh(pref):
		return pref, true
	case fresh(other):
		return other, true
	default:
		return newer(pref, other), true
	}
}

func (s *Synchronizer) policyFor(f model.Field) policy {
	pol, ok := legacyPolicies[f]
	if !ok {
		pol = defaultPolicy
	}
	if pref, ok := s.profile.SourceFor(f); ok {
		pol.preferred = pref
	}
	return pol
}

// preserveIdleMetadata keeps last-known metadata when playback goes idle.
// Devices blank their now-playing fields between tracks and after stop;
// surfacing that would flicker every UI. Values stay until a source
// provides real ones again.
func (s *Synchronizer) preserveIdleMetadata(next map[model.Field]any) {
	ps, ok := next[model.FieldPlayState]
	if !ok || ps != model.PlayStateIdle {
		return
	}
	for _, f := range model.MetadataFields {
		old, has := s.merged[f]
		if !has || emptyMetadata(old) {
			continue
		}
		if nv, present := next[f]; !present || emptyMetadata(nv) {
			next[f] = old
		}
	}
}

// emptyMetadata reports whether v carries no real information. The artwork
// sentinel counts: a placeholder is not new art.
func emptyMetadata(v any) bool {
	str, ok := v.(string)
	if !ok {
		return false
	}
	return str == "" || str == artwork.DefaultURL
}

func newer(a, b TimestampedField) TimestampedField {
	if b.At.After(a.At) {
		return b
	}
	return a
}

func containsField(fields []model.Field, f model.Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

// PositionUpdatedAt returns when the published position was last observed
// on the wire. Position is raw, never interpolated; callers animating a
// progress bar extrapolate from this timestamp themselves.
func (s *Synchronizer) PositionUpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionAt
}

// Snapshot renders the merged state as a PlayerStatus. Fields no source
// has reported yet take their documented defaults: idle playback, solo
// role, group "0".
func (s *Synchronizer) Snapshot() model.PlayerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := model.PlayerStatus{
		PlayState: model.PlayStateIdle,
		Role:      model.RoleSolo,
		GroupID:   "0",
	}
	for f, v := range s.merged {
		switch f {
		case model.FieldPlayState:
			st.PlayState = v.(model.PlayState)
		case model.FieldPosition:
			d := v.(time.Duration)
			st.Position = &d
		case model.FieldDuration:
			d := v.(time.Duration)
			st.Duration = &d
		case model.FieldVolume:
			st.Volume = v.(int)
		case model.FieldMuted:
			st.Muted = v.(bool)
		case model.FieldTitle:
			st.Title = v.(string)
		case model.FieldArtist:
			st.Artist = v.(string)
		case model.FieldAlbum:
			st.Album = v.(string)
		case model.FieldImageURL:
			st.ImageURL = v.(string)
		case model.FieldSource:
			st.Source = v.(model.Source)
		case model.FieldShuffle:
			b := v.(bool)
			st.Shuffle = &b
		case model.FieldRepeat:
			r := v.(model.Repeat)
			st.Repeat = &r
		case model.FieldLoopMode:
			n := v.(int)
			st.LoopMode = &n
		case model.FieldEQPreset:
			st.EQPreset = v.(string)
		case model.FieldCodec:
			st.Codec = v.(string)
		case model.FieldSampleRate:
			n := v.(int)
			st.SampleRate = &n
		case model.FieldBitDepth:
			n := v.(int)
			st.BitDepth = &n
		case model.FieldBitRate:
			n := v.(int)
			st.BitRate = &n
		case model.FieldRole:
			st.Role = v.(model.Role)
		case model.FieldGroupID:
			st.GroupID = v.(string)
		case model.FieldMasterUUID:
			st.MasterUUID = v.(string)
		case model.FieldMasterIP:
			st.MasterIP = v.(string)
		}
	}
	if st.Source != model.SourceNone {
		st.SourceName = st.Source.DisplayName()
	}
	// Sources can disagree across a track change: a stale position from one
	// feed must not overshoot the new duration from the other.
	if st.Position != nil && st.Duration != nil && *st.Position > *st.Duration {
		st.Position = st.Duration
	}
	return st
}
