// Package model defines the canonical types shared across the control plane:
// device identity, playback state, and the field keys used by the state
// synchronizer. Everything here is transport-agnostic; raw device payloads
// are converted into these types by the normalize package and never leak
// past it.
package model

import "time"

// PlayState is the canonical playback state. Device firmwares report a wide
// set of aliases ("stopped", "loading", "NO_MEDIA_PRESENT", ...) which the
// normalizer collapses into these four values.
type PlayState string

const (
	PlayStatePlay      PlayState = "play"
	PlayStatePause     PlayState = "pause"
	PlayStateIdle      PlayState = "idle"
	PlayStateBuffering PlayState = "buffering"
)

// Valid reports whether s is one of the canonical play states.
func (s PlayState) Valid() bool {
	switch s {
	case PlayStatePlay, PlayStatePause, PlayStateIdle, PlayStateBuffering:
		return true
	}
	return false
}

// Role is the device's position in a multiroom group, derived from the
// authoritative group info reported by the device itself (never from local
// bookkeeping).
type Role string

const (
	RoleSolo   Role = "solo"
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Repeat is the canonical repeat mode.
type Repeat string

const (
	RepeatOff Repeat = "off"
	RepeatOne Repeat = "one"
	RepeatAll Repeat = "all"
)

// Field identifies one synchronized state field. The synchronizer keeps a
// timestamped value per field per source and merges them per the profile's
// source preferences.
type Field string

const (
	FieldPlayState  Field = "play_state"
	FieldPosition   Field = "position"
	FieldDuration   Field = "duration"
	FieldVolume     Field = "volume"
	FieldMuted      Field = "muted"
	FieldTitle      Field = "title"
	FieldArtist     Field = "artist"
	FieldAlbum      Field = "album"
	FieldImageURL   Field = "image_url"
	FieldSource     Field = "source"
	FieldShuffle    Field = "shuffle"
	FieldRepeat     Field = "repeat"
	FieldLoopMode   Field = "loop_mode"
	FieldEQPreset   Field = "eq_preset"
	FieldCodec      Field = "codec"
	FieldSampleRate Field = "sample_rate"
	FieldBitDepth   Field = "bit_depth"
	FieldBitRate    Field = "bit_rate"
	FieldRole       Field = "role"
	FieldGroupID    Field = "group_id"
	FieldMasterUUID Field = "master_uuid"
	FieldMasterIP   Field = "master_ip"
)

// MetadataFields are the fields covered by master propagation and by the
// idle-transition preservation rule.
var MetadataFields = []Field{FieldTitle, FieldArtist, FieldAlbum, FieldImageURL}

// IsMetadata reports whether f is one of the propagated metadata fields.
func IsMetadata(f Field) bool {
	for _, m := range MetadataFields {
		if f == m {
			return true
		}
	}
	return false
}

// UpdateSource tags where a field value came from.
type UpdateSource string

const (
	SourceHTTP UpdateSource = "http"
	SourceUPnP UpdateSource = "upnp"
	// SourcePropagated marks metadata pushed from a group master into a
	// slave's synchronizer. It wins over slave-local updates for metadata.
	SourcePropagated UpdateSource = "propagated"
)

// PlayerStatus is the fully merged, caller-facing view of one device.
// Pointer fields are nil when the device has not reported a value yet;
// Position and Duration carry raw device values, never estimates.
type PlayerStatus struct {
	PlayState PlayState
	Position  *time.Duration
	Duration  *time.Duration

	Volume int
	Muted  bool

	Title    string
	Artist   string
	Album    string
	ImageURL string

	Source     Source
	SourceName string

	Shuffle  *bool
	Repeat   *Repeat
	LoopMode *int

	EQPreset   string
	Codec      string
	SampleRate *int
	BitDepth   *int
	BitRate    *int

	Role       Role
	GroupID    string
	MasterUUID string
	MasterIP   string
}

// TrackID identifies the current track for change detection (title+artist
// tuple per the refresh contract).
func (s PlayerStatus) TrackID() string {
	return s.Title + "\x00" + s.Artist
}

// StatusPatch is the typed output of the parser and the input to the
// synchronizer. A nil field means "not reported in this payload" and leaves
// the stored value untouched; a set field overwrites it.
type StatusPatch struct {
	PlayState *PlayState
	Position  *time.Duration
	Duration  *time.Duration

	Volume *int
	Muted  *bool

	Title    *string
	Artist   *string
	Album    *string
	ImageURL *string

	Source *Source

	Shuffle  *bool
	Repeat   *Repeat
	LoopMode *int

	EQPreset *string
	Codec    *string

	SampleRate *int
	BitDepth   *int
	BitRate    *int

	Role       *Role
	GroupID    *string
	MasterUUID *string
	MasterIP   *string
}

// IsEmpty reports whether the patch carries no fields at all.
func (p *StatusPatch) IsEmpty() bool {
	return p == nil || len(p.FieldValues()) == 0
}

// FieldValues expands the patch into (field, value) pairs for the
// synchronizer. Only set fields appear.
func (p *StatusPatch) FieldValues() map[Field]any {
	out := make(map[Field]any)
	if p == nil {
		return out
	}
	if p.PlayState != nil {
		out[FieldPlayState] = *p.PlayState
	}
	if p.Position != nil {
		out[FieldPosition] = *p.Position
	}
	if p.Duration != nil {
		out[FieldDuration] = *p.Duration
	}
	if p.Volume != nil {
		out[FieldVolume] = *p.Volume
	}
	if p.Muted != nil {
		out[FieldMuted] = *p.Muted
	}
	if p.Title != nil {
		out[FieldTitle] = *p.Title
	}
	if p.Artist != nil {
		out[FieldArtist] = *p.Artist
	}
	if p.Album != nil {
		out[FieldAlbum] = *p.Album
	}
	if p.ImageURL != nil {
		out[FieldImageURL] = *p.ImageURL
	}
	if p.Source != nil {
		out[FieldSource] = *p.Source
	}
	if p.Shuffle != nil {
		out[FieldShuffle] = *p.Shuffle
	}
	if p.Repeat != nil {
		out[FieldRepeat] = *p.Repeat
	}
	if p.LoopMode != nil {
		out[FieldLoopMode] = *p.LoopMode
	}
	if p.EQPreset != nil {
		out[FieldEQPreset] = *p.EQPreset
	}
	if p.Codec != nil {
		out[FieldCodec] = *p.Codec
	}
	if p.SampleRate != nil {
		out[FieldSampleRate] = *p.SampleRate
	}
	if p.BitDepth != nil {
		out[FieldBitDepth] = *p.BitDepth
	}
	if p.BitRate != nil {
		out[FieldBitRate] = *p.BitRate
	}
	if p.Role != nil {
		out[FieldRole] = *p.Role
	}
	if p.GroupID != nil {
		out[FieldGroupID] = *p.GroupID
	}
	if p.MasterUUID != nil {
		out[FieldMasterUUID] = *p.MasterUUID
	}
	if p.MasterIP != nil {
		out[FieldMasterIP] = *p.MasterIP
	}
	return out
}

// Ptr is a shorthand for taking the address of a literal when building
// patches in tests and parsers.
func Ptr[T any](v T) *T { return &v }
