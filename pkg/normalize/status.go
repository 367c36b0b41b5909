package normalize

import (
	"encoding/json"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

// rawPlayerStatus is the union of fields across every player_status chain
// variant. Device-status bodies (getStatusEx serving as fallback) carry the
// group fields but no playback block; both shapes decode here.
type rawPlayerStatus struct {
	Status    flexible `json:"status"`
	Mode      flexible `json:"mode"`
	Loop      flexible `json:"loop"`
	EQ        flexible `json:"eq"`
	Curpos    flexible `json:"curpos"`
	OffsetPTS flexible `json:"offset_pts"`
	Totlen    flexible `json:"totlen"`
	Title     flexible `json:"Title"`
	Artist    flexible `json:"Artist"`
	Album     flexible `json:"Album"`
	Vol       flexible `json:"vol"`
	Mute      flexible `json:"mute"`

	Group      flexible `json:"group"`
	MasterUUID flexible `json:"master_uuid"`
	MasterIP   flexible `json:"master_ip"`
}

// eqPresetNames maps the legacy numeric eq field to its preset name.
var eqPresetNames = map[int]string{
	0: "None",
	1: "Classic",
	2: "Pop",
	3: "Jazz",
	4: "Vocal",
}

// ParsePlayerStatus decodes any player_status chain variant into a typed
// patch. Fields the body does not carry stay nil; recognizable garbage in
// individual fields drops that field rather than failing the whole parse.
func ParsePlayerStatus(body []byte, scheme profile.Scheme) (model.StatusPatch, error) {
	var raw rawPlayerStatus
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.StatusPatch{}, lperr.Wrap(lperr.ErrMalformed, "normalize.player_status", err)
	}

	var patch model.StatusPatch

	if !raw.Status.Empty() {
		if state, ok := PlayState(raw.Status.String()); ok {
			patch.PlayState = &state
		}
	}

	if mode, ok := raw.Mode.Int(); ok {
		src := SourceFromMode(mode)
		patch.Source = &src
	}

	if loop, ok := raw.Loop.Int(); ok {
		patch.LoopMode = &loop
		decoded := profile.DecodeLoopMode(scheme, loop)
		patch.Shuffle = decoded.Shuffle
		patch.Repeat = decoded.Repeat
	}

	if eq, ok := raw.EQ.Int(); ok {
		if name, known := eqPresetNames[eq]; known {
			patch.EQPreset = &name
		}
	} else if !raw.EQ.Empty() {
		name := raw.EQ.String()
		patch.EQPreset = &name
	}

	pos := raw.Curpos
	if pos.Empty() {
		pos = raw.OffsetPTS
	}
	if n, ok := pos.Int64(); ok {
		if d, valid := TrackTime(n); valid {
			patch.Position = &d
		}
	}
	if n, ok := raw.Totlen.Int64(); ok {
		if d, valid := TrackTime(n); valid && d > 0 {
			patch.Duration = &d
		}
	}
	if patch.Position != nil && patch.Duration != nil && *patch.Position > *patch.Duration {
		patch.Position = patch.Duration
	}

	if !raw.Title.Empty() {
		title := DecodeText(raw.Title.String())
		patch.Title = &title
	}
	if !raw.Artist.Empty() {
		artist := DecodeText(raw.Artist.String())
		patch.Artist = &artist
	}
	if !raw.Album.Empty() {
		album := DecodeText(raw.Album.String())
		patch.Album = &album
	}

	if vol, ok := raw.Vol.Int(); ok {
		clamped := ClampVolume(vol)
		patch.Volume = &clamped
	}
	if muted, ok := raw.Mute.Bool(); ok {
		patch.Muted = &muted
	}

	if !raw.Group.Empty() {
		group := raw.Group.String()
		patch.GroupID = &group
	}
	if !raw.MasterUUID.Empty() {
		uuid := raw.MasterUUID.String()
		patch.MasterUUID = &uuid
	}
	if !raw.MasterIP.Empty() {
		ip := raw.MasterIP.String()
		patch.MasterIP = &ip
	}

	return patch, nil
}
