// Package normalize turns raw device payloads into canonical typed values.
// It is pure and stateless: every function maps bytes or strings to model
// types, and nothing outside this package ever touches a raw firmware
// field name. Values are never rejected as invalid; unknown inputs come
// back as absent fields.
package normalize

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/linkplay-community/linkplay-go/pkg/artwork"
	"github.com/linkplay-community/linkplay-go/pkg/model"
)

// flexible is a JSON scalar that firmware emits as either a string or a
// bare number depending on model and version.
type flexible string

func (f *flexible) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexible(s)
		return nil
	}
	*f = flexible(data)
	return nil
}

func (f flexible) String() string { return string(f) }

func (f flexible) Empty() bool { return strings.TrimSpace(string(f)) == "" }

func (f flexible) Int() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(f)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (f flexible) Int64() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Bool accepts the firmware's 0/1 flags plus textual booleans.
func (f flexible) Bool() (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(string(f))) {
	case "1", "true", "on", "yes":
		return true, true
	case "0", "false", "off", "no":
		return false, true
	}
	return false, false
}

// Bits parses a bitmask field, accepting the usual "0x306" form as well as
// plain decimal.
func (f flexible) Bits() (uint64, bool) {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// playStateAliases collapses every observed firmware and UPnP transport
// state into the four canonical values. Stop is deliberately pause: the
// platform has no resumable stopped state, and exposing one makes callers
// restart streams from the beginning.
var playStateAliases = map[string]model.PlayState{
	"play":             model.PlayStatePlay,
	"playing":          model.PlayStatePlay,
	"pause":            model.PlayStatePause,
	"paused":           model.PlayStatePause,
	"paused_playback":  model.PlayStatePause,
	"stop":             model.PlayStatePause,
	"stopped":          model.PlayStatePause,
	"none":             model.PlayStateIdle,
	"idle":             model.PlayStateIdle,
	"no_media_present": model.PlayStateIdle,
	"load":             model.PlayStateBuffering,
	"loading":          model.PlayStateBuffering,
	"transitioning":    model.PlayStateBuffering,
	"buffering":        model.PlayStateBuffering,
}

// PlayState maps a raw status string to its canonical value. ok is false
// for states never seen in the wild; callers drop the field rather than
// guess.
func PlayState(raw string) (model.PlayState, bool) {
	state, ok := playStateAliases[strings.ToLower(strings.TrimSpace(raw))]
	return state, ok
}

// modeSources maps the numeric "mode" field to a source id. Mode 0 is the
// idle player, which has no source at all; it must never surface as a
// source called "idle".
var modeSources = map[int]model.Source{
	0:  model.SourceNone,
	1:  model.SourceAirplay,
	2:  model.SourceDLNA,
	3:  model.SourceQPlay,
	10: model.SourceWiFi,
	11: model.SourceUDisk,
	12: model.SourceWiFi,
	13: model.SourceWiFi,
	16: model.SourceTFCard,
	20: model.SourceWiFi,
	21: model.SourceUDisk,
	30: model.SourceAlarm,
	31: model.SourceSpotify,
	32: model.SourceTidal,
	40: model.SourceLineIn,
	41: model.SourceBluetooth,
	42: model.SourceUDisk,
	43: model.SourceOptical,
	44: model.SourceRCA,
	45: model.SourceCoaxial,
	46: model.SourceFM,
	47: model.SourceLineIn2,
	48: model.SourceXLR,
	49: model.SourceHDMI,
	50: model.SourceCD,
	51: model.SourceUSBDAC,
	52: model.SourceTFCard,
	53: model.SourceBluetooth,
	54: model.SourcePhono,
	56: model.SourceOptical2,
	57: model.SourceCoaxial2,
	99: model.SourceMultiroom,
}

// SourceFromMode maps the playback mode number to a stable source id.
// Unknown modes in the network range fall back to wifi; anything else is
// reported as no source.
func SourceFromMode(mode int) model.Source {
	if src, ok := modeSources[mode]; ok {
		return src
	}
	if mode > 10 && mode < 30 {
		return model.SourceWiFi
	}
	return model.SourceNone
}

// DecodeText reverses the firmware's hex encoding of metadata strings. A
// candidate must be even-length hex and decode to printable UTF-8 with at
// least one graphic rune; anything else is returned unchanged, so plain
// titles that happen to look like hex ("2020") survive.
func DecodeText(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) < 2 || len(s)%2 != 0 || !isHex(s) {
		return s
	}
	decoded, err := hex.DecodeString(s)
	if err != nil || !utf8.Valid(decoded) {
		return s
	}
	text := string(decoded)
	graphic := false
	for _, r := range text {
		if !unicode.IsGraphic(r) && r != '\n' && r != '\t' {
			return s
		}
		if unicode.IsGraphic(r) && !unicode.IsSpace(r) {
			graphic = true
		}
	}
	if !graphic {
		return s
	}
	return text
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// tenHoursMS is the µs/ms disambiguation threshold: no track runs ten
// hours, so a millisecond reading above it must be microseconds.
const tenHoursMS = 10 * 60 * 60 * 1000

// TrackTime converts a raw position or duration count to a Duration.
// Device counters are milliseconds; absurdly large values are demoted to
// microseconds per the magnitude heuristic. Negative values are dropped.
func TrackTime(raw int64) (time.Duration, bool) {
	if raw < 0 {
		return 0, false
	}
	if raw > tenHoursMS {
		raw /= 1000
	}
	return time.Duration(raw) * time.Millisecond, true
}

// ClockText parses the h:mm:ss form UPnP uses for track times. Fractional
// seconds are accepted and truncated.
func ClockText(raw string) (time.Duration, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "NOT_IMPLEMENTED" {
		return 0, false
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		s = s[:dot]
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := int64(0)
	for _, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, true
}

// artworkPlaceholders are strings firmware sends instead of leaving the
// field empty. "unknow" is the actual spelling on several releases.
var artworkPlaceholders = map[string]struct{}{
	"":         {},
	"unknow":   {},
	"unknown":  {},
	"un_known": {},
	"none":     {},
	"null":     {},
	"0":        {},
}

// ArtworkURL validates a cover-art URL, substituting the embedded-logo
// sentinel for placeholders and anything that does not parse as http(s).
func ArtworkURL(raw string) string {
	s := strings.TrimSpace(raw)
	if _, bad := artworkPlaceholders[strings.ToLower(s)]; bad {
		return artwork.DefaultURL
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return artwork.DefaultURL
	}
	return s
}

// ClampVolume forces a reported volume into [0,100].
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
