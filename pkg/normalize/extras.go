package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
)

type rawMetaData struct {
	Title       flexible `json:"title"`
	Artist      flexible `json:"artist"`
	Album       flexible `json:"album"`
	AlbumArtURI flexible `json:"albumArtURI"`
	SampleRate  flexible `json:"sampleRate"`
	BitDepth    flexible `json:"bitDepth"`
	BitRate     flexible `json:"bitRate"`
}

type rawMetaInfo struct {
	MetaData *rawMetaData `json:"metaData"`
}

// ParseMetaInfo decodes a getMetaInfo body. supported is false when the
// firmware answers without a metaData object, which is how devices that
// lack the endpoint respond.
func ParseMetaInfo(body []byte) (patch model.StatusPatch, supported bool, err error) {
	var raw rawMetaInfo
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.StatusPatch{}, false, lperr.Wrap(lperr.ErrMalformed, "normalize.meta_info", err)
	}
	if raw.MetaData == nil {
		return model.StatusPatch{}, false, nil
	}
	md := raw.MetaData

	if !md.Title.Empty() {
		title := DecodeText(md.Title.String())
		patch.Title = &title
	}
	if !md.Artist.Empty() {
		artist := DecodeText(md.Artist.String())
		patch.Artist = &artist
	}
	if !md.Album.Empty() {
		album := DecodeText(md.Album.String())
		patch.Album = &album
	}

	image := ArtworkURL(md.AlbumArtURI.String())
	patch.ImageURL = &image

	if n, ok := md.SampleRate.Int(); ok && n > 0 {
		patch.SampleRate = &n
	}
	if n, ok := md.BitDepth.Int(); ok && n > 0 {
		patch.BitDepth = &n
	}
	if n, ok := md.BitRate.Int(); ok && n > 0 {
		patch.BitRate = &n
	}
	return patch, true, nil
}

// ParseEQList decodes an EQGetList body, a bare JSON array of preset names.
func ParseEQList(body []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, lperr.Wrap(lperr.ErrMalformed, "normalize.eq_list", err)
	}
	return names, nil
}

type rawEQStat struct {
	EQStat flexible `json:"EQStat"`
	Name   flexible `json:"Name"`
}

// ParseEQStatus decodes an EQGetStat body into (enabled, current preset).
func ParseEQStatus(body []byte) (enabled bool, current string, err error) {
	var raw rawEQStat
	if err := json.Unmarshal(body, &raw); err != nil {
		return false, "", lperr.Wrap(lperr.ErrMalformed, "normalize.eq_status", err)
	}
	enabled = strings.EqualFold(raw.EQStat.String(), "on")
	return enabled, raw.Name.String(), nil
}

type rawEQBand struct {
	Index flexible `json:"index"`
	Name  flexible `json:"param_name"`
	Value flexible `json:"value"`
}

type rawEQBands struct {
	Bands []rawEQBand `json:"EQBand"`
}

// ParseEQBands decodes an EQGetBand body. Firmwares answer either a bare
// array of band objects or the same array wrapped under an EQBand key;
// band order is preserved and a missing index falls back to the position.
func ParseEQBands(body []byte) ([]model.EQBand, error) {
	var wrapped rawEQBands
	if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.Bands == nil {
		var bare []rawEQBand
		if err := json.Unmarshal(body, &bare); err != nil {
			return nil, lperr.Wrap(lperr.ErrMalformed, "normalize.eq_bands", err)
		}
		wrapped.Bands = bare
	}
	bands := make([]model.EQBand, 0, len(wrapped.Bands))
	for i, raw := range wrapped.Bands {
		band := model.EQBand{Index: i, Name: raw.Name.String()}
		if n, ok := raw.Index.Int(); ok {
			band.Index = n
		}
		if n, ok := raw.Value.Int(); ok {
			band.Gain = n
		}
		bands = append(bands, band)
	}
	return bands, nil
}

type rawPreset struct {
	Number flexible `json:"number"`
	Name   flexible `json:"name"`
	URL    flexible `json:"url"`
}

type rawPresetInfo struct {
	PresetNum  flexible    `json:"preset_num"`
	PresetList []rawPreset `json:"preset_list"`
}

// ParsePresets decodes a getPresetInfo body into the hardware preset slots.
func ParsePresets(body []byte) ([]model.Preset, error) {
	var raw rawPresetInfo
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, lperr.Wrap(lperr.ErrMalformed, "normalize.presets", err)
	}
	out := make([]model.Preset, 0, len(raw.PresetList))
	for _, p := range raw.PresetList {
		preset := model.Preset{
			Name: DecodeText(p.Name.String()),
			URL:  p.URL.String(),
		}
		if n, ok := p.Number.Int(); ok {
			preset.Number = n
		}
		out = append(out, preset)
	}
	return out, nil
}

type rawAudioOutput struct {
	Hardware flexible `json:"hardware"`
	Source   flexible `json:"source"`
}

// audioOutputModes names the hardware output selector values.
var audioOutputModes = map[string]string{
	"1": "optical",
	"2": "line_out",
	"3": "coaxial",
}

// ParseAudioOutput decodes a getNewAudioOutputHardwareMode body.
func ParseAudioOutput(body []byte) (model.AudioOutput, error) {
	var raw rawAudioOutput
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.AudioOutput{}, lperr.Wrap(lperr.ErrMalformed, "normalize.audio_output", err)
	}
	out := model.AudioOutput{
		Hardware: raw.Hardware.String(),
		Source:   raw.Source.String(),
	}
	if name, ok := audioOutputModes[out.Hardware]; ok {
		out.Mode = name
	}
	return out, nil
}

type rawBTDevice struct {
	Name flexible `json:"name"`
	Ad   flexible `json:"ad"`
	CT   flexible `json:"ct"`
}

type rawBTHistory struct {
	Num  flexible      `json:"num"`
	List []rawBTDevice `json:"list"`
}

// ParseBluetoothHistory decodes a getbthistory body into the pairing list.
func ParseBluetoothHistory(body []byte) ([]model.BluetoothDevice, error) {
	var raw rawBTHistory
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, lperr.Wrap(lperr.ErrMalformed, "normalize.bt_history", err)
	}
	out := make([]model.BluetoothDevice, 0, len(raw.List))
	for _, d := range raw.List {
		dev := model.BluetoothDevice{
			Name:    d.Name.String(),
			Address: d.Ad.String(),
		}
		if ct, ok := d.CT.Bool(); ok {
			dev.Connected = ct
		}
		out = append(out, dev)
	}
	return out, nil
}

type rawAlarm struct {
	Enable    flexible `json:"enable"`
	Trigger   flexible `json:"trigger"`
	Operation flexible `json:"operation"`
	Date      flexible `json:"date"`
	WeekDay   flexible `json:"week_day"`
	Time      flexible `json:"time"`
	Path      flexible `json:"path"`
}

// ParseAlarm decodes a getAlarmClock:<n> body for one alarm slot.
func ParseAlarm(slot int, body []byte) (model.Alarm, error) {
	var raw rawAlarm
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.Alarm{}, lperr.Wrap(lperr.ErrMalformed, "normalize.alarm", err)
	}
	alarm := model.Alarm{
		Slot:      slot,
		Trigger:   raw.Trigger.String(),
		Operation: raw.Operation.String(),
		Date:      raw.Date.String(),
		WeekDays:  raw.WeekDay.String(),
		Time:      raw.Time.String(),
		URL:       raw.Path.String(),
	}
	if enabled, ok := raw.Enable.Bool(); ok {
		alarm.Enabled = enabled
	}
	return alarm, nil
}

// ParseShutdownTimer decodes a getShutdown body: bare seconds, 0 when no
// timer is armed.
func ParseShutdownTimer(body []byte) (int, error) {
	var f flexible
	if err := json.Unmarshal(body, &f); err != nil {
		return 0, lperr.Wrap(lperr.ErrMalformed, "normalize.shutdown_timer", err)
	}
	n, ok := f.Int()
	if !ok {
		return 0, lperr.New(lperr.ErrMalformed, "normalize.shutdown_timer").
			WithCause(fmt.Errorf("not a number: %q", f.String()))
	}
	return n, nil
}
