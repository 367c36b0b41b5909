package upnp

import (
	"encoding/xml"
	"html"
	"strconv"
	"strings"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/normalize"
)

// Event is one parsed NOTIFY delivery.
type Event struct {
	Service Service
	Patch   model.StatusPatch
	// Empty marks a delivery whose LastChange carried no state variables.
	// Firmware does this when the subscription broke server-side; the
	// subscriber treats it as a resubscribe signal.
	Empty bool
}

// propertyset is the GENA envelope. Device events wrap their payload in a
// LastChange property containing XML-escaped XML.
type propertyset struct {
	XMLName    xml.Name `xml:"propertyset"`
	Properties []struct {
		LastChange string `xml:"LastChange"`
	} `xml:"property"`
}

type attrVal struct {
	Val string `xml:"val,attr"`
}

type channelAttrVal struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

type avTransportChange struct {
	XMLName    xml.Name `xml:"Event"`
	InstanceID struct {
		Inner                string  `xml:",innerxml"`
		TransportState       attrVal `xml:"TransportState"`
		CurrentPlayMode      attrVal `xml:"CurrentPlayMode"`
		CurrentTrackDuration attrVal `xml:"CurrentTrackDuration"`
		CurrentTrackMetaData attrVal `xml:"CurrentTrackMetaData"`
		RelativeTimePosition attrVal `xml:"RelativeTimePosition"`
	} `xml:"InstanceID"`
}

type renderingControlChange struct {
	XMLName    xml.Name `xml:"Event"`
	InstanceID struct {
		Inner  string           `xml:",innerxml"`
		Volume []channelAttrVal `xml:"Volume"`
		Mute   []channelAttrVal `xml:"Mute"`
	} `xml:"InstanceID"`
}

// didlLite is the metadata document embedded (escaped once more) inside
// CurrentTrackMetaData. LinkPlay extends the schema with song:* elements
// carrying stream quality.
type didlLite struct {
	Items []struct {
		Title       string `xml:"title"`
		Creator     string `xml:"creator"`
		Artist      string `xml:"artist"`
		Album       string `xml:"album"`
		AlbumArtURI string `xml:"albumArtURI"`
		RateHz      string `xml:"rate_hz"`
		FormatBits  string `xml:"format_s"`
		BitRate     string `xml:"bitrate"`
		Res         []struct {
			Duration string `xml:"duration,attr"`
			URI      string `xml:",chardata"`
		} `xml:"res"`
	} `xml:"item"`
}

// playModes maps the DLNA CurrentPlayMode vocabulary onto shuffle/repeat.
var playModes = map[string]struct {
	shuffle bool
	repeat  model.Repeat
}{
	"NORMAL":             {false, model.RepeatOff},
	"REPEAT_ONE":         {false, model.RepeatOne},
	"REPEAT_ALL":         {false, model.RepeatAll},
	"RANDOM":             {true, model.RepeatAll},
	"SHUFFLE":            {true, model.RepeatAll},
	"SHUFFLE_NOREPEAT":   {true, model.RepeatOff},
	"SHUFFLE_REPEAT_ONE": {true, model.RepeatOne},
}

// ParseNotify decodes one NOTIFY body for a service into a status patch.
func ParseNotify(service Service, body []byte) (Event, error) {
	event := Event{Service: service}

	var ps propertyset
	if err := xml.Unmarshal(body, &ps); err != nil {
		return event, lperr.Wrap(lperr.ErrMalformed, "upnp.notify", err)
	}

	var lastChange string
	for _, prop := range ps.Properties {
		if prop.LastChange != "" {
			lastChange = prop.LastChange
			break
		}
	}
	if strings.TrimSpace(lastChange) == "" {
		event.Empty = true
		return event, nil
	}
	// Some firmware double-escapes the payload; unescaping correct input
	// again is a no-op.
	if strings.HasPrefix(strings.TrimSpace(lastChange), "&lt;") {
		lastChange = html.UnescapeString(lastChange)
	}

	switch service {
	case ServiceRenderingControl:
		return parseRenderingControl(event, lastChange)
	default:
		return parseAVTransport(event, lastChange)
	}
}

func parseAVTransport(event Event, lastChange string) (Event, error) {
	var change avTransportChange
	if err := xml.Unmarshal([]byte(lastChange), &change); err != nil {
		return event, lperr.Wrap(lperr.ErrMalformed, "upnp.notify", err)
	}
	inst := change.InstanceID
	if strings.TrimSpace(inst.Inner) == "" {
		event.Empty = true
		return event, nil
	}

	patch := model.StatusPatch{}
	if state, ok := normalize.PlayState(inst.TransportState.Val); ok {
		patch.PlayState = &state
	}
	if mode, ok := playModes[strings.ToUpper(inst.CurrentPlayMode.Val)]; ok {
		patch.Shuffle = model.Ptr(mode.shuffle)
		patch.Repeat = model.Ptr(mode.repeat)
	}
	if d, ok := normalize.ClockText(inst.CurrentTrackDuration.Val); ok && d > 0 {
		patch.Duration = &d
	}
	if p, ok := normalize.ClockText(inst.RelativeTimePosition.Val); ok {
		patch.Position = &p
	}

	if meta := strings.TrimSpace(inst.CurrentTrackMetaData.Val); meta != "" && meta != "NOT_IMPLEMENTED" {
		mergeTrackMetadata(&patch, meta)
	}

	if patch.Position != nil && patch.Duration != nil && *patch.Position > *patch.Duration {
		patch.Position = patch.Duration
	}

	event.Patch = patch
	return event, nil
}

func parseRenderingControl(event Event, lastChange string) (Event, error) {
	var change renderingControlChange
	if err := xml.Unmarshal([]byte(lastChange), &change); err != nil {
		return event, lperr.Wrap(lperr.ErrMalformed, "upnp.notify", err)
	}
	inst := change.InstanceID
	if strings.TrimSpace(inst.Inner) == "" {
		event.Empty = true
		return event, nil
	}

	patch := model.StatusPatch{}
	// Only the Master channel is the device volume; per-channel values on
	// stereo pairs are ignored.
	for _, v := range inst.Volume {
		if masterChannel(v.Channel) && v.Val != "" {
			if vol, err := strconv.Atoi(v.Val); err == nil {
				patch.Volume = model.Ptr(normalize.ClampVolume(vol))
			}
			break
		}
	}
	for _, m := range inst.Mute {
		if masterChannel(m.Channel) && m.Val != "" {
			muted := m.Val == "1" || strings.EqualFold(m.Val, "true")
			patch.Muted = &muted
			break
		}
	}

	event.Patch = patch
	return event, nil
}

// mergeTrackMetadata folds the DIDL-Lite document into the patch. Fields
// the document does not carry stay nil.
func mergeTrackMetadata(patch *model.StatusPatch, meta string) {
	var didl didlLite
	if err := xml.Unmarshal([]byte(meta), &didl); err != nil || len(didl.Items) == 0 {
		return
	}
	item := didl.Items[0]

	if item.Title != "" {
		patch.Title = model.Ptr(normalize.DecodeText(item.Title))
	}
	artist := item.Artist
	if artist == "" {
		artist = item.Creator
	}
	if artist != "" {
		patch.Artist = model.Ptr(normalize.DecodeText(artist))
	}
	if item.Album != "" {
		patch.Album = model.Ptr(normalize.DecodeText(item.Album))
	}
	if item.AlbumArtURI != "" {
		patch.ImageURL = model.Ptr(normalize.ArtworkURL(item.AlbumArtURI))
	}

	if n, err := strconv.Atoi(item.RateHz); err == nil && n > 0 {
		patch.SampleRate = &n
	}
	if n, err := strconv.Atoi(item.FormatBits); err == nil && n > 0 {
		patch.BitDepth = &n
	}
	if n, err := strconv.Atoi(item.BitRate); err == nil && n > 0 {
		patch.BitRate = &n
	}

	if patch.Duration == nil {
		for _, res := range item.Res {
			if d, ok := normalize.ClockText(res.Duration); ok && d > 0 {
				patch.Duration = &d
				break
			}
		}
	}
}

func masterChannel(ch string) bool {
	return ch == "" || ch == "Master"
}
