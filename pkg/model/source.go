package model

import "strings"

// Source is a stable source identifier. Display names live in sourceNames;
// the stable id is what setters accept and what MergedState carries.
type Source string

const (
	SourceNone        Source = ""
	SourceWiFi        Source = "wifi"
	SourceAirplay     Source = "airplay"
	SourceDLNA        Source = "dlna"
	SourceQPlay       Source = "qplay"
	SourceBluetooth   Source = "bluetooth"
	SourceLineIn      Source = "line_in"
	SourceLineIn2     Source = "line_in_2"
	SourceOptical     Source = "optical"
	SourceOptical2    Source = "optical_2"
	SourceCoaxial     Source = "coaxial"
	SourceCoaxial2    Source = "coaxial_2"
	SourceHDMI        Source = "hdmi"
	SourceARC         Source = "arc"
	SourceRCA         Source = "rca"
	SourcePhono       Source = "phono"
	SourceXLR         Source = "xlr"
	SourceCD          Source = "cd"
	SourceFM          Source = "fm"
	SourceUDisk       Source = "udisk"
	SourceTFCard      Source = "tf_card"
	SourceUSBDAC      Source = "usb_dac"
	SourceSpotify     Source = "spotify"
	SourceTidal       Source = "tidal"
	SourceQobuz       Source = "qobuz"
	SourceDeezer      Source = "deezer"
	SourceAmazon      Source = "amazon_music"
	SourceTuneIn      Source = "tunein"
	SourceIHeartRadio Source = "iheartradio"
	SourceVTuner      Source = "vtuner"
	SourceNetworkTest Source = "network_test"
	SourceAlarm       Source = "alarm"
	// SourceMultiroom is the raw follower source; Players replace it with
	// the master's display name while the device is a slave.
	SourceMultiroom Source = "multiroom"
)

var sourceNames = map[Source]string{
	SourceWiFi:        "WiFi",
	SourceAirplay:     "AirPlay",
	SourceDLNA:        "DLNA",
	SourceQPlay:       "QPlay",
	SourceBluetooth:   "Bluetooth",
	SourceLineIn:      "Line In",
	SourceLineIn2:     "Line In 2",
	SourceOptical:     "Optical",
	SourceOptical2:    "Optical 2",
	SourceCoaxial:     "Coaxial",
	SourceCoaxial2:    "Coaxial 2",
	SourceHDMI:        "HDMI",
	SourceARC:         "ARC",
	SourceRCA:         "RCA",
	SourcePhono:       "Phono",
	SourceXLR:         "XLR",
	SourceCD:          "CD",
	SourceFM:          "FM Radio",
	SourceUDisk:       "USB",
	SourceTFCard:      "SD Card",
	SourceUSBDAC:      "USB DAC",
	SourceSpotify:     "Spotify",
	SourceTidal:       "Tidal",
	SourceQobuz:       "Qobuz",
	SourceDeezer:      "Deezer",
	SourceAmazon:      "Amazon Music",
	SourceTuneIn:      "TuneIn",
	SourceIHeartRadio: "iHeartRadio",
	SourceVTuner:      "vTuner",
	SourceNetworkTest: "Network Test",
	SourceAlarm:       "Alarm",
	SourceMultiroom:   "Multiroom",
}

// DisplayName returns the stable display capitalization for s.
func (s Source) DisplayName() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return string(s)
}

// switchmodeNames maps sources to the names the switchmode command accepts.
// Only physical inputs and a few network modes are switchable; streaming
// services are started by their own apps and only observed here.
var switchmodeNames = map[Source]string{
	SourceWiFi:      "wifi",
	SourceBluetooth: "bluetooth",
	SourceLineIn:    "line-in",
	SourceLineIn2:   "line-in2",
	SourceOptical:   "optical",
	SourceOptical2:  "optical2",
	SourceCoaxial:   "co-axial",
	SourceCoaxial2:  "co-axial2",
	SourceHDMI:      "HDMI",
	SourceARC:       "ARC",
	SourceRCA:       "RCA",
	SourcePhono:     "phono",
	SourceXLR:       "XLR",
	SourceCD:        "cd",
	SourceFM:        "FM",
	SourceUDisk:     "udisk",
	SourceTFCard:    "TFcard",
	SourceUSBDAC:    "PCUSB",
}

// SwitchmodeName returns the wire name for setPlayerCmd:switchmode, or ""
// when the source is not switchable.
func (s Source) SwitchmodeName() string {
	return switchmodeNames[s]
}

// Switchable reports whether the source can be selected via switchmode.
func (s Source) Switchable() bool {
	_, ok := switchmodeNames[s]
	return ok
}

// NormalizeSource maps caller input to a stable source id, accepting
// hyphen/underscore/space and capitalization variants ("Line-In", "line in",
// "LINE_IN" all resolve to line_in). Returns SourceNone when unknown.
func NormalizeSource(input string) Source {
	key := strings.ToLower(strings.TrimSpace(input))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch key {
	case "":
		return SourceNone
	case "line_in", "linein", "aux", "aux_in", "auxin":
		return SourceLineIn
	case "line_in_2", "linein2", "line_in2":
		return SourceLineIn2
	case "co_axial", "coax", "coaxial":
		return SourceCoaxial
	case "co_axial2", "co_axial_2", "coaxial2", "coaxial_2":
		return SourceCoaxial2
	case "optical2":
		return SourceOptical2
	case "usb", "udisk", "usb_disk":
		return SourceUDisk
	case "tfcard", "tf_card", "sd", "sd_card", "micro_sd":
		return SourceTFCard
	case "pcusb", "usb_dac", "usbdac":
		return SourceUSBDAC
	case "wifi", "network", "net":
		return SourceWiFi
	case "amazon", "amazon_music", "alexa":
		return SourceAmazon
	case "fm", "fm_radio":
		return SourceFM
	}
	s := Source(key)
	if _, ok := sourceNames[s]; ok {
		return s
	}
	return SourceNone
}
