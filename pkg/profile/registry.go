package profile

import (
	"strconv"
	"strings"
	"time"

	"github.com/linkplay-community/linkplay-go/pkg/model"
)

// Vendor identifiers.
const (
	VendorWiiM     = "wiim"
	VendorArylic   = "arylic"
	VendorAudioPro = "audio_pro"
	VendorGeneric  = "linkplay"
)

// gen1FirmwareCutoff is the last firmware of the WiFi-Direct multiroom era.
// Anything below it (or reporting wmrm_version 2.0) groups via the master's
// own access point rather than the router.
const gen1FirmwareCutoff = "4.2.8020"

// WiiM covers WiiM Mini/Pro/Pro Plus/Amp/Ultra. These devices speak HTTPS
// with a self-signed certificate and require the embedded client certificate
// for mutual TLS.
var WiiM = Profile{
	Name:           "wiim",
	Vendor:         VendorWiiM,
	Generation:     "gen2",
	LoopModeScheme: SchemeWiiM,
	Connection: Conn{
		Candidates:         []PortSpec{{Protocol: "https", Port: 443}},
		RequiresClientCert: true,
		ConnectTimeout:     2 * time.Second,
		ResponseTimeout:    5 * time.Second,
	},
	Endpoints: Endpoints{
		PlayerStatusEx:   true,
		MetaInfo:         true,
		EQ:               true,
		Presets:          true,
		AudioOutput:      true,
		BluetoothHistory: true,
		Alarms:           true,
		LED:              true,
		PromptURL:        true,
		SlaveList:        true,
	},
	Grouping: Grouping{SupportsEnhancedGrouping: true},
}

// Arylic covers Up2Stream boards and the S/A/B series amplifiers. Their UPnP
// eventing drops renewals under load, so HTTP wins for the fields it covers.
var Arylic = Profile{
	Name:           "arylic",
	Vendor:         VendorArylic,
	Generation:     "gen2",
	LoopModeScheme: SchemeArylic,
	StateSources: map[model.Field]Preference{
		model.FieldPlayState: PreferHTTP,
		model.FieldVolume:    PreferHTTP,
		model.FieldMuted:     PreferHTTP,
	},
	Connection: Conn{
		Candidates:      []PortSpec{{Protocol: "http", Port: 80}},
		ConnectTimeout:  time.Second,
		ResponseTimeout: 2 * time.Second,
	},
	Endpoints: Endpoints{
		PlayerStatusEx: true,
		EQ:             true,
		Presets:        true,
		Alarms:         true,
		PromptURL:      true,
		SlaveList:      true,
	},
	Grouping: Grouping{SupportsEnhancedGrouping: true},
}

// AudioProOriginal covers first-generation Audio Pro multiroom speakers
// (Addon C-series on pre-4.2.8020 firmware). Groups form over WiFi-Direct.
var AudioProOriginal = Profile{
	Name:           "audio_pro_original",
	Vendor:         VendorAudioPro,
	Generation:     "gen1",
	LoopModeScheme: SchemeLegacy,
	Connection: Conn{
		Candidates:      []PortSpec{{Protocol: "http", Port: 80}},
		ConnectTimeout:  time.Second,
		ResponseTimeout: 3 * time.Second,
	},
	Endpoints: Endpoints{
		PlayerStatusEx: true,
		Presets:        true,
		SlaveList:      true,
	},
	Grouping: Grouping{UsesWiFiDirect: true},
}

// AudioProW covers the W-generation (A10/A26/A36/Link2). Router-based
// grouping; either source may lag, so the freshest value wins for playback
// state.
var AudioProW = Profile{
	Name:           "audio_pro_w",
	Vendor:         VendorAudioPro,
	Generation:     "w",
	LoopModeScheme: SchemeLegacy,
	StateSources: map[model.Field]Preference{
		model.FieldPlayState: PreferLatest,
	},
	Connection: Conn{
		Candidates:      []PortSpec{{Protocol: "http", Port: 80}},
		ConnectTimeout:  time.Second,
		ResponseTimeout: 3 * time.Second,
	},
	Endpoints: Endpoints{
		PlayerStatusEx: true,
		Presets:        true,
		SlaveList:      true,
	},
	Grouping: Grouping{SupportsEnhancedGrouping: true},
}

// AudioProMkII covers the C5/C10 MkII refresh. getPlayerStatusEx is not
// implemented on these; the transport's endpoint chain starts at getStatusEx.
var AudioProMkII = Profile{
	Name:           "audio_pro_mkii",
	Vendor:         VendorAudioPro,
	Generation:     "mkii",
	LoopModeScheme: SchemeLegacy,
	StateSources: map[model.Field]Preference{
		model.FieldPosition: PreferHTTP,
		model.FieldDuration: PreferHTTP,
	},
	Connection: Conn{
		Candidates:      []PortSpec{{Protocol: "http", Port: 80}, {Protocol: "https", Port: 4443}},
		ConnectTimeout:  time.Second,
		ResponseTimeout: 3 * time.Second,
	},
	Endpoints: Endpoints{
		Presets:   true,
		SlaveList: true,
	},
	Grouping: Grouping{SupportsEnhancedGrouping: true},
}

// Generic is the LinkPlay default for anything unrecognized. Conservative
// flags: optional families are attempted only where the runtime can treat
// an empty answer as unsupported.
var Generic = Profile{
	Name:           "linkplay",
	Vendor:         VendorGeneric,
	Generation:     "gen2",
	LoopModeScheme: SchemeLegacy,
	Connection: Conn{
		ConnectTimeout:  time.Second,
		ResponseTimeout: 3 * time.Second,
	},
	Endpoints: Endpoints{
		PlayerStatusEx: true,
		MetaInfo:       true,
		EQ:             true,
		Presets:        true,
		SlaveList:      true,
	},
	Grouping: Grouping{SupportsEnhancedGrouping: true},
}

// All lists the predefined profiles, generic last.
func All() []Profile {
	return []Profile{WiiM, Arylic, AudioProOriginal, AudioProW, AudioProMkII, Generic}
}

// Resolve picks the profile for a device from its model name, firmware, and
// wmrm_version. Unrecognized or incomplete device info resolves to Generic;
// Resolve never fails.
func Resolve(info model.DeviceInfo) Profile {
	name := strings.ToLower(info.Model)

	switch {
	case strings.Contains(name, "wiim"):
		return WiiM

	case strings.Contains(name, "arylic"),
		strings.Contains(name, "up2stream"),
		strings.HasPrefix(name, "s10"), strings.HasPrefix(name, "s50"),
		strings.HasPrefix(name, "a30"), strings.HasPrefix(name, "a50"),
		strings.HasPrefix(name, "b50"), strings.HasPrefix(name, "h50"):
		return Arylic

	case isAudioPro(name):
		switch {
		case strings.Contains(name, "mkii") || strings.Contains(name, "mk2"):
			return AudioProMkII
		case isGen1(info):
			return AudioProOriginal
		default:
			return AudioProW
		}
	}

	if isGen1(info) {
		// Old LinkPlay firmware on an unrecognized model still needs the
		// WiFi-Direct join form.
		p := Generic
		p.Grouping = Grouping{UsesWiFiDirect: true}
		return p
	}
	return Generic
}

func isAudioPro(name string) bool {
	if strings.Contains(name, "audio pro") || strings.Contains(name, "audiopro") {
		return true
	}
	for _, m := range []string{"addon c3", "addon c5", "addon c10", "c5 mkii", "c10 mkii", "a10", "a15", "a26", "a36", "a40", "link2", "drumfire"} {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

func isGen1(info model.DeviceInfo) bool {
	if strings.HasPrefix(info.WmrmVersion, "2.") {
		return true
	}
	if info.Firmware == "" {
		return false
	}
	return versionLess(info.Firmware, gen1FirmwareCutoff)
}

// versionLess compares dotted numeric versions component-wise. Components
// that fail to parse compare as zero, which keeps odd vendor strings from
// flipping a device into the WiFi-Direct path by accident.
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(strings.TrimSpace(as[i]))
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(strings.TrimSpace(bs[i]))
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

// CompatibleForGrouping reports whether two devices may join the same group.
// LinkPlay refuses cross-major multiroom; the library refuses before any
// device I/O.
func CompatibleForGrouping(a, b model.DeviceInfo) bool {
	am, bm := a.WmrmMajor(), b.WmrmMajor()
	if am == "" || bm == "" {
		return true
	}
	return am == bm
}
