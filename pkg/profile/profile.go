// Package profile identifies device vendor/generation and carries everything
// the control plane needs to talk to that device type: connection settings,
// endpoint availability, grouping behavior, state-source preferences, and the
// loop-mode scheme. Profiles are immutable values; a resolved Profile can be
// persisted by the caller (YAML) and handed back at Player construction to
// skip detection.
package profile

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linkplay-community/linkplay-go/pkg/model"
)

// Preference selects which synchronizer store wins for a field while fresh.
type Preference string

const (
	PreferHTTP   Preference = "http"
	PreferUPnP   Preference = "upnp"
	PreferLatest Preference = "latest"
)

// Scheme selects the loop-mode table used to decode and encode the device's
// raw loopmode value.
type Scheme string

const (
	SchemeWiiM   Scheme = "wiim"
	SchemeArylic Scheme = "arylic"
	SchemeLegacy Scheme = "legacy"
)

// PortSpec is one (protocol, port) probe candidate.
type PortSpec struct {
	Protocol string `yaml:"protocol"`
	Port     int    `yaml:"port"`
}

// Conn carries the connection parameters for a device type.
type Conn struct {
	// Candidates are tried before the standard probe list. Empty means the
	// standard list only.
	Candidates []PortSpec `yaml:"candidates,omitempty"`
	// RequiresClientCert selects mutual TLS with the embedded client
	// certificate. Observed handshake latency runs to several seconds, so
	// timeouts for these devices are generous.
	RequiresClientCert bool          `yaml:"requires_client_cert"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	ResponseTimeout    time.Duration `yaml:"response_timeout"`
}

// Endpoints flags which optional endpoint families the firmware implements.
// A false flag makes the corresponding operation fail with ErrUnsupported
// before any I/O.
type Endpoints struct {
	PlayerStatusEx   bool `yaml:"player_status_ex"`
	MetaInfo         bool `yaml:"meta_info"`
	EQ               bool `yaml:"eq"`
	Presets          bool `yaml:"presets"`
	AudioOutput      bool `yaml:"audio_output"`
	BluetoothHistory bool `yaml:"bluetooth_history"`
	Alarms           bool `yaml:"alarms"`
	LED              bool `yaml:"led"`
	PromptURL        bool `yaml:"prompt_url"`
	SlaveList        bool `yaml:"slave_list"`
}

// Grouping describes how the device joins multiroom groups.
type Grouping struct {
	// UsesWiFiDirect selects the Gen1 ConnectMasterAp form carrying the
	// master's SSID and channel instead of its IP.
	UsesWiFiDirect bool `yaml:"uses_wifi_direct"`
	// SupportsEnhancedGrouping enables the JoinGroupMaster join form.
	SupportsEnhancedGrouping bool `yaml:"supports_enhanced_grouping"`
}

// Profile is the immutable per-device-type record.
type Profile struct {
	Name       string `yaml:"name"`
	Vendor     string `yaml:"vendor"`
	Generation string `yaml:"generation"`

	LoopModeScheme Scheme `yaml:"loop_mode_scheme"`

	// StateSources overrides the legacy merge defaults per field. Fields
	// not listed fall back to the legacy table in the state package.
	StateSources map[model.Field]Preference `yaml:"state_sources,omitempty"`

	Connection Conn      `yaml:"connection"`
	Endpoints  Endpoints `yaml:"endpoints"`
	Grouping   Grouping  `yaml:"grouping"`
}

// SourceFor returns the configured preference for f, or ok=false when the
// profile defers to the legacy defaults.
func (p Profile) SourceFor(f model.Field) (Preference, bool) {
	pref, ok := p.StateSources[f]
	return pref, ok
}

// EncodeYAML serializes the profile for caller-side persistence.
func (p Profile) EncodeYAML() ([]byte, error) {
	return yaml.Marshal(p)
}

// DecodeYAML restores a profile persisted with EncodeYAML.
func DecodeYAML(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}
