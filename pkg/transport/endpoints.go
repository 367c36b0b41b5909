package transport

import "github.com/linkplay-community/linkplay-go/pkg/profile"

// Endpoint is a logical endpoint name. The resolver maps each name to an
// ordered chain of concrete commands for the active profile; callers walk
// the chain per request and never pin a variant.
type Endpoint string

const (
	EndpointPlayerStatus     Endpoint = "player_status"
	EndpointDeviceInfo       Endpoint = "device_info"
	EndpointMetadata         Endpoint = "metadata"
	EndpointSlaveList        Endpoint = "slave_list"
	EndpointEQList           Endpoint = "eq_list"
	EndpointEQStatus         Endpoint = "eq_status"
	EndpointPresets          Endpoint = "presets"
	EndpointAudioOutput      Endpoint = "audio_output"
	EndpointBluetoothHistory Endpoint = "bluetooth_history"
	EndpointAlarms           Endpoint = "alarms"
	EndpointShutdownTimer    Endpoint = "shutdown_timer"
)

// Chain returns the command variants for ep under p, most capable first.
// A nil chain means the profile does not implement the endpoint family and
// the caller must fail with ErrUnsupported before any I/O.
func Chain(p profile.Profile, ep Endpoint) []string {
	switch ep {
	case EndpointPlayerStatus:
		if !p.Endpoints.PlayerStatusEx {
			// Audio Pro MkII answers getPlayerStatusEx with garbage; the
			// chain starts at the device-status variant instead.
			return []string{"getStatusEx", "getStatus"}
		}
		return []string{"getPlayerStatusEx", "getStatusEx", "getPlayerStatus", "getStatus"}
	case EndpointDeviceInfo:
		return []string{"getStatusEx", "getStatus"}
	case EndpointMetadata:
		if !p.Endpoints.MetaInfo {
			return nil
		}
		return []string{"getMetaInfo"}
	case EndpointSlaveList:
		if !p.Endpoints.SlaveList {
			return nil
		}
		return []string{"multiroom:getSlaveList"}
	case EndpointEQList:
		if !p.Endpoints.EQ {
			return nil
		}
		return []string{"EQGetList"}
	case EndpointEQStatus:
		if !p.Endpoints.EQ {
			return nil
		}
		return []string{"EQGetStat"}
	case EndpointPresets:
		if !p.Endpoints.Presets {
			return nil
		}
		return []string{"getPresetInfo"}
	case EndpointAudioOutput:
		if !p.Endpoints.AudioOutput {
			return nil
		}
		return []string{"getNewAudioOutputHardwareMode"}
	case EndpointBluetoothHistory:
		if !p.Endpoints.BluetoothHistory {
			return nil
		}
		return []string{"getbthistory"}
	case EndpointAlarms:
		if !p.Endpoints.Alarms {
			return nil
		}
		return []string{"getAlarmClock"}
	case EndpointShutdownTimer:
		if !p.Endpoints.Alarms {
			return nil
		}
		return []string{"getShutdown"}
	}
	return nil
}

// Supported reports whether p implements ep at all.
func Supported(p profile.Profile, ep Endpoint) bool {
	return len(Chain(p, ep)) > 0
}
