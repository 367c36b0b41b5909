package model

// DeviceInfo is the per-session identity of a device, populated from
// getStatusEx on the first refresh and only updated on an explicit reload.
type DeviceInfo struct {
	UUID     string
	Name     string
	Model    string
	Firmware string
	MAC      string

	// Vendor and Generation are filled by profile resolution, not by the
	// device; callers constructing a Player with a cached profile may leave
	// them empty.
	Vendor     string
	Generation string

	// WmrmVersion is the LinkPlay multiroom protocol version. Devices whose
	// major versions differ cannot be grouped.
	WmrmVersion string

	// SSID and WifiChannel describe the device's own access point, needed
	// for WiFi-Direct (Gen1) group joins.
	SSID        string
	WifiChannel int

	// PresetKey is the number of hardware preset slots (0 if unsupported).
	PresetKey int

	// InputList is the raw physical-input list advertised by the firmware.
	// Some firmwares advertise ports the hardware does not have; the
	// profile's hardware table filters these.
	InputList []string

	// HasSlaves mirrors the cached slave count from the last group-info
	// fetch; used only to skip the expensive slave-list endpoint when no
	// indicator suggests a group.
	HasSlaves bool
}

// WmrmMajor returns the major component of WmrmVersion ("4.2" -> "4").
// Empty when unknown.
func (d DeviceInfo) WmrmMajor() string {
	v := d.WmrmVersion
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			return v[:i]
		}
	}
	return v
}

// EQPresetList is the device's advertised equalizer presets.
type EQPresetList struct {
	Presets []string
	Current string
	Enabled bool
}

// EQBand is one graphic-equalizer band: the firmware's band label and its
// gain in dB.
type EQBand struct {
	Index int
	Name  string
	Gain  int
}

// Preset is one hardware preset station slot.
type Preset struct {
	Number int
	Name   string
	URL    string
}

// BluetoothDevice is one entry of the device's Bluetooth pairing history.
type BluetoothDevice struct {
	Name      string
	Address   string
	Connected bool
}

// AudioOutput describes the active hardware output mode.
type AudioOutput struct {
	Mode     string
	Hardware string
	Source   string
}

// SlaveInfo is one entry from the master-side authoritative slave list.
type SlaveInfo struct {
	UUID    string
	IP      string
	Name    string
	Version string
	Volume  int
	Muted   bool
}

// Alarm is one alarm-clock slot as reported by getAlarmClock.
type Alarm struct {
	Slot      int
	Enabled   bool
	Trigger   string
	Operation string
	Time      string
	Date      string
	WeekDays  string
	URL       string
}

// GroupInfo is the authoritative grouping view from a single device:
// its own group field plus, when it is a master, the slave list.
type GroupInfo struct {
	// GroupID is the raw "group" field; "0" means not grouped.
	GroupID string
	// MasterUUID and MasterIP are reported by slaves.
	MasterUUID string
	MasterIP   string
	// Slaves is the master-side list; nil when the device reports none or
	// the endpoint is unsupported.
	Slaves []SlaveInfo
}
