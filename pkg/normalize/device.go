package normalize

import (
	"encoding/json"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
)

type rawDeviceStatus struct {
	UUID        flexible `json:"uuid"`
	DeviceName  flexible `json:"DeviceName"`
	Project     flexible `json:"project"`
	Firmware    flexible `json:"firmware"`
	MAC         flexible `json:"MAC"`
	STAMAC      flexible `json:"STA_MAC"`
	WmrmVersion flexible `json:"wmrm_version"`
	SSID        flexible `json:"ssid"`
	Essid       flexible `json:"essid"`
	WifiChannel flexible `json:"WifiChannel"`
	PresetKey   flexible `json:"preset_key"`
	PlmSupport  flexible `json:"plm_support"`
	Group       flexible `json:"group"`
	MasterUUID  flexible `json:"master_uuid"`
	MasterIP    flexible `json:"master_ip"`
	SlaveNum    flexible `json:"slave_num"`
}

// plmInputs maps plm_support bits to physical inputs. The mask is the only
// input inventory old firmware exposes; models in the hardware table
// override it anyway.
var plmInputs = []struct {
	bit    uint64
	source model.Source
}{
	{1 << 1, model.SourceLineIn},
	{1 << 2, model.SourceBluetooth},
	{1 << 3, model.SourceUDisk},
	{1 << 4, model.SourceOptical},
	{1 << 5, model.SourceRCA},
	{1 << 6, model.SourceCoaxial},
	{1 << 7, model.SourceFM},
	{1 << 8, model.SourceLineIn2},
	{1 << 9, model.SourceXLR},
	{1 << 10, model.SourceHDMI},
	{1 << 11, model.SourceCD},
	{1 << 15, model.SourceUSBDAC},
}

// ParseDeviceInfo decodes a getStatusEx body into the device identity and
// the device's own authoritative group view.
func ParseDeviceInfo(body []byte) (model.DeviceInfo, model.GroupInfo, error) {
	var raw rawDeviceStatus
	if err := json.Unmarshal(body, &raw); err != nil {
		return model.DeviceInfo{}, model.GroupInfo{}, lperr.Wrap(lperr.ErrMalformed, "normalize.device_info", err)
	}

	info := model.DeviceInfo{
		UUID:        raw.UUID.String(),
		Name:        DecodeText(raw.DeviceName.String()),
		Model:       raw.Project.String(),
		Firmware:    raw.Firmware.String(),
		MAC:         raw.MAC.String(),
		WmrmVersion: raw.WmrmVersion.String(),
	}
	if info.MAC == "" {
		info.MAC = raw.STAMAC.String()
	}

	// The device's own access point: ssid is plain on recent firmware,
	// essid is the hex form older releases send.
	info.SSID = raw.SSID.String()
	if info.SSID == "" {
		info.SSID = DecodeText(raw.Essid.String())
	}
	if ch, ok := raw.WifiChannel.Int(); ok {
		info.WifiChannel = ch
	}
	if n, ok := raw.PresetKey.Int(); ok {
		info.PresetKey = n
	}
	if mask, ok := raw.PlmSupport.Bits(); ok {
		for _, in := range plmInputs {
			if mask&in.bit != 0 {
				info.InputList = append(info.InputList, string(in.source))
			}
		}
	}
	if n, ok := raw.SlaveNum.Int(); ok {
		info.HasSlaves = n > 0
	}

	group := model.GroupInfo{
		GroupID:    raw.Group.String(),
		MasterUUID: raw.MasterUUID.String(),
		MasterIP:   raw.MasterIP.String(),
	}
	if group.GroupID == "" {
		group.GroupID = "0"
	}
	return info, group, nil
}

type rawSlave struct {
	Name    flexible `json:"name"`
	UUID    flexible `json:"uuid"`
	IP      flexible `json:"ip"`
	Version flexible `json:"version"`
	Volume  flexible `json:"volume"`
	Mute    flexible `json:"mute"`
}

type rawSlaveList struct {
	// Firmware disagrees on this endpoint: most send a count in "slaves"
	// with the entries in "slave_list", some send the entries in "slaves"
	// directly, and masters without slaves may null either field.
	Slaves    json.RawMessage `json:"slaves"`
	SlaveList []rawSlave      `json:"slave_list"`
}

// ParseSlaveList decodes a multiroom:getSlaveList body into the
// authoritative slave list. An empty list is a valid answer meaning the
// device masters nobody.
func ParseSlaveList(body []byte) ([]model.SlaveInfo, error) {
	var raw rawSlaveList
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, lperr.Wrap(lperr.ErrMalformed, "normalize.slave_list", err)
	}

	entries := raw.SlaveList
	if entries == nil && len(raw.Slaves) > 0 && raw.Slaves[0] == '[' {
		if err := json.Unmarshal(raw.Slaves, &entries); err != nil {
			return nil, lperr.Wrap(lperr.ErrMalformed, "normalize.slave_list", err)
		}
	}

	out := make([]model.SlaveInfo, 0, len(entries))
	for _, e := range entries {
		slave := model.SlaveInfo{
			UUID:    e.UUID.String(),
			IP:      e.IP.String(),
			Name:    DecodeText(e.Name.String()),
			Version: e.Version.String(),
		}
		if vol, ok := e.Volume.Int(); ok {
			slave.Volume = ClampVolume(vol)
		}
		if muted, ok := e.Mute.Bool(); ok {
			slave.Muted = muted
		}
		out = append(out, slave)
	}
	return out, nil
}
